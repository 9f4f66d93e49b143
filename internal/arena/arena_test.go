// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package arena_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybscloud/pq/internal/arena"
	"github.com/hybscloud/pq/internal/wiretest"
)

func newTestArena(t *testing.T, nalloc uint64, seed int64) *arena.Arena {
	t.Helper()
	capTable := arena.Sizing(nalloc)
	mem := wiretest.NewMem(arena.Size(capTable))
	a := arena.New(mem, 0, capTable, seed)
	require.NoError(t, a.Init())
	return a
}

func TestSizingMonotonicallyDecaysPerLevel(t *testing.T) {
	caps := arena.Sizing(10000)
	require.True(t, len(caps) >= 2)
	// Every level's base allocation decays 4x from the one below it; the
	// last level additionally gets the fluctuation-absorbing extra, so
	// it is excluded from the decay check.
	for l := 0; l < len(caps)-2; l++ {
		assert.GreaterOrEqual(t, caps[l], caps[l+1])
	}
}

func TestSizingFloorsSmallLevelsAtFour(t *testing.T) {
	caps := arena.Sizing(1)
	for _, c := range caps {
		assert.GreaterOrEqual(t, c, uint32(4))
	}
}

func TestGetReleaseRoundTrip(t *testing.T) {
	a := newTestArena(t, 1000, 1)

	block, err := a.Get(0)
	require.NoError(t, err)

	inUse, err := a.InUse(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), inUse)

	high, err := a.HighWater(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), high)

	require.NoError(t, a.Release(0, block))
	inUse, err = a.InUse(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), inUse)

	// High-water mark persists across release.
	high, err = a.HighWater(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), high)
}

func TestGetExhaustsLevel(t *testing.T) {
	a := newTestArena(t, 1, 2)
	blockCap := a.Capacity(0)
	for i := uint32(0); i < blockCap; i++ {
		_, err := a.Get(0)
		require.NoError(t, err)
	}
	_, err := a.Get(0)
	assert.ErrorIs(t, err, arena.ErrExhausted)
}

func TestSetPtrGetPtrRoundTrip(t *testing.T) {
	a := newTestArena(t, 1000, 3)
	block, err := a.Get(2)
	require.NoError(t, err)

	require.NoError(t, a.SetPtr(2, block, 1, 777))
	got, err := a.GetPtr(2, block, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(777), got)
}

func TestRandomLevelNeverExceedsMax(t *testing.T) {
	a := newTestArena(t, 1000, 4)
	for i := 0; i < 10000; i++ {
		lvl := a.RandomLevel()
		assert.GreaterOrEqual(t, lvl, 0)
		assert.Less(t, lvl, a.Levels())
	}
}

func TestSameSeedReproducesSameSequence(t *testing.T) {
	a1 := newTestArena(t, 1000, 42)
	a2 := newTestArena(t, 1000, 42)
	for i := 0; i < 100; i++ {
		assert.Equal(t, a1.RandomLevel(), a2.RandomLevel())
	}
}
