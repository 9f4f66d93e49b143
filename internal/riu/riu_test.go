// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package riu_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybscloud/pq/internal/riu"
)

func TestGetFindRelease(t *testing.T) {
	tab := riu.New()
	e, err := tab.Get(100, 50, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), e.Offset)
	assert.Equal(t, uint64(50), e.Extent)
	assert.Equal(t, uint32(3), e.Slot)

	found, ok := tab.Find(100)
	require.True(t, ok)
	assert.Same(t, e, found)

	require.NoError(t, tab.Release(100))
	_, ok = tab.Find(100)
	assert.False(t, ok)
}

func TestGetRecursiveSameOffsetFails(t *testing.T) {
	tab := riu.New()
	_, err := tab.Get(200, 10, 1)
	require.NoError(t, err)
	_, err = tab.Get(200, 10, 1)
	assert.ErrorIs(t, err, riu.ErrRecursive)
}

func TestReleaseMissingOffsetFails(t *testing.T) {
	tab := riu.New()
	err := tab.Release(999)
	assert.ErrorIs(t, err, riu.ErrNotFound)
}

func TestHoldUnholdIsHeld(t *testing.T) {
	tab := riu.New()
	_, err := tab.Get(10, 5, 0)
	require.NoError(t, err)

	assert.False(t, tab.IsHeld(10))
	tab.Hold(10)
	assert.True(t, tab.IsHeld(10))
	tab.Hold(10)
	tab.Unhold(10)
	assert.True(t, tab.IsHeld(10), "second hold still outstanding")
	tab.Unhold(10)
	assert.False(t, tab.IsHeld(10))
}

func TestUnholdBelowZeroIsNoop(t *testing.T) {
	tab := riu.New()
	_, err := tab.Get(10, 5, 0)
	require.NoError(t, err)
	tab.Unhold(10)
	assert.False(t, tab.IsHeld(10))
}

func TestEntriesStayOffsetSorted(t *testing.T) {
	tab := riu.New()
	offsets := []uint64{300, 100, 200}
	for _, off := range offsets {
		_, err := tab.Get(off, 1, 0)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, tab.Len())
	for _, off := range offsets {
		_, ok := tab.Find(off)
		assert.True(t, ok)
	}
}

func TestIsHeldFalseForUntrackedOffset(t *testing.T) {
	tab := riu.New()
	assert.False(t, tab.IsHeld(42))
}
