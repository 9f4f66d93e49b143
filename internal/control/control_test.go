// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package control_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybscloud/pq/internal/control"
	"github.com/hybscloud/pq/internal/store"
	"github.com/hybscloud/pq/internal/wire"
)

func newTestControl(t *testing.T) *control.Control {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "control-*.pq")
	require.NoError(t, err)
	require.NoError(t, f.Truncate(4096))
	t.Cleanup(func() { f.Close() })
	st, err := store.Open(f, 4096, store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return control.New(st, 4096)
}

func TestFreshThenReadWriteRoundTrip(t *testing.T) {
	c := newTestControl(t)
	cb := control.Fresh("/tmp/q.pq", 4096, 8, 4096, 1<<20, 1<<21, 1<<16, 1000)
	require.NoError(t, c.Write(cb))

	got, err := c.Read()
	require.NoError(t, err)
	assert.Equal(t, cb, got)
}

func TestValidateAcceptsFreshBlock(t *testing.T) {
	cb := control.Fresh("/tmp/q.pq", 4096, 8, 4096, 1<<20, 1<<21, 1<<16, 1000)
	assert.NoError(t, control.Validate(cb))
}

func TestValidateRejectsBadMagic(t *testing.T) {
	cb := control.Fresh("/tmp/q.pq", 4096, 8, 4096, 1<<20, 1<<21, 1<<16, 1000)
	cb.Magic = 0
	assert.ErrorIs(t, control.Validate(cb), control.ErrBadMagic)
}

func TestValidateRejectsBadVersion(t *testing.T) {
	cb := control.Fresh("/tmp/q.pq", 4096, 8, 4096, 1<<20, 1<<21, 1<<16, 1000)
	cb.Version = wire.Version + 1
	assert.ErrorIs(t, control.Validate(cb), control.ErrBadVersion)
}

func TestLockExclusiveThenShared(t *testing.T) {
	c := newTestControl(t)
	unlock, err := c.Lock(true, false)
	require.NoError(t, err)
	require.NoError(t, unlock())

	unlockShared, err := c.Lock(false, false)
	require.NoError(t, err)
	require.NoError(t, unlockShared())
}

func TestIncrementDecrementWriteCount(t *testing.T) {
	cb := control.Fresh("/tmp/q.pq", 4096, 8, 0, 0, 0, 0, 0)
	cb.WriteCount = 0
	require.NoError(t, control.IncrementWriteCount(cb))
	assert.Equal(t, uint32(1), cb.WriteCount)

	control.DecrementWriteCount(cb)
	assert.Equal(t, uint32(0), cb.WriteCount)

	// Floored at zero rather than wrapping negative.
	control.DecrementWriteCount(cb)
	assert.Equal(t, uint32(0), cb.WriteCount)
}

func TestIncrementWriteCountAtLimitFails(t *testing.T) {
	cb := control.Fresh("/tmp/q.pq", 4096, 8, 0, 0, 0, 0, 0)
	cb.WriteCount = 1<<32 - 2
	err := control.IncrementWriteCount(cb)
	assert.ErrorIs(t, err, control.ErrWriteLimit)
	assert.Equal(t, uint32(1<<32-2), cb.WriteCount, "count must not change on failure")
}

func TestUpdateMVRTSetsOnFirstCall(t *testing.T) {
	cb := &wire.ControlBlock{}
	control.UpdateMVRT(cb, 100, 150, 300, 2048, 4)
	require.True(t, cb.MVRTSet)
	assert.Equal(t, int64(150), cb.MVRTus) // base = max(arrival, insertion) = 150
	assert.Equal(t, uint64(2048), cb.MVRTUsageBytes)
	assert.Equal(t, uint64(4), cb.MVRTUsageSlots)
}

func TestUpdateMVRTKeepsSmallerResidency(t *testing.T) {
	cb := &wire.ControlBlock{}
	control.UpdateMVRT(cb, 0, 0, 100, 10, 1) // resid 100
	control.UpdateMVRT(cb, 0, 0, 50, 20, 2)  // resid 50, smaller: replaces
	assert.Equal(t, int64(50), cb.MVRTus)
	assert.Equal(t, uint64(20), cb.MVRTUsageBytes)

	control.UpdateMVRT(cb, 0, 0, 200, 30, 3) // resid 200, larger: ignored
	assert.Equal(t, int64(50), cb.MVRTus)
	assert.Equal(t, uint64(20), cb.MVRTUsageBytes)
}

func TestClearMVRT(t *testing.T) {
	cb := &wire.ControlBlock{}
	control.UpdateMVRT(cb, 0, 0, 100, 10, 1)
	control.ClearMVRT(cb)
	assert.False(t, cb.MVRTSet)
	assert.Equal(t, int64(0), cb.MVRTus)
	assert.Equal(t, uint64(0), cb.MVRTUsageBytes)
	assert.Equal(t, uint64(0), cb.MVRTUsageSlots)
}
