// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pq

import (
	"fmt"

	"github.com/hybscloud/pq/internal/control"
	"github.com/hybscloud/pq/internal/wire"
)

// Stats returns a snapshot of the queue's usage counters and high-water
// marks (§4.9 "stats", §6.2).
func (q *Queue) Stats() (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var st Stats
	err := q.readLocked(func(cb *wire.ControlBlock) error {
		nelems, nfree, nempty, err := q.region.Counts()
		if err != nil {
			return err
		}
		st.Nelems = nelems
		st.Nfree = nfree
		st.Nempty = nempty
		st.Nalloc = nelems + nfree + nempty
		st.HighWaterBytes = cb.HighWaterBytes
		st.MaxProducts = cb.MaxProducts
		st.MostRecentUS = cb.MostRecentUS
		st.MVRTSet = cb.MVRTSet
		st.MVRTus = cb.MVRTus
		st.MVRTUsageBytes = cb.MVRTUsageBytes
		st.MVRTUsageSlots = cb.MVRTUsageSlots
		st.FullQueue = cb.FullQueue
		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	st.ArenaHighWater = make([]uint64, q.arena.Levels())
	for lvl := 0; lvl < q.arena.Levels(); lvl++ {
		hw, err := q.arena.HighWater(lvl)
		if err != nil {
			return Stats{}, err
		}
		st.ArenaHighWater[lvl] = uint64(hw)
	}
	return st, nil
}

// Highwater returns the peak number of data-area bytes ever allocated at
// once (§4.9 "get_highwater").
func (q *Queue) Highwater() (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var hw uint64
	err := q.readLocked(func(cb *wire.ControlBlock) error {
		hw = cb.HighWaterBytes
		return nil
	})
	return hw, err
}

// IsFull reports whether the data area has no free extent large enough
// for a minimal allocation, as recorded after the most recent commit
// (§4.9 "is_full").
func (q *Queue) IsFull() (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var full bool
	err := q.readLocked(func(cb *wire.ControlBlock) error {
		full = cb.FullQueue
		return nil
	})
	return full, err
}

// GetMostRecent returns the insertion time of the most recently
// committed product, or -1 if the queue has never received one (§4.9
// "get_most_recent").
func (q *Queue) GetMostRecent() (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var us int64
	err := q.readLocked(func(cb *wire.ControlBlock) error {
		us = cb.MostRecentUS
		return nil
	})
	return us, err
}

// GetMVRTMetrics returns the minimum virtual residence time observed
// since the queue was created or last cleared, along with the data-area
// usage snapshot taken at that eviction (§4.5, §4.9 "get_mvrt_metrics").
// ok is false if no eviction has happened yet.
func (q *Queue) GetMVRTMetrics() (us int64, usageBytes, usageSlots uint64, ok bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rerr := q.readLocked(func(cb *wire.ControlBlock) error {
		us, usageBytes, usageSlots, ok = cb.MVRTus, cb.MVRTUsageBytes, cb.MVRTUsageSlots, cb.MVRTSet
		return nil
	})
	if rerr != nil {
		return 0, 0, 0, false, rerr
	}
	return us, usageBytes, usageSlots, ok, nil
}

// ClearMVRTMetrics resets the MVRT tracking fields (§4.9
// "clear_mvrt_metrics").
func (q *Queue) ClearMVRTMetrics() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.mutate(func(cb *wire.ControlBlock) error {
		control.ClearMVRT(cb)
		return nil
	})
}

// GetSlotCount returns the queue's logical product capacity (§4.9
// "get_slot_count").
func (q *Queue) GetSlotCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.opts.capacity
}

// GetDataSize returns the size in bytes of the data area (§4.9
// "get_datasize").
func (q *Queue) GetDataSize() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.geo.dataSize
}

// GetPagesize returns the host page size the queue was created with.
func (q *Queue) GetPagesize() (uint32, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var ps uint32
	err := q.readLocked(func(cb *wire.ControlBlock) error {
		ps = cb.PageSize
		return nil
	})
	return ps, err
}

// GetWriteCount returns the number of processes that currently have the
// queue open for writing (§4.9 "get_writecount").
func (q *Queue) GetWriteCount() (uint32, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var wc uint32
	err := q.readLocked(func(cb *wire.ControlBlock) error {
		wc = cb.WriteCount
		return nil
	})
	return wc, err
}

// ClearWriteCount forcibly resets the write-count to zero, for recovery
// after a writer crashed without running its Close (§4.9
// "clear_writecount"). Callers must be certain no other writer is
// actually still attached; this package cannot verify that for them.
func (q *Queue) ClearWriteCount() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("%w: queue closed", ErrInvalid)
	}
	return q.mutate(func(cb *wire.ControlBlock) error {
		cb.WriteCount = 0
		return nil
	})
}
