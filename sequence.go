// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pq

import (
	"errors"
	"fmt"
	"math"

	"github.com/hybscloud/pq/internal/product"
	"github.com/hybscloud/pq/internal/sigindex"
	"github.com/hybscloud/pq/internal/timeindex"
	"github.com/hybscloud/pq/internal/wire"
)

// sentinel bounds for an unset cursor: GT starts before the oldest
// product, LT starts after the newest (§4.9 "sequence").
const (
	sentinelBeforeFirst = math.MinInt64 + 1
	sentinelAfterLast   = math.MaxInt64 - 1
)

// SetCursor repositions the queue's time cursor explicitly.
func (q *Queue) SetCursor(c Cursor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cursor = c
}

// GetOldestCursor returns a cursor positioned just before the oldest
// committed product, or the zero (unset) cursor if the queue is empty.
func (q *Queue) GetOldestCursor() (Cursor, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx, err := q.time.First()
	if errors.Is(err, timeindex.ErrNotFound) {
		return Cursor{}, nil
	}
	if err != nil {
		return Cursor{}, err
	}
	node, err := q.time.Node(idx)
	if err != nil {
		return Cursor{}, err
	}
	return CursorAt(node.KeyUS - 1), nil
}

// readAt locks the data region at (offset, extent) and decodes the
// product record stored there. wait controls whether the shared lock
// blocks or fails immediately with [ErrAccess].
func (q *Queue) readAt(offset, extent uint64, wait bool) (meta Metadata, data []byte, unlock func() error, err error) {
	unlock, err = q.lockRegion(offset, extent, false, wait)
	if err != nil {
		return Metadata{}, nil, nil, err
	}
	buf := make([]byte, extent)
	if rerr := q.st.ReadAt(int64(q.geo.dataOffset+offset), buf); rerr != nil {
		unlock()
		return Metadata{}, nil, nil, rerr
	}
	pm, payload, derr := product.Decode(buf)
	if derr != nil {
		unlock()
		return Metadata{}, nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, derr)
	}
	return Metadata{
		Origin:    pm.Origin,
		Ident:     pm.Ident,
		Feedtype:  pm.Feedtype,
		Seqno:     pm.Seqno,
		ArrivalUS: pm.ArrivalUS,
		Size:      pm.Size,
		Signature: pm.Signature,
	}, payload, unlock, nil
}

// advance resolves the next time-index entry from the cursor in
// direction dir, returning its node index, decoded node, and the
// region slot it refers to.
func (q *Queue) advance(dir Direction) (idx uint32, node *wire.TimeNode, rs *wire.RegionSlot, err error) {
	key := q.cursor.us
	if !q.cursor.set {
		switch dir {
		case GT:
			key = sentinelBeforeFirst
		case LT:
			key = sentinelAfterLast
		default:
			return 0, nil, nil, fmt.Errorf("%w: cursor must be set for EQ", ErrInvalid)
		}
	}
	idx, err = q.time.Find(key, timeindex.Mode(dir))
	if err != nil {
		if errors.Is(err, timeindex.ErrNotFound) {
			return 0, nil, nil, ErrEnd
		}
		return 0, nil, nil, err
	}
	node, err = q.time.Node(idx)
	if err != nil {
		return 0, nil, nil, err
	}
	rs, err = q.region.Slot(node.RegionSlot)
	if err != nil {
		return 0, nil, nil, err
	}
	return idx, node, rs, nil
}

func rewoundCursor(dir Direction, keyUS int64) Cursor {
	switch dir {
	case GT:
		return CursorAt(keyUS - 1)
	case LT:
		return CursorAt(keyUS + 1)
	default:
		return CursorAt(keyUS)
	}
}

// Sequence advances the cursor by exactly one time-index entry in
// direction dir and, if that entry's metadata matches filter, invokes
// callback with its decoded metadata and payload (§4.9 "sequence").
// Returns [ErrEnd] if no further entry exists in that direction. A
// non-matching entry still advances the cursor — callers scanning with
// a filter must call Sequence in a loop, matching the "pull iterator"
// model in the design notes. On a callback error, the cursor is
// rewound by one resolution tick so the same entry is revisited next
// call, and that error is returned to the caller.
func (q *Queue) Sequence(dir Direction, filter ClassFilter, callback SequenceCallback) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("%w: queue closed", ErrInvalid)
	}

	idx, node, rs, err := q.advance(dir)
	if err != nil {
		return err
	}
	q.cursor = CursorAt(node.KeyUS)

	meta, data, unlock, err := q.readAt(rs.Offset, rs.Extent, true)
	if err != nil {
		return err
	}
	defer unlock()

	if !filter.Match(meta) {
		return nil
	}
	if cbErr := callback(meta, data); cbErr != nil {
		q.cursor = rewoundCursor(dir, node.KeyUS)
		return cbErr
	}
	_ = idx
	return nil
}

// SequenceLock behaves like [Queue.Sequence], except a matching entry's
// region remains locked after the call returns; the caller MUST later
// call [Queue.Release] with the returned [Lease]. A non-matching entry
// (or the end-of-queue/error cases) returns a zero Lease.
func (q *Queue) SequenceLock(dir Direction, filter ClassFilter, callback SequenceCallback) (Lease, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Lease{}, fmt.Errorf("%w: queue closed", ErrInvalid)
	}

	idx, node, rs, err := q.advance(dir)
	if err != nil {
		return Lease{}, err
	}
	q.cursor = CursorAt(node.KeyUS)

	meta, data, unlock, err := q.readAt(rs.Offset, rs.Extent, true)
	if err != nil {
		return Lease{}, err
	}
	_ = idx

	if !filter.Match(meta) {
		unlock()
		return Lease{}, nil
	}
	if cbErr := callback(meta, data); cbErr != nil {
		unlock()
		q.cursor = rewoundCursor(dir, node.KeyUS)
		return Lease{}, cbErr
	}

	q.holdLease(rs.Offset, rs.Extent, node.RegionSlot, unlock)
	return Lease{slot: node.RegionSlot, offset: rs.Offset}, nil
}

// holdLease registers a process-local lease on offset, reusing the
// already-held OS lock if this process already holds one (e.g. two
// SequenceLock matches land on the same region across cursor resets),
// or storing the freshly acquired unlock func otherwise.
func (q *Queue) holdLease(offset, extent uint64, slot uint32, unlock func() error) {
	if _, err := q.riu.Get(offset, extent, slot); err == nil {
		q.leases[offset] = unlock
	}
	// Otherwise the region is already tracked by this process. fcntl
	// locks belong to the process, so the shared lock just taken merged
	// with the one the existing lease holds; calling its unlock would
	// release that lease's lock too, so it is left uncalled and only the
	// hold counter is bumped below.
	q.riu.Hold(offset)
}

// Release ends a [Lease] obtained from [Queue.SequenceLock], making the
// region eligible for eviction again once no other lease on it remains.
func (q *Queue) Release(l Lease) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.riu.IsHeld(l.offset) {
		return fmt.Errorf("%w: no outstanding lease at this offset", ErrInvalid)
	}
	q.riu.Unhold(l.offset)
	if q.riu.IsHeld(l.offset) {
		return nil
	}
	if unlock, ok := q.leases[l.offset]; ok {
		delete(q.leases, l.offset)
		if err := unlock(); err != nil {
			return err
		}
	}
	return q.riu.Release(l.offset)
}

// SetCursorFromSignature positions the cursor at the insertion time of
// the product matching sig (§4.9 "set_cursor_from_signature"). Uses the
// O(1) region-slot back-pointer (design notes, open question iv);
// falls back to a linear scan of the time index only if that
// back-pointer disagrees with the time index, which is reported as
// [ErrCorrupt] regardless of whether the fallback recovers a cursor.
func (q *Queue) SetCursorFromSignature(sig [16]byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("%w: queue closed", ErrInvalid)
	}

	_, regionSlot, err := q.sig.Find(sig)
	if err != nil {
		if errors.Is(err, sigindex.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	rs, err := q.region.Slot(regionSlot)
	if err != nil {
		return err
	}
	if rs.State != wire.SlotInUse {
		return ErrCorrupt
	}

	idx, ferr := q.time.Find(rs.TimeKey, timeindex.EQ)
	if ferr == nil {
		node, nerr := q.time.Node(idx)
		if nerr == nil && node.RegionSlot == regionSlot {
			q.cursor = CursorAt(rs.TimeKey)
			return nil
		}
	}

	// Defensive fallback: the region slot's own back-pointer disagreed
	// with the time index. Scan the whole time index once (subsuming
	// both the "forward" and "full-queue" passes from the design
	// notes, since this path only exists for an already-detected
	// inconsistency) to see if the product is findable at all.
	found, scanErr := q.scanTimeIndexForSlot(regionSlot)
	if scanErr != nil {
		return scanErr
	}
	if found {
		return ErrCorrupt
	}
	return fmt.Errorf("%w: region slot has no time entry", ErrCorrupt)
}

func (q *Queue) scanTimeIndexForSlot(regionSlot uint32) (found bool, err error) {
	idx, ferr := q.time.First()
	for {
		if errors.Is(ferr, timeindex.ErrNotFound) {
			return false, nil
		}
		if ferr != nil {
			return false, ferr
		}
		node, nerr := q.time.Node(idx)
		if nerr != nil {
			return false, nerr
		}
		if node.RegionSlot == regionSlot {
			q.cursor = CursorAt(node.KeyUS)
			return true, nil
		}
		idx, ferr = q.time.Next(idx)
	}
}
