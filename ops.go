// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pq

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hybscloud/pq/internal/control"
	"github.com/hybscloud/pq/internal/product"
	"github.com/hybscloud/pq/internal/region"
	"github.com/hybscloud/pq/internal/sigindex"
	"github.com/hybscloud/pq/internal/timeindex"
	"github.com/hybscloud/pq/internal/wire"
)

// maxEvictionScanCap bounds how many *locked* eviction candidates
// allocateRegion will skip over in one call before giving up with [ErrAccess]
// (design notes, open question i).
const maxEvictionScanCap = 4096

func maxEvictionScan(capacity uint64) int {
	if capacity < maxEvictionScanCap {
		return int(capacity) + 1
	}
	return maxEvictionScanCap
}

// alignRequired rounds n up to the control block's alignment unit.
func alignRequired(n uint64, align uint32) uint64 {
	return alignUp(n, uint64(align))
}

// Insert encodes product, reserving a region for the encoded record
// (header + payload, rounded up to the alignment unit) and committing
// it in one step
// (§4.9 "insert" — the encode-then-copy path, §2). A duplicate
// signature is reported as [ErrDup] but leaves the queue unchanged,
// matching the duplicate-suppression convention (§7).
func (q *Queue) Insert(p Product) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("%w: queue closed", ErrInvalid)
	}

	pm := product.Metadata{
		Origin:    p.Origin,
		Ident:     p.Ident,
		Feedtype:  p.Feedtype,
		Seqno:     p.Seqno,
		ArrivalUS: p.ArrivalUS,
		Size:      uint32(len(p.Data)),
		Signature: p.Signature,
	}
	record := product.Encode(pm, p.Data)

	if uint64(len(record)) > q.geo.dataSize {
		return ErrBig
	}

	err := q.mutate(func(cb *wire.ControlBlock) error {
		if _, _, err := q.sig.Find(p.Signature); err == nil {
			return ErrDup
		} else if !errors.Is(err, sigindex.ErrNotFound) {
			return err
		}

		required := alignRequired(uint64(len(record)), cb.Align)
		slot, offset, extent, err := q.allocateRegion(cb, required)
		if err != nil {
			return err
		}
		if err := q.st.WriteAt(int64(q.geo.dataOffset+offset), record); err != nil {
			return err
		}
		if err := q.region.SetProductMeta(slot, p.Signature, p.ArrivalUS); err != nil {
			return err
		}
		if _, err := q.sig.Add(p.Signature, slot); err != nil {
			return fmt.Errorf("%w: %v", ErrAccess, err)
		}
		_, err = q.commitTime(cb, slot, extent)
		return err
	})
	if err != nil {
		return err
	}
	q.wake()
	return nil
}

// commitTime adds the time-index entry for an already-allocated,
// already-tagged slot and updates the control block's bookkeeping
// fields. Shared by Insert and Commit.
func (q *Queue) commitTime(cb *wire.ControlBlock, slot uint32, extent uint64) (int64, error) {
	idx, key, err := q.time.Add(slot, q.clock)
	if err != nil {
		if errors.Is(err, timeindex.ErrExhausted) || errors.Is(err, timeindex.ErrClockStuck) {
			return 0, fmt.Errorf("%w: %v", ErrAccess, err)
		}
		return 0, err
	}
	_ = idx
	if err := q.region.SetTimeKey(slot, key); err != nil {
		return 0, err
	}
	cb.MostRecentUS = key
	cb.Nelems++
	cb.UsedBytes += extent
	if cb.UsedBytes > cb.HighWaterBytes {
		cb.HighWaterBytes = cb.UsedBytes
	}
	if cb.Nelems > cb.MaxProducts {
		cb.MaxProducts = cb.Nelems
	}
	maxFree, ferr := q.region.MaxFreeExtent()
	if ferr != nil {
		return 0, ferr
	}
	cb.FullQueue = maxFree == 0
	return key, nil
}

// allocateRegion obtains a free region of at least required bytes,
// evicting the oldest unheld products (oldest-first, §5 "Ordering
// guarantees") until one exists or eviction is exhausted (§4.3
// "make_room"). Caller must already hold the control-block exclusive
// lock (i.e. be inside [Queue.mutate]).
func (q *Queue) allocateRegion(cb *wire.ControlBlock, required uint64) (slot uint32, offset, extent uint64, err error) {
	scanned := 0
	limit := maxEvictionScan(cb.Capacity)
	for {
		slot, offset, extent, err = q.region.Get(required)
		if err == nil {
			return slot, offset, extent, nil
		}
		if !errors.Is(err, region.ErrNoFit) && !errors.Is(err, region.ErrFull) {
			return 0, 0, 0, err
		}

		idx, ferr := q.time.First()
		if errors.Is(ferr, timeindex.ErrNotFound) {
			return 0, 0, 0, ErrAccess
		}
		if ferr != nil {
			return 0, 0, 0, ferr
		}

		evicted := false
		for {
			node, nerr := q.time.Node(idx)
			if nerr != nil {
				return 0, 0, 0, nerr
			}
			rs, rerr := q.region.Slot(node.RegionSlot)
			if rerr != nil {
				return 0, 0, 0, rerr
			}
			free, cerr := q.regionIsFree(rs.Offset, rs.Extent)
			if cerr != nil {
				return 0, 0, 0, cerr
			}
			if free {
				if err := q.evict(cb, idx, node.RegionSlot, rs); err != nil {
					return 0, 0, 0, err
				}
				evicted = true
				break
			}
			scanned++
			if scanned >= limit {
				return 0, 0, 0, ErrAccess
			}
			next, nerr2 := q.time.Next(idx)
			if errors.Is(nerr2, timeindex.ErrNotFound) {
				return 0, 0, 0, ErrAccess
			}
			if nerr2 != nil {
				return 0, 0, 0, nerr2
			}
			idx = next
		}
		if !evicted {
			return 0, 0, 0, ErrAccess
		}
	}
}

// evict deletes the committed product at time-index entry timeIdx
// (backed by region slot regionSlot, whose decoded form is rs),
// updating MVRT and the control block's usage counters (§4.5, §4.3
// "put"). Caller must hold the region's lock-free guarantee already
// established by [Queue.regionIsFree] and the control-block exclusive
// lock.
func (q *Queue) evict(cb *wire.ControlBlock, timeIdx uint32, regionSlot uint32, rs *wire.RegionSlot) error {
	now := q.clock()
	control.UpdateMVRT(cb, rs.ArrivalUS, rs.TimeKey, now, cb.UsedBytes-rs.Extent, cb.Nelems-1)

	if _, err := q.sig.FindDelete(rs.Signature); err != nil {
		return err
	}
	if err := q.time.Delete(timeIdx); err != nil {
		return err
	}
	if err := q.region.Put(regionSlot); err != nil {
		return err
	}
	cb.Nelems--
	cb.UsedBytes -= rs.Extent
	return nil
}

// Reserve allocates a region sized for a product.HeaderLen-prefixed
// record of size payload bytes under signature (§4.9 "reserve"),
// returning a process-local buffer the caller fills in; it is not a
// view into the backing store, and [Queue.Commit] copies it into the
// region. No lock on the region is held between Reserve and
// Commit/Discard. Exactly one of [Queue.Commit] or [Queue.Discard] must
// follow.
func (q *Queue) Reserve(size uint32, signature [16]byte) (*Reservation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, fmt.Errorf("%w: queue closed", ErrInvalid)
	}

	recordLen := product.EncodedLen(int(size))
	if uint64(recordLen) > q.geo.dataSize {
		return nil, ErrBig
	}

	var r *Reservation
	err := q.mutate(func(cb *wire.ControlBlock) error {
		if _, _, err := q.sig.Find(signature); err == nil {
			return ErrDup
		} else if !errors.Is(err, sigindex.ErrNotFound) {
			return err
		}
		required := alignRequired(uint64(recordLen), cb.Align)
		slot, offset, extent, err := q.allocateRegion(cb, required)
		if err != nil {
			return err
		}
		if err := q.region.SetProductMeta(slot, signature, 0); err != nil {
			return err
		}
		if _, err := q.sig.Add(signature, slot); err != nil {
			return fmt.Errorf("%w: %v", ErrAccess, err)
		}
		r = &Reservation{
			slot:   slot,
			offset: offset,
			extent: extent,
			meta:   product.Metadata{Signature: signature, Size: size},
			buf:    make([]byte, size),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Commit finalizes a reservation: encodes meta (with meta.Signature
// overridden by the signature the reservation was opened with) plus
// the bytes the caller wrote into r.Bytes(), persists the record, adds
// the time-index entry, and wakes consumers (§4.9 "commit").
func (q *Queue) Commit(r *Reservation, meta Metadata) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if r == nil || r.done {
		return fmt.Errorf("%w: reservation already finalized", ErrInvalid)
	}
	r.done = true

	pm := product.Metadata{
		Origin:    meta.Origin,
		Ident:     meta.Ident,
		Feedtype:  meta.Feedtype,
		Seqno:     meta.Seqno,
		ArrivalUS: meta.ArrivalUS,
		Size:      uint32(len(r.buf)),
		Signature: r.meta.Signature,
	}
	record := product.Encode(pm, r.buf)

	err := q.mutate(func(cb *wire.ControlBlock) error {
		if err := q.st.WriteAt(int64(q.geo.dataOffset+r.offset), record); err != nil {
			return err
		}
		if err := q.region.SetProductMeta(r.slot, pm.Signature, pm.ArrivalUS); err != nil {
			return err
		}
		_, err := q.commitTime(cb, r.slot, r.extent)
		return err
	})
	if err != nil {
		return err
	}
	q.wake()
	return nil
}

// Discard reverses a reservation, returning its region to the free
// list and its signature entry to the free pool (§4.9 "discard").
func (q *Queue) Discard(r *Reservation) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if r == nil || r.done {
		return fmt.Errorf("%w: reservation already finalized", ErrInvalid)
	}
	r.done = true

	return q.mutate(func(cb *wire.ControlBlock) error {
		if _, err := q.sig.FindDelete(r.meta.Signature); err != nil {
			return err
		}
		if err := q.region.Put(r.slot); err != nil {
			return err
		}
		return nil
	})
}

// DeleteBySignature removes the product matching sig from all three
// indexes, coalescing its region back into the free list (§4.9
// "delete_by_signature"). Returns [ErrLocked] if the product is
// currently held by a [Queue.SequenceLock] lease anywhere (this
// process or another).
func (q *Queue) DeleteBySignature(sig [16]byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("%w: queue closed", ErrInvalid)
	}
	return q.mutate(func(cb *wire.ControlBlock) error {
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
			slog.Warn("pq: sigindex points at non-in-use slot", "slot", regionSlot, "state", rs.State)
			return ErrCorrupt
		}
		free, ferr := q.regionIsFree(rs.Offset, rs.Extent)
		if ferr != nil {
			return ferr
		}
		if !free {
			return ErrLocked
		}
		timeIdx, err := q.time.Find(rs.TimeKey, timeindex.EQ)
		if err != nil {
			if errors.Is(err, timeindex.ErrNotFound) {
				// Reserved-but-uncommitted: no time entry yet.
				if _, derr := q.sig.FindDelete(sig); derr != nil {
					return derr
				}
				return q.region.Put(regionSlot)
			}
			return err
		}
		return q.evict(cb, timeIdx, regionSlot, rs)
	})
}
