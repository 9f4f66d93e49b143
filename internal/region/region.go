// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package region implements the data-area region allocator (RL): a
// best-fit allocator with coalesce-on-free backed by two skip lists
// (free regions ordered by offset, free regions ordered by extent then
// offset) and an open-chained hash table mapping offset to in-use
// region for O(1) lookup. Eviction (deleting the oldest unlocked
// product to make room) is orchestrated by the caller, which has
// access to the time index and the in-use-region table; this package
// only provides the allocate/free/find primitives.
package region

import (
	"errors"
	"math"

	"github.com/hybscloud/pq/internal/arena"
	"github.com/hybscloud/pq/internal/wire"
)

// ErrNoFit is returned by Get when no free region is large enough.
var ErrNoFit = errors.New("region: no free region large enough")

// ErrFull reports that the region-slot table itself has no empty slot
// to hand out (distinct from ErrNoFit: there may be plenty of free bytes
// but no slot left to describe a split remainder). Get does not return
// it: with no empty slot for the remainder, Get hands back the whole
// free region unsplit.
var ErrFull = errors.New("region: no empty region slot")

// ErrNotFound is returned by Find when no in-use region has the given offset.
var ErrNotFound = errors.New("region: not found")

const (
	sentinelCount = 4
)

// Region manages the free/in-use region-slot table for a queue's data area.
type Region struct {
	backend     wire.Accessor
	headerBase  int64 // empty-free-list head word
	bucketBase  int64
	bucketCount uint32
	slotBase    int64
	nalloc      uint64 // real (non-sentinel) slot count
	arena       *arena.Arena
	splitSlack  uint32

	offsetHead uint32
	offsetNil  uint32
	extentHead uint32
	extentNil  uint32
}

// Size returns the number of bytes the region table (header, hash
// buckets, and nalloc+4 slots) occupies on disk, not counting the
// shared arena pool.
func Size(nalloc uint64) int64 {
	buckets := bucketCount(nalloc)
	return 4 + int64(buckets)*4 + int64(nalloc+sentinelCount)*wire.RegionSlotSize
}

func bucketCount(nalloc uint64) uint32 {
	if nalloc < 1 {
		return 1
	}
	return uint32(nalloc)
}

// New wraps an already-laid-out region-table area.
func New(backend wire.Accessor, base int64, nalloc uint64, a *arena.Arena, splitSlack uint32) *Region {
	buckets := bucketCount(nalloc)
	r := &Region{
		backend:     backend,
		headerBase:  base,
		bucketBase:  base + 4,
		bucketCount: buckets,
		slotBase:    base + 4 + int64(buckets)*4,
		nalloc:      nalloc,
		arena:       a,
		splitSlack:  splitSlack,
		offsetHead:  uint32(nalloc),
		offsetNil:   uint32(nalloc) + 1,
		extentHead:  uint32(nalloc) + 2,
		extentNil:   uint32(nalloc) + 3,
	}
	return r
}

// Init creates a single free region spanning [0, dataSize) and marks
// every other real slot empty.
func (r *Region) Init(dataSize uint64) error {
	for b := uint32(0); b < r.bucketCount; b++ {
		if err := r.writeBucket(b, wire.NilIndex); err != nil {
			return err
		}
	}

	topOff, err := r.arena.Get(r.arena.Levels() - 1)
	if err != nil {
		return err
	}
	topExt, err := r.arena.Get(r.arena.Levels() - 1)
	if err != nil {
		return err
	}
	for l := 0; l < r.arena.Levels(); l++ {
		if err := r.arena.SetPtr(r.arena.Levels()-1, topOff, l, r.offsetNil); err != nil {
			return err
		}
		if err := r.arena.SetPtr(r.arena.Levels()-1, topExt, l, r.extentNil); err != nil {
			return err
		}
	}
	if err := r.writeSlot(r.offsetHead, &wire.RegionSlot{OffsetArena: topOff, OffsetLevel: uint8(r.arena.Levels() - 1)}); err != nil {
		return err
	}
	if err := r.writeSlot(r.offsetNil, &wire.RegionSlot{Offset: math.MaxUint64}); err != nil {
		return err
	}
	if err := r.writeSlot(r.extentHead, &wire.RegionSlot{ExtentArena: topExt, ExtentLevel: uint8(r.arena.Levels() - 1)}); err != nil {
		return err
	}
	if err := r.writeSlot(r.extentNil, &wire.RegionSlot{Extent: math.MaxUint64, Offset: math.MaxUint64}); err != nil {
		return err
	}

	if r.nalloc == 0 {
		return r.writeEmptyHead(wire.NilIndex)
	}
	for i := uint64(1); i < r.nalloc; i++ {
		next := uint32(i) + 1
		if i == r.nalloc-1 {
			next = wire.NilIndex
		}
		if err := r.writeSlot(uint32(i), &wire.RegionSlot{State: wire.SlotEmpty, NextEmpty: next}); err != nil {
			return err
		}
	}
	if err := r.writeEmptyHead(1); err != nil {
		return err
	}

	if dataSize == 0 {
		return nil
	}
	root := wire.RegionSlot{State: wire.SlotFree, Offset: 0, Extent: dataSize}
	return r.insertFreeList(0, &root)
}

func (r *Region) slotOffset(idx uint32) int64 { return r.slotBase + int64(idx)*wire.RegionSlotSize }

func (r *Region) readSlot(idx uint32) (*wire.RegionSlot, error) {
	buf := make([]byte, wire.RegionSlotSize)
	if err := r.backend.ReadAt(r.slotOffset(idx), buf); err != nil {
		return nil, err
	}
	s := &wire.RegionSlot{}
	s.Decode(buf)
	return s, nil
}

func (r *Region) writeSlot(idx uint32, s *wire.RegionSlot) error {
	buf := make([]byte, wire.RegionSlotSize)
	s.Encode(buf)
	return r.backend.WriteAt(r.slotOffset(idx), buf)
}

func (r *Region) readEmptyHead() (uint32, error) {
	buf := make([]byte, 4)
	if err := r.backend.ReadAt(r.headerBase, buf); err != nil {
		return 0, err
	}
	return wire.DecodeArenaPtr(buf), nil
}

func (r *Region) writeEmptyHead(v uint32) error {
	buf := make([]byte, 4)
	wire.EncodeArenaPtr(buf, v)
	return r.backend.WriteAt(r.headerBase, buf)
}

func (r *Region) readBucket(b uint32) (uint32, error) {
	buf := make([]byte, 4)
	if err := r.backend.ReadAt(r.bucketBase+int64(b)*4, buf); err != nil {
		return 0, err
	}
	return wire.DecodeBucket(buf), nil
}

func (r *Region) writeBucket(b uint32, v uint32) error {
	buf := make([]byte, 4)
	wire.EncodeBucket(buf, v)
	return r.backend.WriteAt(r.bucketBase+int64(b)*4, buf)
}

// --- offset-ordered skip list ---

func (r *Region) offsetForwardAt(idx uint32, level int) (uint32, error) {
	s, err := r.readSlot(idx)
	if err != nil {
		return 0, err
	}
	if int(s.OffsetLevel) < level {
		return r.offsetNil, nil
	}
	return r.arena.GetPtr(int(s.OffsetLevel), s.OffsetArena, level)
}

func (r *Region) offsetSetForwardAt(idx uint32, level int, value uint32) error {
	s, err := r.readSlot(idx)
	if err != nil {
		return err
	}
	return r.arena.SetPtr(int(s.OffsetLevel), s.OffsetArena, level, value)
}

func (r *Region) searchPredsOffset(offset uint64) ([]uint32, error) {
	preds := make([]uint32, r.arena.Levels())
	cur := r.offsetHead
	for l := r.arena.Levels() - 1; l >= 0; l-- {
		for {
			next, err := r.offsetForwardAt(cur, l)
			if err != nil {
				return nil, err
			}
			if next == r.offsetNil {
				break
			}
			nextSlot, err := r.readSlot(next)
			if err != nil {
				return nil, err
			}
			if nextSlot.Offset >= offset {
				break
			}
			cur = next
		}
		preds[l] = cur
	}
	return preds, nil
}

// --- extent-then-offset-ordered skip list ---

func (r *Region) extentForwardAt(idx uint32, level int) (uint32, error) {
	s, err := r.readSlot(idx)
	if err != nil {
		return 0, err
	}
	if int(s.ExtentLevel) < level {
		return r.extentNil, nil
	}
	return r.arena.GetPtr(int(s.ExtentLevel), s.ExtentArena, level)
}

func (r *Region) extentSetForwardAt(idx uint32, level int, value uint32) error {
	s, err := r.readSlot(idx)
	if err != nil {
		return err
	}
	return r.arena.SetPtr(int(s.ExtentLevel), s.ExtentArena, level, value)
}

func less(ext1, off1, ext2, off2 uint64) bool {
	if ext1 != ext2 {
		return ext1 < ext2
	}
	return off1 < off2
}

func (r *Region) searchPredsExtent(extent, offset uint64) ([]uint32, error) {
	preds := make([]uint32, r.arena.Levels())
	cur := r.extentHead
	for l := r.arena.Levels() - 1; l >= 0; l-- {
		for {
			next, err := r.extentForwardAt(cur, l)
			if err != nil {
				return nil, err
			}
			if next == r.extentNil {
				break
			}
			nextSlot, err := r.readSlot(next)
			if err != nil {
				return nil, err
			}
			if !less(nextSlot.Extent, nextSlot.Offset, extent, offset) {
				break
			}
			cur = next
		}
		preds[l] = cur
	}
	return preds, nil
}

// insertFreeList links slot idx (already carrying State=Free, Offset,
// Extent) into both skip lists, allocating fresh arena blocks for it.
func (r *Region) insertFreeList(idx uint32, s *wire.RegionSlot) error {
	offLevel := r.arena.RandomLevel()
	offBlock, err := r.arena.Get(offLevel)
	if err != nil {
		return err
	}
	extLevel := r.arena.RandomLevel()
	extBlock, err := r.arena.Get(extLevel)
	if err != nil {
		r.arena.Release(offLevel, offBlock)
		return err
	}
	s.OffsetArena, s.OffsetLevel = offBlock, uint8(offLevel)
	s.ExtentArena, s.ExtentLevel = extBlock, uint8(extLevel)
	s.State = wire.SlotFree

	preds, err := r.searchPredsOffset(s.Offset)
	if err != nil {
		return err
	}
	for l := 0; l <= offLevel; l++ {
		next, err := r.offsetForwardAt(preds[l], l)
		if err != nil {
			return err
		}
		if err := r.arena.SetPtr(offLevel, offBlock, l, next); err != nil {
			return err
		}
		if err := r.offsetSetForwardAt(preds[l], l, idx); err != nil {
			return err
		}
	}

	predsE, err := r.searchPredsExtent(s.Extent, s.Offset)
	if err != nil {
		return err
	}
	for l := 0; l <= extLevel; l++ {
		next, err := r.extentForwardAt(predsE[l], l)
		if err != nil {
			return err
		}
		if err := r.arena.SetPtr(extLevel, extBlock, l, next); err != nil {
			return err
		}
		if err := r.extentSetForwardAt(predsE[l], l, idx); err != nil {
			return err
		}
	}

	return r.writeSlot(idx, s)
}

// removeFreeList unlinks a free slot from both skip lists and releases
// its arena blocks. Caller must overwrite or recycle the slot afterward.
func (r *Region) removeFreeList(idx uint32) error {
	s, err := r.readSlot(idx)
	if err != nil {
		return err
	}
	preds, err := r.searchPredsOffset(s.Offset)
	if err != nil {
		return err
	}
	for l := 0; l <= int(s.OffsetLevel); l++ {
		next, err := r.offsetForwardAt(idx, l)
		if err != nil {
			return err
		}
		if err := r.offsetSetForwardAt(preds[l], l, next); err != nil {
			return err
		}
	}
	predsE, err := r.searchPredsExtent(s.Extent, s.Offset)
	if err != nil {
		return err
	}
	for l := 0; l <= int(s.ExtentLevel); l++ {
		next, err := r.extentForwardAt(idx, l)
		if err != nil {
			return err
		}
		if err := r.extentSetForwardAt(predsE[l], l, next); err != nil {
			return err
		}
	}
	if err := r.arena.Release(int(s.OffsetLevel), s.OffsetArena); err != nil {
		return err
	}
	return r.arena.Release(int(s.ExtentLevel), s.ExtentArena)
}

func (r *Region) freeToEmpty(idx uint32) error {
	head, err := r.readEmptyHead()
	if err != nil {
		return err
	}
	if err := r.writeSlot(idx, &wire.RegionSlot{State: wire.SlotEmpty, NextEmpty: head}); err != nil {
		return err
	}
	return r.writeEmptyHead(idx)
}

func (r *Region) allocEmpty() (uint32, error) {
	head, err := r.readEmptyHead()
	if err != nil {
		return 0, err
	}
	if head == wire.NilIndex {
		return 0, ErrFull
	}
	s, err := r.readSlot(head)
	if err != nil {
		return 0, err
	}
	if err := r.writeEmptyHead(s.NextEmpty); err != nil {
		return 0, err
	}
	return head, nil
}

// MaxFreeExtent returns the extent of the largest free region, or 0 if
// none exists.
func (r *Region) MaxFreeExtent() (uint64, error) {
	preds, err := r.searchPredsExtent(math.MaxUint64, math.MaxUint64)
	if err != nil {
		return 0, err
	}
	if preds[0] == r.extentHead {
		return 0, nil
	}
	s, err := r.readSlot(preds[0])
	if err != nil {
		return 0, err
	}
	return s.Extent, nil
}

// hashBucket computes the offset-hash bucket index.
func (r *Region) hashBucket(offset uint64) uint32 { return uint32(offset % uint64(r.bucketCount)) }

func (r *Region) hashInsert(idx uint32, offset uint64) error {
	b := r.hashBucket(offset)
	head, err := r.readBucket(b)
	if err != nil {
		return err
	}
	s, err := r.readSlot(idx)
	if err != nil {
		return err
	}
	s.OffsetArena = head // reuse: in-use slots have no free-list pointer use
	if err := r.writeSlot(idx, s); err != nil {
		return err
	}
	return r.writeBucket(b, idx)
}

func (r *Region) hashRemove(idx uint32) error {
	s, err := r.readSlot(idx)
	if err != nil {
		return err
	}
	b := r.hashBucket(s.Offset)
	head, err := r.readBucket(b)
	if err != nil {
		return err
	}
	if head == idx {
		return r.writeBucket(b, s.OffsetArena)
	}
	cur := head
	for cur != wire.NilIndex {
		curSlot, err := r.readSlot(cur)
		if err != nil {
			return err
		}
		if curSlot.OffsetArena == idx {
			curSlot.OffsetArena = s.OffsetArena
			return r.writeSlot(cur, curSlot)
		}
		cur = curSlot.OffsetArena
	}
	return nil
}

// Find returns the in-use slot index with the given data-area offset.
func (r *Region) Find(offset uint64) (uint32, error) {
	b := r.hashBucket(offset)
	cur, err := r.readBucket(b)
	if err != nil {
		return 0, err
	}
	for cur != wire.NilIndex {
		s, err := r.readSlot(cur)
		if err != nil {
			return 0, err
		}
		if s.Offset == offset {
			return cur, nil
		}
		cur = s.OffsetArena
	}
	return 0, ErrNotFound
}

// Slot returns the decoded region-table entry at idx.
func (r *Region) Slot(idx uint32) (*wire.RegionSlot, error) { return r.readSlot(idx) }

// SetTimeKey stamps the committed time-index key onto an in-use slot,
// giving signature lookups an O(1) path to the product's cursor position.
func (r *Region) SetTimeKey(idx uint32, key int64) error {
	s, err := r.readSlot(idx)
	if err != nil {
		return err
	}
	s.TimeKey = key
	return r.writeSlot(idx, s)
}

// SetProductMeta stamps the owning signature and producer-declared
// arrival time onto an in-use slot, so eviction and delete-by-signature
// can update the signature index and MVRT residence time without
// re-decoding the stored product bytes.
func (r *Region) SetProductMeta(idx uint32, sig [16]byte, arrivalUS int64) error {
	s, err := r.readSlot(idx)
	if err != nil {
		return err
	}
	s.Signature = sig
	s.ArrivalUS = arrivalUS
	return r.writeSlot(idx, s)
}

// Counts walks the real (non-sentinel) slot range and reports the
// number of in-use, free, and never-allocated slots.
func (r *Region) Counts() (nelems, nfree, nempty uint64, err error) {
	for i := uint64(0); i < r.nalloc; i++ {
		s, err := r.readSlot(uint32(i))
		if err != nil {
			return 0, 0, 0, err
		}
		switch s.State {
		case wire.SlotInUse:
			nelems++
		case wire.SlotFree:
			nfree++
		default:
			nempty++
		}
	}
	return nelems, nfree, nempty, nil
}

// Get allocates a region of at least required bytes using best-fit,
// splitting the remainder when it exceeds the configured split slack.
// Returns the new in-use slot index, its offset, and its (possibly
// larger than required, if no split occurred) extent.
func (r *Region) Get(required uint64) (slotIdx uint32, offset uint64, extent uint64, err error) {
	maxFree, err := r.MaxFreeExtent()
	if err != nil {
		return 0, 0, 0, err
	}
	if required > maxFree {
		return 0, 0, 0, ErrNoFit
	}
	preds, err := r.searchPredsExtent(required, 0)
	if err != nil {
		return 0, 0, 0, err
	}
	cand, err := r.extentForwardAt(preds[0], 0)
	if err != nil {
		return 0, 0, 0, err
	}
	if cand == r.extentNil {
		return 0, 0, 0, ErrNoFit
	}
	candSlot, err := r.readSlot(cand)
	if err != nil {
		return 0, 0, 0, err
	}
	if err := r.removeFreeList(cand); err != nil {
		return 0, 0, 0, err
	}

	offset = candSlot.Offset
	extent = candSlot.Extent
	remainder := extent - required
	if remainder > uint64(r.splitSlack) {
		if emptyIdx, eerr := r.allocEmpty(); eerr == nil {
			rem := wire.RegionSlot{State: wire.SlotFree, Offset: offset + required, Extent: remainder}
			if err := r.insertFreeList(emptyIdx, &rem); err != nil {
				return 0, 0, 0, err
			}
			extent = required
		}
		// if no empty slot is available to describe the split, fall
		// through and hand back the whole region unsplit.
	}

	candSlot.State = wire.SlotInUse
	candSlot.Offset = offset
	candSlot.Extent = extent
	candSlot.OffsetArena = wire.NilIndex
	if err := r.writeSlot(cand, candSlot); err != nil {
		return 0, 0, 0, err
	}
	if err := r.hashInsert(cand, offset); err != nil {
		return 0, 0, 0, err
	}
	return cand, offset, extent, nil
}

// Put returns an in-use region to the free list, coalescing with any
// physically adjacent free neighbors.
func (r *Region) Put(slotIdx uint32) error {
	s, err := r.readSlot(slotIdx)
	if err != nil {
		return err
	}
	offset, extent := s.Offset, s.Extent

	if err := r.hashRemove(slotIdx); err != nil {
		return err
	}

	preds, err := r.searchPredsOffset(offset)
	if err != nil {
		return err
	}
	if preds[0] != r.offsetHead {
		predSlot, err := r.readSlot(preds[0])
		if err != nil {
			return err
		}
		if predSlot.State == wire.SlotFree && predSlot.Offset+predSlot.Extent == offset {
			if err := r.removeFreeList(preds[0]); err != nil {
				return err
			}
			offset = predSlot.Offset
			extent += predSlot.Extent
			if err := r.freeToEmpty(preds[0]); err != nil {
				return err
			}
		}
	}

	preds2, err := r.searchPredsOffset(offset)
	if err != nil {
		return err
	}
	succIdx, err := r.offsetForwardAt(preds2[0], 0)
	if err != nil {
		return err
	}
	if succIdx != r.offsetNil {
		succSlot, err := r.readSlot(succIdx)
		if err != nil {
			return err
		}
		if succSlot.State == wire.SlotFree && offset+extent == succSlot.Offset {
			if err := r.removeFreeList(succIdx); err != nil {
				return err
			}
			extent += succSlot.Extent
			if err := r.freeToEmpty(succIdx); err != nil {
				return err
			}
		}
	}

	final := wire.RegionSlot{State: wire.SlotFree, Offset: offset, Extent: extent}
	return r.insertFreeList(slotIdx, &final)
}
