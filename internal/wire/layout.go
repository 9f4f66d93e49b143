// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package wire defines the on-disk record layout shared by every process
// that maps a product-queue file: the control block, the region table,
// the time-index node pool, the signature-index entries/buckets, and the
// skip-list node arena. Every structure is expressed as a fixed-size
// byte record at a computed offset rather than as a Go pointer, since
// the same bytes are read and written by unrelated processes.
package wire

import "encoding/binary"

// Magic identifies a product-queue file. ASCII "PQUE".
const Magic uint32 = 0x50515545

// Version is the on-disk format version this package reads and writes.
const Version uint32 = 7

// NilIndex marks an absent index-area reference (end of chain, no
// forward pointer, unset back-pointer).
const NilIndex uint32 = 0xFFFFFFFF

// Region slot states.
const (
	SlotEmpty uint8 = iota
	SlotFree
	SlotInUse
)

// ControlBlockSize is the fixed, page-independent size of the encoded
// control block. The control block itself always occupies one full host
// page on disk; the remainder of the page past ControlBlockSize is
// reserved and zero-filled.
const ControlBlockSize = 4 + 4 + 4 + 4 + 4 + 8 + 8 + 8 + 8 + 8 + 4 + 8 + 8 + 8 + 1 + 8 + 8 + 8 + 1 + 8 + 8 + 2 + pathFieldSize

// pathFieldSize bounds the stored creation path to a short, fixed field.
// Longer paths are truncated; the path is informational only (stats/
// diagnostics), never used to reopen the file.
const pathFieldSize = 256

// ControlBlock is the decoded form of the file's first page.
type ControlBlock struct {
	Magic           uint32
	Version         uint32
	WriteCountMagic uint32
	Align           uint32
	PageSize        uint32
	DataOffset      uint64
	DataSize        uint64
	IndexOffset     uint64
	IndexSize       uint64
	Capacity        uint64 // nalloc: logical product capacity
	WriteCount      uint32
	HighWaterBytes  uint64
	MaxProducts     uint64
	MostRecentUS    int64 // -1 when unset
	MVRTSet         bool
	MVRTus          int64
	MVRTUsageBytes  uint64
	MVRTUsageSlots  uint64
	FullQueue       bool
	Nelems          uint64 // in-use region slots, maintained incrementally
	UsedBytes       uint64 // data-area bytes currently allocated
	Path            string
}

// Encode writes cb into a ControlBlockSize buffer.
func (cb *ControlBlock) Encode() []byte {
	buf := make([]byte, ControlBlockSize)
	le := binary.LittleEndian
	o := 0
	putU32 := func(v uint32) { le.PutUint32(buf[o:], v); o += 4 }
	putU64 := func(v uint64) { le.PutUint64(buf[o:], v); o += 8 }
	putI64 := func(v int64) { le.PutUint64(buf[o:], uint64(v)); o += 8 }
	putBool := func(v bool) {
		if v {
			buf[o] = 1
		}
		o++
	}

	putU32(cb.Magic)
	putU32(cb.Version)
	putU32(cb.WriteCountMagic)
	putU32(cb.Align)
	putU32(cb.PageSize)
	putU64(cb.DataOffset)
	putU64(cb.DataSize)
	putU64(cb.IndexOffset)
	putU64(cb.IndexSize)
	putU64(cb.Capacity)
	putU32(cb.WriteCount)
	putU64(cb.HighWaterBytes)
	putU64(cb.MaxProducts)
	putI64(cb.MostRecentUS)
	putBool(cb.MVRTSet)
	putI64(cb.MVRTus)
	putU64(cb.MVRTUsageBytes)
	putU64(cb.MVRTUsageSlots)
	putBool(cb.FullQueue)
	putU64(cb.Nelems)
	putU64(cb.UsedBytes)

	pathBytes := []byte(cb.Path)
	n := len(pathBytes)
	if n > pathFieldSize-2 {
		n = pathFieldSize - 2
	}
	le.PutUint16(buf[o:], uint16(n))
	o += 2
	copy(buf[o:o+n], pathBytes[:n])
	return buf
}

// Decode parses a ControlBlockSize buffer into cb.
func (cb *ControlBlock) Decode(buf []byte) {
	le := binary.LittleEndian
	o := 0
	getU32 := func() uint32 { v := le.Uint32(buf[o:]); o += 4; return v }
	getU64 := func() uint64 { v := le.Uint64(buf[o:]); o += 8; return v }
	getI64 := func() int64 { v := int64(le.Uint64(buf[o:])); o += 8; return v }
	getBool := func() bool { v := buf[o] != 0; o++; return v }

	cb.Magic = getU32()
	cb.Version = getU32()
	cb.WriteCountMagic = getU32()
	cb.Align = getU32()
	cb.PageSize = getU32()
	cb.DataOffset = getU64()
	cb.DataSize = getU64()
	cb.IndexOffset = getU64()
	cb.IndexSize = getU64()
	cb.Capacity = getU64()
	cb.WriteCount = getU32()
	cb.HighWaterBytes = getU64()
	cb.MaxProducts = getU64()
	cb.MostRecentUS = getI64()
	cb.MVRTSet = getBool()
	cb.MVRTus = getI64()
	cb.MVRTUsageBytes = getU64()
	cb.MVRTUsageSlots = getU64()
	cb.FullQueue = getBool()
	cb.Nelems = getU64()
	cb.UsedBytes = getU64()

	n := int(le.Uint16(buf[o:]))
	o += 2
	cb.Path = string(buf[o : o+n])
}

// RegionSlotSize is the fixed encoded size of one region-table entry.
const RegionSlotSize = 1 + 8 + 8 + 4 + 1 + 4 + 1 + 4 + 8 + 16 + 8

// RegionSlot is one entry of the region table (nalloc+4 of these).
// It doubles as a free-list-or-in-use-region descriptor: when State is
// SlotFree it additionally participates in the offset-ordered and
// extent-ordered free skip lists (OffsetArena/ExtentArena name the
// forward-pointer block drawn from the shared node arena); when State
// is SlotEmpty, NextEmpty threads it into the empty-slot free list.
type RegionSlot struct {
	State       uint8
	Offset      uint64
	Extent      uint64
	OffsetArena uint32
	OffsetLevel uint8
	ExtentArena uint32
	ExtentLevel uint8
	NextEmpty   uint32
	// TimeKey is the time-index key assigned at commit, carried
	// directly on the in-use region entry so a signature lookup can
	// recover a product's cursor position in O(1) without a second
	// pass through the time index (design notes, open question iv).
	TimeKey int64
	// Signature and ArrivalUS mirror the product's own metadata fields
	// onto the in-use region entry, so eviction and delete-by-signature
	// can update the signature index and the MVRT residence-time
	// calculation (§4.5) without re-decoding the stored product bytes.
	Signature [16]byte
	ArrivalUS int64
}

func (s *RegionSlot) Encode(buf []byte) {
	le := binary.LittleEndian
	buf[0] = s.State
	le.PutUint64(buf[1:], s.Offset)
	le.PutUint64(buf[9:], s.Extent)
	le.PutUint32(buf[17:], s.OffsetArena)
	buf[21] = s.OffsetLevel
	le.PutUint32(buf[22:], s.ExtentArena)
	buf[26] = s.ExtentLevel
	le.PutUint32(buf[27:], s.NextEmpty)
	le.PutUint64(buf[31:], uint64(s.TimeKey))
	copy(buf[39:55], s.Signature[:])
	le.PutUint64(buf[55:], uint64(s.ArrivalUS))
}

func (s *RegionSlot) Decode(buf []byte) {
	le := binary.LittleEndian
	s.State = buf[0]
	s.Offset = le.Uint64(buf[1:])
	s.Extent = le.Uint64(buf[9:])
	s.OffsetArena = le.Uint32(buf[17:])
	s.OffsetLevel = buf[21]
	s.ExtentArena = le.Uint32(buf[22:])
	s.ExtentLevel = buf[26]
	s.NextEmpty = le.Uint32(buf[27:])
	s.TimeKey = int64(le.Uint64(buf[31:]))
	copy(s.Signature[:], buf[39:55])
	s.ArrivalUS = int64(le.Uint64(buf[55:]))
}

// TimeNodeSize is the fixed encoded size of one time-index node.
const TimeNodeSize = 8 + 4 + 4 + 1 + 4

// TimeNode is one entry of the time-index node pool (nalloc+2 of
// these: nalloc product slots plus the HEAD and NIL sentinels). A node
// not currently bound to a region is threaded into the free-node list
// via NextFree; KeyUS is only meaningful when RegionSlot != NilIndex.
type TimeNode struct {
	KeyUS      int64
	RegionSlot uint32
	Arena      uint32
	Level      uint8
	NextFree   uint32
}

func (n *TimeNode) Encode(buf []byte) {
	le := binary.LittleEndian
	le.PutUint64(buf[0:], uint64(n.KeyUS))
	le.PutUint32(buf[8:], n.RegionSlot)
	le.PutUint32(buf[12:], n.Arena)
	buf[16] = n.Level
	le.PutUint32(buf[17:], n.NextFree)
}

func (n *TimeNode) Decode(buf []byte) {
	le := binary.LittleEndian
	n.KeyUS = int64(le.Uint64(buf[0:]))
	n.RegionSlot = le.Uint32(buf[8:])
	n.Arena = le.Uint32(buf[12:])
	n.Level = buf[16]
	n.NextFree = le.Uint32(buf[17:])
}

// SigEntrySize is the fixed encoded size of one signature-index entry.
const SigEntrySize = 16 + 4 + 4

// SigEntry is one entry of the signature hash table's entry pool.
// ChainNext doubles as the free-list link when the entry is unused
// (RegionSlot == NilIndex), per the "threaded singly-linked list
// through the entries themselves" contract in spec §4.4.
type SigEntry struct {
	Signature  [16]byte
	RegionSlot uint32
	ChainNext  uint32
}

func (e *SigEntry) Encode(buf []byte) {
	copy(buf[0:16], e.Signature[:])
	binary.LittleEndian.PutUint32(buf[16:], e.RegionSlot)
	binary.LittleEndian.PutUint32(buf[20:], e.ChainNext)
}

func (e *SigEntry) Decode(buf []byte) {
	copy(e.Signature[:], buf[0:16])
	e.RegionSlot = binary.LittleEndian.Uint32(buf[16:])
	e.ChainNext = binary.LittleEndian.Uint32(buf[20:])
}

// BucketSize is the fixed encoded size of one signature hash bucket
// (a single chain-head entry index).
const BucketSize = 4

func EncodeBucket(buf []byte, head uint32) { binary.LittleEndian.PutUint32(buf, head) }
func DecodeBucket(buf []byte) uint32       { return binary.LittleEndian.Uint32(buf) }

// ArenaBlockHeaderSize is the per-block overhead: one forward-pointer
// slot's width, reused as the free-list "next free block" link when
// the block is unused.
const ArenaBlockHeaderSize = 4

// ArenaSlotSize is the width of a single forward-pointer slot within an
// arena block (one per skip-list level the block serves).
const ArenaSlotSize = 4

func EncodeArenaPtr(buf []byte, v uint32) { binary.LittleEndian.PutUint32(buf, v) }
func DecodeArenaPtr(buf []byte) uint32    { return binary.LittleEndian.Uint32(buf) }

// Accessor is the minimal byte-addressable read/write surface every
// index structure needs from the backing store. [internal/store.Store]
// satisfies it; tests satisfy it with an in-memory byte slice.
type Accessor interface {
	ReadAt(off int64, buf []byte) error
	WriteAt(off int64, buf []byte) error
}
