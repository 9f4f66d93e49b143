// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sigindex implements the signature hash index (SX): O(1)
// duplicate detection and O(1) lookup by the 16-byte content signature
// every product carries.
package sigindex

import (
	"encoding/binary"
	"errors"

	"github.com/hybscloud/pq/internal/wire"
)

// ErrNotFound is returned by Find when no entry matches; FindDelete
// reports a miss as false with a nil error.
var ErrNotFound = errors.New("sigindex: not found")

// ErrFull is returned by Add when the entry pool is exhausted.
var ErrFull = errors.New("sigindex: entry pool exhausted")

// SigIndex is a fixed-capacity open-chained hash table keyed by
// 16-byte signature.
type SigIndex struct {
	backend     wire.Accessor
	headerBase  int64
	bucketBase  int64
	bucketCount uint32
	entryBase   int64
	nalloc      uint64
}

// Size returns the number of bytes the index occupies on disk.
func Size(nalloc uint64) int64 {
	buckets := largestPrimeAtMost(nalloc / 4)
	return 4 + int64(buckets)*wire.BucketSize + int64(nalloc)*wire.SigEntrySize
}

// New wraps an already-laid-out signature-index area.
func New(backend wire.Accessor, base int64, nalloc uint64) *SigIndex {
	buckets := largestPrimeAtMost(nalloc / 4)
	return &SigIndex{
		backend:     backend,
		headerBase:  base,
		bucketBase:  base + 4,
		bucketCount: buckets,
		entryBase:   base + 4 + int64(buckets)*wire.BucketSize,
		nalloc:      nalloc,
	}
}

// Init zeroes all buckets and threads every entry onto the free list.
func (s *SigIndex) Init() error {
	for b := uint32(0); b < s.bucketCount; b++ {
		if err := s.writeBucket(b, wire.NilIndex); err != nil {
			return err
		}
	}
	for i := uint64(0); i < s.nalloc; i++ {
		next := uint32(i) + 1
		if i == s.nalloc-1 {
			next = wire.NilIndex
		}
		e := wire.SigEntry{RegionSlot: wire.NilIndex, ChainNext: next}
		if err := s.writeEntry(uint32(i), &e); err != nil {
			return err
		}
	}
	if s.nalloc == 0 {
		return s.writeFreeHead(wire.NilIndex)
	}
	return s.writeFreeHead(0)
}

func (s *SigIndex) entryOffset(idx uint32) int64 { return s.entryBase + int64(idx)*wire.SigEntrySize }

func (s *SigIndex) readEntry(idx uint32) (*wire.SigEntry, error) {
	buf := make([]byte, wire.SigEntrySize)
	if err := s.backend.ReadAt(s.entryOffset(idx), buf); err != nil {
		return nil, err
	}
	e := &wire.SigEntry{}
	e.Decode(buf)
	return e, nil
}

func (s *SigIndex) writeEntry(idx uint32, e *wire.SigEntry) error {
	buf := make([]byte, wire.SigEntrySize)
	e.Encode(buf)
	return s.backend.WriteAt(s.entryOffset(idx), buf)
}

func (s *SigIndex) readBucket(b uint32) (uint32, error) {
	buf := make([]byte, wire.BucketSize)
	if err := s.backend.ReadAt(s.bucketBase+int64(b)*wire.BucketSize, buf); err != nil {
		return 0, err
	}
	return wire.DecodeBucket(buf), nil
}

func (s *SigIndex) writeBucket(b uint32, v uint32) error {
	buf := make([]byte, wire.BucketSize)
	wire.EncodeBucket(buf, v)
	return s.backend.WriteAt(s.bucketBase+int64(b)*wire.BucketSize, buf)
}

func (s *SigIndex) readFreeHead() (uint32, error) {
	buf := make([]byte, 4)
	if err := s.backend.ReadAt(s.headerBase, buf); err != nil {
		return 0, err
	}
	return wire.DecodeArenaPtr(buf), nil
}

func (s *SigIndex) writeFreeHead(v uint32) error {
	buf := make([]byte, 4)
	wire.EncodeArenaPtr(buf, v)
	return s.backend.WriteAt(s.headerBase, buf)
}

func (s *SigIndex) bucket(sig [16]byte) uint32 {
	h := binary.BigEndian.Uint32(sig[:4])
	return h % s.bucketCount
}

// Find returns the entry index and owning region-table slot for sig.
func (s *SigIndex) Find(sig [16]byte) (entryIdx uint32, regionSlot uint32, err error) {
	b := s.bucket(sig)
	cur, err := s.readBucket(b)
	if err != nil {
		return 0, 0, err
	}
	for cur != wire.NilIndex {
		e, err := s.readEntry(cur)
		if err != nil {
			return 0, 0, err
		}
		if e.Signature == sig {
			return cur, e.RegionSlot, nil
		}
		cur = e.ChainNext
	}
	return 0, 0, ErrNotFound
}

// Add inserts a new entry. Caller must have already confirmed via Find
// that sig is not present.
func (s *SigIndex) Add(sig [16]byte, regionSlot uint32) (entryIdx uint32, err error) {
	free, err := s.readFreeHead()
	if err != nil {
		return 0, err
	}
	if free == wire.NilIndex {
		return 0, ErrFull
	}
	freeEntry, err := s.readEntry(free)
	if err != nil {
		return 0, err
	}
	nextFree := freeEntry.ChainNext

	b := s.bucket(sig)
	head, err := s.readBucket(b)
	if err != nil {
		return 0, err
	}
	e := wire.SigEntry{Signature: sig, RegionSlot: regionSlot, ChainNext: head}
	if err := s.writeEntry(free, &e); err != nil {
		return 0, err
	}
	if err := s.writeBucket(b, free); err != nil {
		return 0, err
	}
	return free, s.writeFreeHead(nextFree)
}

// FindDelete removes the entry for sig if present, returning whether it was found.
func (s *SigIndex) FindDelete(sig [16]byte) (bool, error) {
	b := s.bucket(sig)
	cur, err := s.readBucket(b)
	if err != nil {
		return false, err
	}
	var prev uint32 = wire.NilIndex
	for cur != wire.NilIndex {
		e, err := s.readEntry(cur)
		if err != nil {
			return false, err
		}
		if e.Signature == sig {
			if prev == wire.NilIndex {
				if err := s.writeBucket(b, e.ChainNext); err != nil {
					return false, err
				}
			} else {
				prevEntry, err := s.readEntry(prev)
				if err != nil {
					return false, err
				}
				prevEntry.ChainNext = e.ChainNext
				if err := s.writeEntry(prev, prevEntry); err != nil {
					return false, err
				}
			}
			head, err := s.readFreeHead()
			if err != nil {
				return false, err
			}
			freed := wire.SigEntry{RegionSlot: wire.NilIndex, ChainNext: head}
			if err := s.writeEntry(cur, &freed); err != nil {
				return false, err
			}
			return true, s.writeFreeHead(cur)
		}
		prev = cur
		cur = e.ChainNext
	}
	return false, nil
}

// Entry returns the decoded entry at idx.
func (s *SigIndex) Entry(idx uint32) (*wire.SigEntry, error) { return s.readEntry(idx) }

func largestPrimeAtMost(n uint64) uint32 {
	if n < 2 {
		return 1
	}
	for v := n; v >= 2; v-- {
		if isPrime(v) {
			return uint32(v)
		}
	}
	return 1
}

func isPrime(n uint64) bool {
	if n < 2 {
		return false
	}
	if n%2 == 0 {
		return n == 2
	}
	for d := uint64(3); d*d <= n; d += 2 {
		if n%d == 0 {
			return false
		}
	}
	return true
}
