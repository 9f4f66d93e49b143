// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package timeindex implements the time-ordered skip list (TQ): the
// index that lets Sequence walk committed products in insertion-time
// order, forward or backward, from an arbitrary cursor.
package timeindex

import (
	"errors"

	"github.com/hybscloud/pq/internal/arena"
	"github.com/hybscloud/pq/internal/wire"
)

// ErrExhausted is returned by Add when every time-node slot is in use.
var ErrExhausted = errors.New("timeindex: no free node slot")

// ErrNotFound is returned by Find, First and Next when no matching entry exists.
var ErrNotFound = errors.New("timeindex: not found")

// ErrClockStuck is returned by Add when the insertion-time collision
// loop exceeds maxCollisionRetries (design notes, open question iii).
var ErrClockStuck = errors.New("timeindex: clock not advancing")

// maxCollisionRetries bounds the tick-increment loop Add uses to break
// insertion-time ties, per the design notes' open question iii.
const maxCollisionRetries = 4096

const (
	headIdx uint32 = 0
	nilNode uint32 = 1
)

// Mode selects which neighbor Find returns relative to a key.
type Mode int

const (
	LT Mode = iota
	EQ
	GT
)

// Clock returns the current time in microseconds. Exists so tests can
// supply a deterministic or sub-tick-resolution clock.
type Clock func() int64

// TimeIndex is a skip list of committed regions ordered by insertion time.
type TimeIndex struct {
	backend  wire.Accessor
	base     int64 // offset of the free-head word
	dataBase int64 // offset of the node array (index 0 = HEAD)
	nalloc   uint64
	arena    *arena.Arena
}

// Size returns the number of bytes the time index occupies on disk
// (free-head word plus (nalloc+2) encoded nodes), not counting the
// shared arena pool.
func Size(nalloc uint64) int64 {
	return 4 + int64(nalloc+2)*wire.TimeNodeSize
}

// New wraps an already-laid-out time-index region. base is the offset
// of the index's own free-head word; the node array immediately follows.
func New(backend wire.Accessor, base int64, nalloc uint64, a *arena.Arena) *TimeIndex {
	return &TimeIndex{
		backend:  backend,
		base:     base,
		dataBase: base + 4,
		nalloc:   nalloc,
		arena:    a,
	}
}

// Init writes the HEAD/NIL sentinels and threads every real slot onto
// the free list. Called once by create.
func (t *TimeIndex) Init() error {
	topLevel := t.arena.Levels() - 1
	headBlock, err := t.arena.Get(topLevel)
	if err != nil {
		return err
	}
	for l := 0; l <= topLevel; l++ {
		if err := t.arena.SetPtr(topLevel, headBlock, l, nilNode); err != nil {
			return err
		}
	}
	head := wire.TimeNode{KeyUS: minInt64, RegionSlot: wire.NilIndex, Arena: headBlock, Level: uint8(topLevel), NextFree: wire.NilIndex}
	if err := t.writeNode(headIdx, &head); err != nil {
		return err
	}
	nilN := wire.TimeNode{KeyUS: maxInt64, RegionSlot: wire.NilIndex, Arena: wire.NilIndex, Level: 0, NextFree: wire.NilIndex}
	if err := t.writeNode(nilNode, &nilN); err != nil {
		return err
	}
	first := uint32(2)
	for i := uint64(0); i < t.nalloc; i++ {
		idx := first + uint32(i)
		next := idx + 1
		if i == t.nalloc-1 {
			next = wire.NilIndex
		}
		n := wire.TimeNode{RegionSlot: wire.NilIndex, Arena: wire.NilIndex, NextFree: next}
		if err := t.writeNode(idx, &n); err != nil {
			return err
		}
	}
	return t.writeFreeHead(first)
}

const minInt64 = -(1 << 62)
const maxInt64 = 1<<62 - 1

func (t *TimeIndex) nodeOffset(idx uint32) int64 {
	return t.dataBase + int64(idx)*wire.TimeNodeSize
}

func (t *TimeIndex) readNode(idx uint32) (*wire.TimeNode, error) {
	buf := make([]byte, wire.TimeNodeSize)
	if err := t.backend.ReadAt(t.nodeOffset(idx), buf); err != nil {
		return nil, err
	}
	n := &wire.TimeNode{}
	n.Decode(buf)
	return n, nil
}

func (t *TimeIndex) writeNode(idx uint32, n *wire.TimeNode) error {
	buf := make([]byte, wire.TimeNodeSize)
	n.Encode(buf)
	return t.backend.WriteAt(t.nodeOffset(idx), buf)
}

func (t *TimeIndex) readFreeHead() (uint32, error) {
	buf := make([]byte, 4)
	if err := t.backend.ReadAt(t.base, buf); err != nil {
		return 0, err
	}
	return wire.DecodeArenaPtr(buf), nil
}

func (t *TimeIndex) writeFreeHead(v uint32) error {
	buf := make([]byte, 4)
	wire.EncodeArenaPtr(buf, v)
	return t.backend.WriteAt(t.base, buf)
}

func (t *TimeIndex) forwardAt(idx uint32, level int) (uint32, error) {
	n, err := t.readNode(idx)
	if err != nil {
		return 0, err
	}
	if int(n.Level) < level {
		return nilNode, nil
	}
	return t.arena.GetPtr(int(n.Level), n.Arena, level)
}

func (t *TimeIndex) setForwardAt(idx uint32, level int, value uint32) error {
	n, err := t.readNode(idx)
	if err != nil {
		return err
	}
	return t.arena.SetPtr(int(n.Level), n.Arena, level, value)
}

// searchPreds returns, for each level from top to 0, the index of the
// last node whose key is strictly less than key.
func (t *TimeIndex) searchPreds(key int64) ([]uint32, error) {
	preds := make([]uint32, t.arena.Levels())
	cur := headIdx
	for l := t.arena.Levels() - 1; l >= 0; l-- {
		for {
			next, err := t.forwardAt(cur, l)
			if err != nil {
				return nil, err
			}
			if next == nilNode {
				break
			}
			nextNode, err := t.readNode(next)
			if err != nil {
				return nil, err
			}
			if nextNode.KeyUS >= key {
				break
			}
			cur = next
		}
		preds[l] = cur
	}
	return preds, nil
}

// Add inserts a new entry for regionSlot, stamped clock(); on a key
// collision with an existing entry it increments by one microsecond
// repeatedly (capped at maxCollisionRetries) until unique, per §4.2.
func (t *TimeIndex) Add(regionSlot uint32, clock Clock) (idx uint32, key int64, err error) {
	freeIdx, err := t.readFreeHead()
	if err != nil {
		return 0, 0, err
	}
	if freeIdx == wire.NilIndex {
		return 0, 0, ErrExhausted
	}

	key = clock()
	tries := 0
	for {
		preds, serr := t.searchPreds(key)
		if serr != nil {
			return 0, 0, serr
		}
		cand, cerr := t.forwardAt(preds[0], 0)
		if cerr != nil {
			return 0, 0, cerr
		}
		if cand != nilNode {
			candNode, rerr := t.readNode(cand)
			if rerr != nil {
				return 0, 0, rerr
			}
			if candNode.KeyUS == key {
				tries++
				if tries > maxCollisionRetries {
					return 0, 0, ErrClockStuck
				}
				key++
				continue
			}
		}
		return t.insertAt(freeIdx, regionSlot, key, preds)
	}
}

func (t *TimeIndex) insertAt(freeIdx uint32, regionSlot uint32, key int64, preds []uint32) (uint32, int64, error) {
	freeNode, err := t.readNode(freeIdx)
	if err != nil {
		return 0, 0, err
	}
	nextFree := freeNode.NextFree

	level := t.arena.RandomLevel()
	block, err := t.arena.Get(level)
	if err != nil {
		return 0, 0, err
	}

	for l := 0; l <= level; l++ {
		next, ferr := t.forwardAt(preds[l], l)
		if ferr != nil {
			return 0, 0, ferr
		}
		if err := t.arena.SetPtr(level, block, l, next); err != nil {
			return 0, 0, err
		}
		if err := t.setForwardAt(preds[l], l, freeIdx); err != nil {
			return 0, 0, err
		}
	}

	n := wire.TimeNode{KeyUS: key, RegionSlot: regionSlot, Arena: block, Level: uint8(level), NextFree: wire.NilIndex}
	if err := t.writeNode(freeIdx, &n); err != nil {
		return 0, 0, err
	}
	if err := t.writeFreeHead(nextFree); err != nil {
		return 0, 0, err
	}
	return freeIdx, key, nil
}

// Find returns the node index satisfying mode relative to key.
func (t *TimeIndex) Find(key int64, mode Mode) (uint32, error) {
	preds, err := t.searchPreds(key)
	if err != nil {
		return 0, err
	}
	cand, err := t.forwardAt(preds[0], 0)
	if err != nil {
		return 0, err
	}
	switch mode {
	case LT:
		if preds[0] == headIdx {
			return 0, ErrNotFound
		}
		return preds[0], nil
	case EQ:
		if cand == nilNode {
			return 0, ErrNotFound
		}
		candNode, err := t.readNode(cand)
		if err != nil {
			return 0, err
		}
		if candNode.KeyUS != key {
			return 0, ErrNotFound
		}
		return cand, nil
	case GT:
		if cand == nilNode {
			return 0, ErrNotFound
		}
		candNode, err := t.readNode(cand)
		if err != nil {
			return 0, err
		}
		if candNode.KeyUS == key {
			nxt, err := t.forwardAt(cand, 0)
			if err != nil {
				return 0, err
			}
			if nxt == nilNode {
				return 0, ErrNotFound
			}
			return nxt, nil
		}
		return cand, nil
	default:
		return 0, ErrNotFound
	}
}

// First returns the oldest entry, or ErrNotFound if the queue is empty.
func (t *TimeIndex) First() (uint32, error) {
	next, err := t.forwardAt(headIdx, 0)
	if err != nil {
		return 0, err
	}
	if next == nilNode {
		return 0, ErrNotFound
	}
	return next, nil
}

// Next returns the entry immediately after idx in time order.
func (t *TimeIndex) Next(idx uint32) (uint32, error) {
	next, err := t.forwardAt(idx, 0)
	if err != nil {
		return 0, err
	}
	if next == nilNode {
		return 0, ErrNotFound
	}
	return next, nil
}

// Node returns the decoded entry at idx.
func (t *TimeIndex) Node(idx uint32) (*wire.TimeNode, error) { return t.readNode(idx) }

// Delete removes idx from the list and returns its node slot and arena
// block to their respective free pools.
func (t *TimeIndex) Delete(idx uint32) error {
	n, err := t.readNode(idx)
	if err != nil {
		return err
	}
	preds, err := t.searchPreds(n.KeyUS)
	if err != nil {
		return err
	}
	for l := 0; l <= int(n.Level); l++ {
		next, ferr := t.forwardAt(idx, l)
		if ferr != nil {
			return ferr
		}
		if err := t.setForwardAt(preds[l], l, next); err != nil {
			return err
		}
	}
	if err := t.arena.Release(int(n.Level), n.Arena); err != nil {
		return err
	}
	head, err := t.readFreeHead()
	if err != nil {
		return err
	}
	n.NextFree = head
	n.RegionSlot = wire.NilIndex
	n.Arena = wire.NilIndex
	if err := t.writeNode(idx, n); err != nil {
		return err
	}
	return t.writeFreeHead(idx)
}
