// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package arena implements the skip-list node-forward-pointer block
// pool (FB) shared by the time index and the region allocator's two
// free-region skip lists: a per-level pool of fixed-size blocks, each
// holding level+1 forward-pointer slots, allocated and released in O(1)
// via a threaded free list and pre-sized to absorb the geometric level
// distribution's statistical fluctuation.
package arena

import (
	"errors"
	"math"
	"math/rand"

	"github.com/hybscloud/pq/internal/wire"
)

// ErrExhausted is returned by Get when the requested level's free list
// is empty. It is the "queue too full" condition from the design notes:
// soft, not fatal, and surfaced to the caller as a failed insert/reserve.
var ErrExhausted = errors.New("arena: level exhausted")

// Arena manages the skip-list node-forward-pointer block pool.
type Arena struct {
	backend   wire.Accessor
	base      int64
	maxLevels int
	capacity  []uint32
	offset    []int64
	rng       *rand.Rand
}

// blockWords is the number of 4-byte forward-pointer slots in a level-L
// block: one per skip-list level 0..L. Slot 0 doubles as the free-list
// "next free block" link while the block is unused.
func blockWords(level int) int64 { return int64(level + 1) }

func blockSize(level int) int64 { return blockWords(level) * wire.ArenaSlotSize }

// Sizing computes the per-level block capacities for a queue of nalloc
// product slots, following the pre-sizing formula in §4.1: ≈0.75·N
// blocks at each level, decaying 4× per level, plus 3·√N·log₄(N) extra
// blocks at the max level to absorb fluctuation — three independent
// skip lists (time index, offset-free list, extent-free list) draw from
// this one pool, hence the generous max-level padding.
func Sizing(nalloc uint64) (capacity []uint32) {
	n := nalloc
	if n < 1 {
		n = 1
	}
	maxLevels := int(math.Log(float64(n))/math.Log(4)) + 1
	if maxLevels < 1 {
		maxLevels = 1
	}
	caps := make([]uint32, maxLevels)
	f := 0.75 * float64(n)
	for l := 0; l < maxLevels; l++ {
		c := f
		for i := 0; i < l; i++ {
			c /= 4
		}
		v := uint32(math.Ceil(c))
		if v < 4 {
			v = 4
		}
		caps[l] = v
	}
	extra := uint32(math.Ceil(3 * math.Sqrt(float64(n)) * (math.Log(float64(n)) / math.Log(4))))
	caps[maxLevels-1] += extra
	return caps
}

// headerWords is the per-level word count of the arena's own bookkeeping
// area: free-list head, in-use counter, high-water counter.
const headerWords = 3

// Size returns the total number of bytes the arena occupies on disk for
// the given capacity table, as produced by Sizing.
func Size(capacity []uint32) int64 {
	total := int64(len(capacity)) * headerWords * 4
	for l, c := range capacity {
		total += int64(c) * blockSize(l)
	}
	return total
}

// New wraps an already-laid-out arena region. base is the byte offset
// within backend where the arena's header area begins; capacity must
// match what was used (directly or via Sizing) when the region was
// created. seed drives RandomLevel's PRNG: callers should pass a
// non-degenerate seed in production and a fixed one in tests that need
// reproducible skip-list shapes (design note: "PRNG determinism").
func New(backend wire.Accessor, base int64, capacity []uint32, seed int64) *Arena {
	a := &Arena{
		backend:   backend,
		base:      base,
		maxLevels: len(capacity),
		capacity:  append([]uint32(nil), capacity...),
		rng:       rand.New(rand.NewSource(seed)),
	}
	off := base + int64(a.maxLevels)*headerWords*4
	a.offset = make([]int64, a.maxLevels)
	for l := 0; l < a.maxLevels; l++ {
		a.offset[l] = off
		off += int64(capacity[l]) * blockSize(l)
	}
	return a
}

// Init threads every level's free list from block 0 to capacity[l]-1
// and zeroes the in-use/high-water counters. Called once by create.
func (a *Arena) Init() error {
	for l := 0; l < a.maxLevels; l++ {
		buf := make([]byte, 4)
		for b := uint32(0); b < a.capacity[l]; b++ {
			next := b + 1
			if next >= a.capacity[l] {
				next = wire.NilIndex
			}
			wire.EncodeArenaPtr(buf, next)
			if err := a.backend.WriteAt(a.blockOffset(l, b), buf); err != nil {
				return err
			}
		}
		if err := a.writeFreeHead(l, 0); err != nil {
			return err
		}
		if err := a.writeCounter(a.inUseOffset(l), 0); err != nil {
			return err
		}
		if err := a.writeCounter(a.highWaterOffset(l), 0); err != nil {
			return err
		}
	}
	return nil
}

func (a *Arena) blockOffset(level int, block uint32) int64 {
	return a.offset[level] + int64(block)*blockSize(level)
}

func (a *Arena) freeHeadOffset(level int) int64 { return a.base + int64(level)*4 }
func (a *Arena) inUseOffset(level int) int64 {
	return a.base + int64(a.maxLevels)*4 + int64(level)*4
}
func (a *Arena) highWaterOffset(level int) int64 {
	return a.base + int64(a.maxLevels)*8 + int64(level)*4
}

func (a *Arena) readCounter(off int64) (uint32, error) {
	buf := make([]byte, 4)
	if err := a.backend.ReadAt(off, buf); err != nil {
		return 0, err
	}
	return wire.DecodeArenaPtr(buf), nil
}

func (a *Arena) writeCounter(off int64, v uint32) error {
	buf := make([]byte, 4)
	wire.EncodeArenaPtr(buf, v)
	return a.backend.WriteAt(off, buf)
}

func (a *Arena) readFreeHead(level int) (uint32, error) { return a.readCounter(a.freeHeadOffset(level)) }
func (a *Arena) writeFreeHead(level int, v uint32) error {
	return a.writeCounter(a.freeHeadOffset(level), v)
}

// Levels reports the number of skip-list levels the arena serves.
func (a *Arena) Levels() int { return a.maxLevels }

// Capacity reports the preallocated block count for a level.
func (a *Arena) Capacity(level int) uint32 { return a.capacity[level] }

// InUse reports the current number of allocated blocks at a level.
func (a *Arena) InUse(level int) (uint32, error) { return a.readCounter(a.inUseOffset(level)) }

// HighWater reports the peak number of allocated blocks observed at a level.
func (a *Arena) HighWater(level int) (uint32, error) { return a.readCounter(a.highWaterOffset(level)) }

// RandomLevel samples a geometric distribution with p=1/4, capped at
// maxLevels-1.
func (a *Arena) RandomLevel() int {
	level := 0
	for level < a.maxLevels-1 && a.rng.Float64() < 0.25 {
		level++
	}
	return level
}

// Get allocates a block at the given level, returning [ErrExhausted] if
// none remain.
func (a *Arena) Get(level int) (uint32, error) {
	head, err := a.readFreeHead(level)
	if err != nil {
		return 0, err
	}
	if head == wire.NilIndex {
		return 0, ErrExhausted
	}
	next, err := a.GetPtr(level, head, 0)
	if err != nil {
		return 0, err
	}
	if err := a.writeFreeHead(level, next); err != nil {
		return 0, err
	}
	inUse, err := a.readCounter(a.inUseOffset(level))
	if err != nil {
		return 0, err
	}
	inUse++
	if err := a.writeCounter(a.inUseOffset(level), inUse); err != nil {
		return 0, err
	}
	high, err := a.readCounter(a.highWaterOffset(level))
	if err != nil {
		return 0, err
	}
	if inUse > high {
		if err := a.writeCounter(a.highWaterOffset(level), inUse); err != nil {
			return 0, err
		}
	}
	return head, nil
}

// Release returns a block to its level's free list.
func (a *Arena) Release(level int, block uint32) error {
	head, err := a.readFreeHead(level)
	if err != nil {
		return err
	}
	if err := a.SetPtr(level, block, 0, head); err != nil {
		return err
	}
	if err := a.writeFreeHead(level, block); err != nil {
		return err
	}
	inUse, err := a.readCounter(a.inUseOffset(level))
	if err != nil {
		return err
	}
	if inUse > 0 {
		inUse--
	}
	return a.writeCounter(a.inUseOffset(level), inUse)
}

// GetPtr reads forward-pointer slot slotIdx (0..level) of block at level.
func (a *Arena) GetPtr(level int, block uint32, slotIdx int) (uint32, error) {
	buf := make([]byte, 4)
	if err := a.backend.ReadAt(a.blockOffset(level, block)+int64(slotIdx)*4, buf); err != nil {
		return 0, err
	}
	return wire.DecodeArenaPtr(buf), nil
}

// SetPtr writes forward-pointer slot slotIdx (0..level) of block at level.
func (a *Arena) SetPtr(level int, block uint32, slotIdx int, value uint32) error {
	buf := make([]byte, 4)
	wire.EncodeArenaPtr(buf, value)
	return a.backend.WriteAt(a.blockOffset(level, block)+int64(slotIdx)*4, buf)
}
