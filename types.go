// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pq

import "github.com/hybscloud/pq/internal/product"

// Metadata describes a product without its payload bytes.
//
// Origin and Ident are truncated to 255 bytes on Insert/Commit; callers
// that need the original value back should keep their own copy.
type Metadata struct {
	Origin    string
	Ident     string
	Feedtype  uint32
	Seqno     uint32
	ArrivalUS int64 // microsecond-resolution producer-supplied arrival time
	Size      uint32
	Signature [16]byte
}

// Product is a complete product: metadata plus its opaque payload.
// Products are immutable once committed to the queue.
type Product struct {
	Metadata
	Data []byte
}

// Direction selects which way [Queue.Sequence] and [Queue.SequenceLock]
// search the time index relative to the current cursor.
type Direction int

const (
	// LT finds the entry with the greatest key strictly less than the
	// cursor (walking backward in time).
	LT Direction = iota
	// EQ finds the entry with key exactly equal to the cursor.
	EQ
	// GT finds the entry with the smallest key strictly greater than
	// the cursor (walking forward in time — the usual "tail" direction).
	GT
)

// Cursor is a time coordinate into the queue's time index. The zero
// Cursor is "unset": the first Sequence call in a given Direction
// initializes it to the time-domain sentinel opposite that direction
// (so GT starts before the oldest product, LT starts after the newest).
type Cursor struct {
	us  int64
	set bool
}

// CursorAt returns a Cursor positioned at an explicit microsecond-
// resolution time coordinate, as produced by [Queue.GetOldestCursor] or
// recovered from a previously observed [Metadata.ArrivalUS].
func CursorAt(us int64) Cursor { return Cursor{us: us, set: true} }

// IsSet reports whether the cursor has been initialized.
func (c Cursor) IsSet() bool { return c.set }

// ClassFilter restricts [Queue.Sequence] and [Queue.SequenceLock] to
// products matching a feedtype mask and/or an origin prefix. The zero
// ClassFilter matches every product.
type ClassFilter struct {
	// FeedtypeMask, if non-zero, requires Metadata.Feedtype&FeedtypeMask
	// to be non-zero (bitmask-style class matching, as LDM feedtypes are
	// themselves bitmasks of leaf types).
	FeedtypeMask uint32
	// OriginPrefix, if non-empty, requires Metadata.Origin to start with
	// this string.
	OriginPrefix string
}

// Match reports whether m satisfies the filter.
func (f ClassFilter) Match(m Metadata) bool {
	if f.FeedtypeMask != 0 && m.Feedtype&f.FeedtypeMask == 0 {
		return false
	}
	if f.OriginPrefix != "" {
		if len(m.Origin) < len(f.OriginPrefix) || m.Origin[:len(f.OriginPrefix)] != f.OriginPrefix {
			return false
		}
	}
	return true
}

// Lease is an opaque token returned by [Queue.SequenceLock] when a
// callback matches; the caller must pass it to [Queue.Release] exactly
// once to let the held region become eligible for eviction again. A
// Lease's lifetime must not outlive the [Queue] it was issued from.
type Lease struct {
	slot   uint32
	offset uint64
}

// Reservation is the handle returned by [Queue.Reserve] for a reserved,
// not-yet-committed region. Its writable buffer is process-local memory,
// not a view into the backing store; [Queue.Commit] copies it into the
// region. No lock on the region is held while the reservation is open.
// Exactly one of [Queue.Commit] or [Queue.Discard] must be called with it.
type Reservation struct {
	slot   uint32
	offset uint64
	extent uint64
	meta   product.Metadata
	buf    []byte
	done   bool // Commit or Discard already called
}

// Bytes returns the reservation's writable buffer. Writes past
// Commit or Discard are undefined.
func (r *Reservation) Bytes() []byte { return r.buf }

// SequenceCallback is invoked once per matching product by Sequence and
// SequenceLock, in cursor order. Returning a non-nil error rewinds the
// cursor by one resolution tick so the product is revisited on the next
// call, matching the "callback failure" contract in the public API.
type SequenceCallback func(meta Metadata, data []byte) error

// Stats reports queue-wide counters and high-water marks. All fields are
// read without mutating shared state.
type Stats struct {
	Nelems      uint64 // in-use region slots
	Nfree       uint64 // free region slots
	Nempty      uint64 // never-yet-allocated region slots
	Nalloc      uint64 // total region slots (nelems+nfree+nempty)
	HighWaterBytes uint64
	MaxProducts uint64
	MostRecentUS int64 // -1 if the queue has never received a product
	MVRTSet        bool
	MVRTus         int64
	MVRTUsageBytes uint64
	MVRTUsageSlots uint64
	FullQueue      bool
	// ArenaHighWater reports the peak number of skip-list-node-arena
	// blocks in use at each level, index 0 = level 0. Exposed in
	// addition to the LDM pq CLI's usual product/slot counters since
	// arena exhaustion is a distinct failure mode from slot exhaustion.
	ArenaHighWater []uint64
}
