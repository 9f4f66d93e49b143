// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pq

import (
	"errors"

	"code.hybscloud.com/iox"
)

// ErrAccess indicates an operation could not proceed immediately because
// of lock contention: a no-wait region or control-block lock is already
// held by another reader/writer, make_room could not evict enough unheld
// space to satisfy a reservation, or one of the index structures (skip-
// list node arena, time index, signature table) has no free slot left
// for an otherwise-valid insert. It is also returned when the time
// index's insertion-time collision loop reaches its retry bound (the
// clock is not advancing), and for a mutating call on a queue opened
// read-only.
//
// ErrAccess is a control flow signal, not a failure: the caller should
// retry (optionally with backoff) rather than propagating it.
//
// This is an alias for [iox.ErrWouldBlock] for ecosystem consistency.
var ErrAccess = iox.ErrWouldBlock

// ErrDup indicates Insert was given a product whose signature already
// exists in the queue. Per the duplicate-suppression invariant, the
// insert is silently not performed; this is reported so callers can
// distinguish it from a hard failure.
var ErrDup = errors.New("pq: duplicate signature")

// ErrBig indicates a requested region is larger than the queue's data
// area could ever hold, even empty.
var ErrBig = errors.New("pq: product too big for queue")

// ErrNotFound indicates a lookup (by signature, by cursor) found no
// matching product.
var ErrNotFound = errors.New("pq: not found")

// ErrEnd indicates a Sequence walk has reached the end of the queue in
// the requested direction.
var ErrEnd = errors.New("pq: end of queue")

// ErrCorrupt indicates an on-disk invariant was violated: a
// control-block magic/version mismatch at Open, a signature entry
// pointing at a region slot that is not in use, a region slot whose
// time-index back-pointer disagrees with the time index, or a stored
// record that does not decode. Open and DeleteBySignature log the
// detection via slog before returning this; the other detection sites
// (Sequence, SetCursorFromSignature) return it without a log record.
var ErrCorrupt = errors.New("pq: corrupt queue")

// ErrLocked indicates a region could not be reclaimed or deleted
// because it is held by an active cursor lease.
var ErrLocked = errors.New("pq: region locked by active cursor")

// ErrInvalid indicates a caller-supplied argument or call is invalid:
// nil options, a zero capacity or data size, a call on a closed queue,
// a reservation that was already committed or discarded, an EQ
// Sequence on an unset cursor, or a Release with no outstanding lease.
var ErrInvalid = errors.New("pq: invalid argument")

// IsAccess reports whether err is [ErrAccess] (or wraps it). Delegates
// to [iox.IsWouldBlock] for wrapped-error support.
func IsAccess(err error) bool {
	return iox.IsWouldBlock(err)
}

// IsEnd reports whether err is [ErrEnd] (or wraps it).
func IsEnd(err error) bool {
	return errors.Is(err, ErrEnd)
}
