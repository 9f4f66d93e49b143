// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pq implements a persistent, memory-mapped, multi-writer/
// multi-reader product queue: a fixed-capacity, file-backed ring of
// opaque byte products keyed by a 128-bit content signature and an
// insertion timestamp.
//
// # Quick Start
//
//	q, err := pq.Create(pq.New("/tmp/queue.pq").
//	        Capacity(1024).
//	        DataSize(64 << 20))
//	if err != nil {
//	        log.Fatal(err)
//	}
//	defer q.Close()
//
//	err = q.Insert(pq.Product{
//	        Metadata: pq.Metadata{Origin: "station1", Feedtype: 1, Size: uint32(len(data))},
//	        Data:     data,
//	})
//
// # Reading
//
// Consumers set a cursor, then repeatedly call Sequence to walk the
// time index forward or backward. The cursor lives on the Queue handle
// itself (set once with SetCursor, advanced internally by each Sequence
// call), matching the single-cursor-per-handle model of the library
// this package's API is drawn from:
//
//	q.SetCursor(pq.Cursor{})
//	for {
//	        err := q.Sequence(pq.GT, pq.ClassFilter{}, func(m pq.Metadata, data []byte) error {
//	                process(m, data)
//	                return nil
//	        })
//	        if pq.IsEnd(err) {
//	                q.Suspend(5 * time.Second)
//	                continue
//	        }
//	        if err != nil {
//	                log.Fatal(err)
//	        }
//	}
//
// # Reserve/Commit
//
// Producers that know the payload size and signature up front can use
// Reserve to claim a region first and fill in the payload afterwards.
// The buffer Reserve hands back is process-local memory, not a mapping
// of the backing store; Commit copies it into the reserved region:
//
//	r, err := q.Reserve(uint32(len(payload)), signature)
//	if err != nil {
//	        return err
//	}
//	copy(r.Bytes(), payload)
//	q.Commit(r, meta)
//
// Reserve followed by neither Commit nor Discard leaves the region
// reserved (invisible to Sequence, but consuming capacity) even after
// the queue is closed; only DeleteBySignature on its signature returns
// it to the free list. Callers must always pair Reserve
// with exactly one of Commit or Discard.
//
// # Concurrency
//
// Multiple processes may open the same queue file concurrently for
// reading and writing. Coordination is entirely via advisory file-range
// locks on the backing file; within a single process, the *Queue value
// itself serializes concurrent Go-level callers with an internal mutex.
//
// # Error Handling
//
// API calls return a package-local sentinel error: [ErrDup] (duplicate
// signature — treated as a successful insert by convention, see
// Insert's doc comment), [ErrBig], [ErrNotFound], [ErrEnd], [ErrCorrupt],
// [ErrLocked], [ErrAccess] (lock contention or eviction blocked by
// holds — an alias of [code.hybscloud.com/iox.ErrWouldBlock] for
// ecosystem consistency), or [ErrInvalid].
//
// # Non-goals
//
// This package does not provide transactional durability across
// crashes, cross-host sharing, compression, encryption, replication, or
// per-product access control. A crash mid-reservation may leave a
// region permanently reserved; the next writer to exhaust capacity will
// simply never be able to evict it, which surfaces as [ErrAccess].
package pq
