// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package wake implements the in-process wakeup channel behind Suspend:
// an FAA-based bounded MPSC queue of commit tokens. Every goroutine that
// commits a product (through Insert or Commit) enqueues a token; the single goroutine blocked in Suspend dequeues one
// and returns. This is the in-process half of the cross-process SIGCONT
// wakeup described for queue readers: a process with several committing
// writer goroutines still only needs one wakeup signal multiplexed
// across them, which is exactly MPSC.
package wake

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// pad prevents false sharing between hot counters on the same cache line.
type pad [64]byte
type padShort [64 - 8]byte

// Token carries no payload; its arrival is the signal.
type Token = struct{}

// Queue is an FAA-based MPSC token queue sized as a small fixed ring.
// Producers never block: Post is a best-effort notify, so a full queue
// simply means a wakeup is already pending and is dropped rather than
// returning an error to a committer.
type Queue struct {
	_        pad
	head     atomix.Uint64
	_        pad
	tail     atomix.Uint64
	_        pad
	draining atomix.Bool
	_        pad
	buffer   []slot
	capacity uint64
	size     uint64
	mask     uint64
}

type slot struct {
	cycle atomix.Uint64
	_     padShort
}

// New creates a wakeup queue. capacity rounds up to the next power of 2
// and bounds how many pending wakeups can be coalesced before Post
// silently drops further notifications (the consumer only ever needs
// one more wakeup regardless of how many committers notified it).
func New(capacity int) *Queue {
	if capacity < 2 {
		capacity = 2
	}
	n := uint64(roundToPow2(capacity))
	size := n * 2
	q := &Queue{
		buffer:   make([]slot, size),
		capacity: n,
		size:     size,
		mask:     size - 1,
	}
	for i := uint64(0); i < size; i++ {
		q.buffer[i].cycle.StoreRelaxed(i / n)
	}
	return q
}

// Drain marks the queue as shutting down; Draining reports true from
// then on. Wait itself never blocks, drained or not.
func (q *Queue) Drain() {
	q.draining.StoreRelease(true)
}

// Post enqueues a wakeup token. It never blocks: if the ring is full
// (an unlikely pile-up of un-consumed wakeups), the notification is
// dropped since a pending wakeup already covers it.
func (q *Queue) Post() {
	sw := spin.Wait{}
	for i := 0; i < 8; i++ {
		tail := q.tail.LoadAcquire()
		head := q.head.LoadRelaxed()
		if tail >= head+q.capacity {
			return
		}
		myTail := q.tail.AddAcqRel(1) - 1
		s := &q.buffer[myTail&q.mask]
		expected := myTail / q.capacity
		cur := s.cycle.LoadAcquire()
		if cur == expected {
			s.cycle.StoreRelease(expected + 1)
			return
		}
		if int64(cur) < int64(expected) {
			return
		}
		sw.Once()
	}
}

// Wait consumes one pending wakeup token, or reports false immediately
// if none is pending, whether or not the queue has been drained.
func (q *Queue) Wait() (woke bool) {
	head := q.head.LoadRelaxed()
	cycle := head / q.capacity
	s := &q.buffer[head&q.mask]
	if s.cycle.LoadAcquire() != cycle+1 {
		return false
	}
	next := (head + q.size) / q.capacity
	s.cycle.StoreRelease(next)
	q.head.StoreRelaxed(head + 1)
	return true
}

// Draining reports whether Drain has been called.
func (q *Queue) Draining() bool { return q.draining.LoadAcquire() }

func roundToPow2(n int) int {
	if n < 2 {
		return 2
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
