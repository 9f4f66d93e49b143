// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package riu implements the per-process in-use region table: a
// heap-resident, never-shared record of which data-area regions the
// current process currently holds a lock on, sorted by offset. It
// forbids a process from recursively re-locking a region it already
// holds and tracks the outstanding-hold counter SequenceLock uses to
// keep a region ineligible for eviction until Release is called.
package riu

import (
	"errors"
	"sort"
	"sync"

	"code.hybscloud.com/atomix"
)

// ErrRecursive indicates the process already holds a lock on this offset.
var ErrRecursive = errors.New("riu: region already locked by this process")

// ErrNotFound indicates no entry exists for the given offset.
var ErrNotFound = errors.New("riu: region not in use by this process")

// Entry records one region currently mapped/locked by this process.
type Entry struct {
	Offset uint64
	Extent uint64
	Slot   uint32
	holds  atomix.Int64
}

// Holds reports the number of outstanding SequenceLock leases on this region.
func (e *Entry) Holds() int64 { return e.holds.LoadAcquire() }

// Table is a process-private, offset-sorted table of in-use regions.
type Table struct {
	mu      sync.Mutex
	entries []*Entry
}

// New creates an empty table.
func New() *Table { return &Table{} }

func (t *Table) find(offset uint64) (int, bool) {
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].Offset >= offset })
	if i < len(t.entries) && t.entries[i].Offset == offset {
		return i, true
	}
	return i, false
}

// Get records a newly acquired region lock. Returns [ErrRecursive] if
// this process already holds offset.
func (t *Table) Get(offset, extent uint64, slot uint32) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, found := t.find(offset)
	if found {
		return nil, ErrRecursive
	}
	e := &Entry{Offset: offset, Extent: extent, Slot: slot}
	t.entries = append(t.entries, nil)
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = e
	return e, nil
}

// Release removes the entry for offset. It does not check the entry's
// outstanding holds; callers check [Table.IsHeld] first where that matters.
func (t *Table) Release(offset uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, found := t.find(offset)
	if !found {
		return ErrNotFound
	}
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	return nil
}

// Find returns the entry for offset, if this process holds it.
func (t *Table) Find(offset uint64) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, found := t.find(offset)
	if !found {
		return nil, false
	}
	return t.entries[i], true
}

// Hold increments the lease counter for offset (SequenceLock matched).
func (t *Table) Hold(offset uint64) {
	if e, ok := t.Find(offset); ok {
		e.holds.AddAcqRel(1)
	}
}

// Unhold decrements the lease counter for offset (Release called).
func (t *Table) Unhold(offset uint64) {
	if e, ok := t.Find(offset); ok {
		if e.holds.LoadAcquire() > 0 {
			e.holds.AddAcqRel(-1)
		}
	}
}

// IsHeld reports whether this process currently has an outstanding
// SequenceLock lease on offset.
func (t *Table) IsHeld(offset uint64) bool {
	e, ok := t.Find(offset)
	return ok && e.Holds() > 0
}

// Len reports the number of regions currently tracked.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
