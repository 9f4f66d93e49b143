// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package control implements the control block (CTL): the file's first
// page, holding the magic/version/layout fields every opener validates,
// the write-count and high-water bookkeeping, and the minimum virtual
// residence time (MVRT) tracked across evictions. It also owns the
// control-page advisory lock every mutating API call acquires.
package control

import (
	"errors"

	"github.com/hybscloud/pq/internal/store"
	"github.com/hybscloud/pq/internal/wire"
)

// ErrBadMagic indicates the file's magic number doesn't match [wire.Magic].
var ErrBadMagic = errors.New("control: bad magic")

// ErrBadVersion indicates the file's version doesn't match [wire.Version].
var ErrBadVersion = errors.New("control: unsupported on-disk version")

// ErrWriteLimit indicates the write-count has reached its implementation
// maximum; opening for write must fail rather than wrap the counter.
var ErrWriteLimit = errors.New("control: write-count limit reached")

// maxWriteCount bounds the write-count field; reaching it fails Open
// for write rather than silently wrapping around to 0.
const maxWriteCount = 1<<32 - 2

// Control wraps the control block's storage and locking.
type Control struct {
	st       *store.Store
	pageSize int64
}

// New wraps an already-open store whose first pageSize bytes hold the
// control block.
func New(st *store.Store, pageSize uint32) *Control {
	return &Control{st: st, pageSize: int64(pageSize)}
}

// Read decodes the current control block from storage.
func (c *Control) Read() (*wire.ControlBlock, error) {
	buf := make([]byte, wire.ControlBlockSize)
	if err := c.st.ReadAt(0, buf); err != nil {
		return nil, err
	}
	cb := &wire.ControlBlock{}
	cb.Decode(buf)
	return cb, nil
}

// Write encodes and persists cb.
func (c *Control) Write(cb *wire.ControlBlock) error {
	return c.st.WriteAt(0, cb.Encode())
}

// Validate checks the magic and version fields of an opened control block.
func Validate(cb *wire.ControlBlock) error {
	if cb.Magic != wire.Magic {
		return ErrBadMagic
	}
	if cb.Version != wire.Version {
		return ErrBadVersion
	}
	return nil
}

// Lock acquires the control-page range lock covering the whole first
// page, shared for readers or exclusive for writers.
func (c *Control) Lock(exclusive, wait bool) (unlock func() error, err error) {
	return c.st.Lock(0, c.pageSize, exclusive, wait)
}

// Fresh builds the control block written by create, before the data
// and index areas have been laid out by their respective packages.
func Fresh(path string, pageSize uint32, align uint32, dataOffset, dataSize, indexOffset, indexSize, capacity uint64) *wire.ControlBlock {
	return &wire.ControlBlock{
		Magic:           wire.Magic,
		Version:         wire.Version,
		WriteCountMagic: wire.Magic,
		Align:           align,
		PageSize:        pageSize,
		DataOffset:      dataOffset,
		DataSize:        dataSize,
		IndexOffset:     indexOffset,
		IndexSize:       indexSize,
		Capacity:        capacity,
		WriteCount:      1,
		MostRecentUS:    -1,
		Path:            path,
	}
}

// IncrementWriteCount bumps the write-count, failing with [ErrWriteLimit]
// rather than wrapping past the implementation maximum.
func IncrementWriteCount(cb *wire.ControlBlock) error {
	if cb.WriteCount >= maxWriteCount {
		return ErrWriteLimit
	}
	cb.WriteCount++
	return nil
}

// DecrementWriteCount decrements the write-count, floored at 0.
func DecrementWriteCount(cb *wire.ControlBlock) {
	if cb.WriteCount > 0 {
		cb.WriteCount--
	}
}

// UpdateMVRT applies the §4.5 MVRT update rule for a product with
// arrival time arrivalUS and insertion (commit) time insertionUS being
// deleted at nowUS: resid = now - max(arrival, insertion); if resid is
// smaller than the current MVRT (or MVRT is unset), MVRT and the
// usage snapshot are updated.
func UpdateMVRT(cb *wire.ControlBlock, arrivalUS, insertionUS, nowUS int64, usageBytes, usageSlots uint64) {
	base := arrivalUS
	if insertionUS > base {
		base = insertionUS
	}
	resid := nowUS - base
	if !cb.MVRTSet || resid < cb.MVRTus {
		cb.MVRTSet = true
		cb.MVRTus = resid
		cb.MVRTUsageBytes = usageBytes
		cb.MVRTUsageSlots = usageSlots
	}
}

// ClearMVRT resets the MVRT tracking fields.
func ClearMVRT(cb *wire.ControlBlock) {
	cb.MVRTSet = false
	cb.MVRTus = 0
	cb.MVRTUsageBytes = 0
	cb.MVRTUsageSlots = 0
}
