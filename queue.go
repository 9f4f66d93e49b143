// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pq

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/hybscloud/pq/internal/arena"
	"github.com/hybscloud/pq/internal/control"
	"github.com/hybscloud/pq/internal/region"
	"github.com/hybscloud/pq/internal/riu"
	"github.com/hybscloud/pq/internal/sigindex"
	"github.com/hybscloud/pq/internal/store"
	"github.com/hybscloud/pq/internal/timeindex"
	"github.com/hybscloud/pq/internal/wake"
	"github.com/hybscloud/pq/internal/wire"
)

// defaultWakeCapacity bounds how many pending same-process wakeups
// Suspend coalesces before further Post calls are dropped; one pending
// token is always enough to wake the single Suspend caller, so this is
// deliberately small.
const defaultWakeCapacity = 8

// Queue is a handle to an open product queue. A *Queue is safe for
// concurrent use by multiple goroutines: the public API serializes
// Go-level callers with an internal mutex and additionally coordinates
// with other processes via advisory file-range locks on the backing
// file, matching the concurrency model in §5.
type Queue struct {
	mu sync.Mutex

	path     string
	opts     Options
	clock    func() int64
	readOnly bool

	f  *os.File
	st *store.Store

	ctl    *control.Control
	arena  *arena.Arena
	region *region.Region
	time   *timeindex.TimeIndex
	sig    *sigindex.SigIndex
	riu    *riu.Table
	wakeQ  *wake.Queue

	// leases holds the OS-lock unlock func for each offset this process
	// has an outstanding SequenceLock on; see riu for the hold-count
	// bookkeeping this is keyed alongside.
	leases map[uint64]func() error

	geo geometry

	cursor  Cursor
	closed  bool
}

func defaultClock() int64 { return time.Now().UnixMicro() }

func seedFor(o *Options) int64 {
	if o.hasSeed {
		return o.seed
	}
	return time.Now().UnixNano()
}

// Create creates a new queue file and writes its initial layout:
// control block, one giant free region spanning the data area, an
// initialized skip-list arena, and empty time and signature indexes
// (§4.9 "create").
func Create(o *Options) (*Queue, error) {
	if o == nil {
		return nil, fmt.Errorf("%w: nil options", ErrInvalid)
	}
	if o.capacity == 0 {
		return nil, fmt.Errorf("%w: capacity must be > 0", ErrInvalid)
	}
	if o.dataSize == 0 {
		return nil, fmt.Errorf("%w: data size must be > 0", ErrInvalid)
	}

	flags := os.O_RDWR | os.O_CREATE
	if o.noClobber {
		flags |= os.O_EXCL
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(o.path, flags, o.perm)
	if err != nil {
		return nil, err
	}

	geo := computeGeometry(o.pageSize, o.dataSize, o.capacity)
	if err := f.Truncate(geo.totalSize); err != nil {
		f.Close()
		os.Remove(o.path)
		return nil, err
	}

	st, err := store.Open(f, geo.totalSize, store.Options{
		DisableMmap:    o.disableMmap,
		ForcePerRegion: o.forcePerRegion,
	})
	if err != nil {
		f.Close()
		return nil, err
	}

	a := arena.New(st, geo.arenaOffset, geo.capTable, seedFor(o))
	if err := a.Init(); err != nil {
		st.Close()
		return nil, err
	}
	reg := region.New(st, geo.regionOffset, o.capacity, a, o.splitSlack)
	if err := reg.Init(o.dataSize); err != nil {
		st.Close()
		return nil, err
	}
	ti := timeindex.New(st, geo.timeOffset, o.capacity, a)
	if err := ti.Init(); err != nil {
		st.Close()
		return nil, err
	}
	si := sigindex.New(st, geo.sigOffset, o.capacity)
	if err := si.Init(); err != nil {
		st.Close()
		return nil, err
	}

	cb := control.Fresh(o.path, o.pageSize, o.align, geo.dataOffset, geo.dataSize, geo.indexOffset, geo.indexSize, o.capacity)
	ctl := control.New(st, o.pageSize)
	if err := ctl.Write(cb); err != nil {
		st.Close()
		return nil, err
	}

	clock := o.clock
	if clock == nil {
		clock = defaultClock
	}

	q := &Queue{
		path:   o.path,
		opts:   *o,
		clock:  clock,
		f:      f,
		st:     st,
		ctl:    ctl,
		arena:  a,
		region: reg,
		time:   ti,
		sig:    si,
		riu:    riu.New(),
		wakeQ:  wake.New(defaultWakeCapacity),
		leases: make(map[uint64]func() error),
		geo:    geo,
	}
	return q, nil
}

// Open opens an existing queue file, validating its magic and version
// (§4.9 "open"). Opening read/write increments the write-count unless
// [Options.ReadOnly] was set.
func Open(o *Options) (*Queue, error) {
	if o == nil {
		return nil, fmt.Errorf("%w: nil options", ErrInvalid)
	}
	flags := os.O_RDWR
	if o.readOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(o.path, flags, 0)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	st, err := store.Open(f, fi.Size(), store.Options{
		DisableMmap:    o.disableMmap,
		ForcePerRegion: o.forcePerRegion,
	})
	if err != nil {
		f.Close()
		return nil, err
	}

	// The control block's own encoded size doesn't depend on the host
	// page size, so it can be read before PageSize is known.
	ctl := control.New(st, uint32(fi.Size()))
	cb, err := ctl.Read()
	if err != nil {
		st.Close()
		return nil, err
	}
	if verr := control.Validate(cb); verr != nil {
		st.Close()
		slog.Warn("pq: open rejected", "path", o.path, "error", verr)
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, verr)
	}
	ctl = control.New(st, cb.PageSize)

	if !o.readOnly {
		unlock, lerr := ctl.Lock(true, true)
		if lerr != nil {
			st.Close()
			return nil, lerr
		}
		cb, err = ctl.Read()
		if err != nil {
			unlock()
			st.Close()
			return nil, err
		}
		if ierr := control.IncrementWriteCount(cb); ierr != nil {
			unlock()
			st.Close()
			return nil, fmt.Errorf("%w: %v", ErrAccess, ierr)
		}
		werr := ctl.Write(cb)
		unlock()
		if werr != nil {
			st.Close()
			return nil, werr
		}
	}

	geo := computeGeometry(cb.PageSize, cb.DataSize, cb.Capacity)
	a := arena.New(st, geo.arenaOffset, geo.capTable, seedFor(o))
	reg := region.New(st, geo.regionOffset, cb.Capacity, a, o.splitSlack)
	ti := timeindex.New(st, geo.timeOffset, cb.Capacity, a)
	si := sigindex.New(st, geo.sigOffset, cb.Capacity)

	clock := o.clock
	if clock == nil {
		clock = defaultClock
	}

	q := &Queue{
		path:     o.path,
		opts:     *o,
		clock:    clock,
		readOnly: o.readOnly,
		f:        f,
		st:       st,
		ctl:      ctl,
		arena:    a,
		region:   reg,
		time:     ti,
		sig:      si,
		riu:      riu.New(),
		wakeQ:    wake.New(defaultWakeCapacity),
		leases:   make(map[uint64]func() error),
		geo:      geo,
	}
	q.opts.capacity = cb.Capacity
	return q, nil
}

// Close releases outstanding region mappings, decrements the
// write-count if this handle was opened writable, and closes the file
// (§4.9 "close"). Close is idempotent.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	q.wakeQ.Drain()

	if !q.readOnly {
		if unlock, err := q.ctl.Lock(true, true); err == nil {
			if cb, rerr := q.ctl.Read(); rerr == nil {
				control.DecrementWriteCount(cb)
				q.ctl.Write(cb)
			}
			unlock()
		}
	}
	return q.st.Close()
}

// mutate runs fn with the control block decoded, the control-page
// exclusive lock held, and persists whatever fn did to cb before
// releasing the lock. This is the Go expression of the critical-section
// protocol in §4.8: steps 2-3 (lock acquisition) wrap fn, steps 5-6
// (lock release, and here, write-back) happen on return. Go's signal
// delivery is asynchronous (dispatched off a runtime-owned thread via
// channels, not synchronously per-goroutine), so step 1/7 (signal
// masking) has no direct analogue here — see DESIGN.md for why this is
// safe: the only signal handler this package installs (Suspend's
// SIGCONT/SIGALRM no-op) never touches shared state.
// mutate persists whatever fn did to cb even when fn returns an error:
// eviction inside allocateRegion writes its index changes straight
// through to the backend as it goes (they cannot be rolled back), so a
// late failure (e.g. the eviction scan limit) still leaves the control
// block's bookkeeping counters needing to reflect the partial progress
// already made.
func (q *Queue) mutate(fn func(cb *wire.ControlBlock) error) error {
	if q.readOnly {
		return fmt.Errorf("%w: queue opened read-only", ErrAccess)
	}
	unlock, err := q.ctl.Lock(true, true)
	if err != nil {
		return err
	}
	defer unlock()
	cb, err := q.ctl.Read()
	if err != nil {
		return err
	}
	ferr := fn(cb)
	if werr := q.ctl.Write(cb); werr != nil {
		if ferr == nil {
			return werr
		}
	}
	return ferr
}

// readLocked runs fn with the control block decoded and the
// control-page shared lock held, without persisting any change fn
// makes to the in-memory copy (read-only API calls use this).
func (q *Queue) readLocked(fn func(cb *wire.ControlBlock) error) error {
	unlock, err := q.ctl.Lock(false, true)
	if err != nil {
		return err
	}
	defer unlock()
	cb, err := q.ctl.Read()
	if err != nil {
		return err
	}
	return fn(cb)
}
