// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pq

import "os"

// defaultSplitSlack is the default value of Options.SplitSlack (open
// question ii in the design notes: a tunable heuristic, not a contract).
const defaultSplitSlack = 64

// defaultAlign matches the historical sizeof(double) alignment unit.
const defaultAlign = 8

// Options configures [Create] and [Open].
//
// Options is the entire configuration surface: there is no file or
// environment-variable config layer, matching the teacher library this
// module's idiom is drawn from.
type Options struct {
	path       string
	perm       os.FileMode
	noClobber  bool
	align      uint32
	dataSize   uint64
	capacity   uint64
	splitSlack uint32
	pageSize   uint32

	disableMmap    bool
	forcePerRegion bool

	readOnly bool

	seed     int64
	hasSeed  bool
	clock    func() int64
}

// New creates an Options builder for the queue file at path. Defaults:
// perm 0o644, align 8, splitSlack 64, pageSize os.Getpagesize().
func New(path string) *Options {
	return &Options{
		path:       path,
		perm:       0o644,
		align:      defaultAlign,
		splitSlack: defaultSplitSlack,
		pageSize:   uint32(os.Getpagesize()),
	}
}

// Capacity sets the number of product slots the queue's region table,
// time index, and signature index are sized for.
func (o *Options) Capacity(n uint64) *Options {
	o.capacity = n
	return o
}

// DataSize sets the size in bytes of the data area, the region in which
// product bytes themselves are stored (distinct from Capacity, which
// bounds product *count*).
func (o *Options) DataSize(n uint64) *Options {
	o.dataSize = n
	return o
}

// Align sets the region-extent alignment unit. Rounded up internally to
// a power of 2 no smaller than 8.
func (o *Options) Align(n uint32) *Options {
	a := uint32(defaultAlign)
	for a < n && a < 1<<31 {
		a <<= 1
	}
	o.align = a
	return o
}

// Perm sets the file permission bits used by [Create].
func (o *Options) Perm(perm os.FileMode) *Options {
	o.perm = perm
	return o
}

// NoClobber makes [Create] fail with [os.ErrExist] instead of truncating
// an existing file at the target path.
func (o *Options) NoClobber() *Options {
	o.noClobber = true
	return o
}

// SplitSlack overrides the default 64-byte split-threshold slack used
// by the region allocator's best-fit split decision (design note, open
// question ii: this is a heuristic, not a contract).
func (o *Options) SplitSlack(n uint32) *Options {
	o.splitSlack = n
	return o
}

// PageSize overrides the host page size the control block is sized and
// aligned to. Mainly useful for tests that want small, deterministic
// control blocks; production callers should leave this at the default.
func (o *Options) PageSize(n uint32) *Options {
	o.pageSize = n
	return o
}

// DisableMmap forces the read/write (pread/pwrite) backing-store mode
// even when a whole-file mapping would succeed.
func (o *Options) DisableMmap() *Options {
	o.disableMmap = true
	return o
}

// ForcePerRegionMapping forces the per-region mapping backing-store mode.
// Mutually exclusive with DisableMmap (DisableMmap wins if both are set);
// exists so tests can exercise all three backing-store modes
// deterministically rather than relying on file size to pick one.
func (o *Options) ForcePerRegionMapping() *Options {
	o.forcePerRegion = true
	return o
}

// ReadOnly opens the queue without incrementing the write-count and
// without acquiring exclusive locks for mutating operations; mutating
// calls on a read-only queue return [ErrAccess]. Only meaningful for
// [Open]; [Create] always opens writable.
func (o *Options) ReadOnly() *Options {
	o.readOnly = true
	return o
}

// Seed fixes the skip-list arena's PRNG seed (design note: "PRNG
// determinism"). Existing on-disk skip-list levels never need to be
// reproduced across a reopen — only newly inserted nodes draw a level —
// so this only matters for making a single process's insert sequence
// reproducible under test. Left unset, both [Create] and [Open] seed
// from the wall clock.
func (o *Options) Seed(n int64) *Options {
	o.seed = n
	o.hasSeed = true
	return o
}

// Clock overrides the microsecond-resolution clock used to stamp
// insertion times. Defaults to the wall clock; tests use this to drive
// deterministic or sub-tick-resolution collision scenarios (§8.2).
func (o *Options) Clock(fn func() int64) *Options {
	o.clock = fn
	return o
}
