// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package store implements the backing-store and locking layer (BS,
// spec §4.6): three interchangeable ways of turning a file offset into
// bytes, and advisory byte-range locking over the same file shared by
// every process with the queue open.
package store

import (
	"errors"
	"os"
	"sync"

	"code.hybscloud.com/iox"
	"golang.org/x/sys/unix"
)

// Mode names which of the three §4.6 backing-store strategies a Store
// is using. The public API never needs to branch on this; it exists so
// Stats()/tests can report and force it.
type Mode int

const (
	// ModeWhole maps the entire file once; ReadAt/WriteAt copy to and
	// from that single mapping.
	ModeWhole Mode = iota
	// ModePerRegion maps only the page-aligned range a single access
	// needs, unmapping it when that access is done. Used when the file
	// is too large to map in one piece.
	ModePerRegion
	// ModeReadWrite never maps; it pread/pwrite's directly between the
	// file and the caller's buffer. Used when mapping is disabled or the
	// initial whole-file map attempt fails for any reason other than
	// address-space exhaustion.
	ModeReadWrite
)

// ErrBusy is returned by Lock when wait is false and the range is
// already held by another lock owner. It aliases iox's would-block
// sentinel so callers already handling iox-flavored backpressure from
// unrelated hayabusa-cloud packages recognize it without a type switch.
var ErrBusy = iox.ErrWouldBlock

// Store is a single process's view of the backing file.
type Store struct {
	mu   sync.Mutex
	f    *os.File
	mode Mode
	size int64

	whole []byte // only set in ModeWhole
}

// Options controls how a Store is opened.
type Options struct {
	// DisableMmap forces ModeReadWrite regardless of file size.
	DisableMmap bool
	// ForcePerRegion forces ModePerRegion even when a whole-file
	// mapping would succeed. Used by tests to exercise all three
	// modes deterministically.
	ForcePerRegion bool
}

// Open opens an existing file of the given size and selects a backing
// mode per §4.6: whole-file mapping is tried first (unless disabled or
// per-region is forced), falling back to per-region mapping when the
// address space cannot hold the file (ENOMEM) and to read/write on any
// other mmap error.
func Open(f *os.File, size int64, opts Options) (*Store, error) {
	s := &Store{f: f, size: size}
	if opts.DisableMmap {
		s.mode = ModeReadWrite
		return s, nil
	}
	if opts.ForcePerRegion {
		s.mode = ModePerRegion
		return s, nil
	}
	mapped, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		// Address space exhausted for a very large file: fall back to
		// per-region mapping, which only ever maps a bounded range at
		// a time. Any other refusal (a filesystem that cannot be
		// mapped, a read-only descriptor) falls back to pread/pwrite.
		if errors.Is(err, unix.ENOMEM) {
			s.mode = ModePerRegion
		} else {
			s.mode = ModeReadWrite
		}
		return s, nil
	}
	s.mode = ModeWhole
	s.whole = mapped
	return s, nil
}

// Mode reports which backing-store strategy is active.
func (s *Store) Mode() Mode { return s.mode }

// Size reports the mapped file's size in bytes.
func (s *Store) Size() int64 { return s.size }

// Grow extends the store to a new size, truncating the underlying file
// and re-establishing a whole-file mapping if one is in use. Callers
// must hold the control-block exclusive lock while calling Grow.
func (s *Store) Grow(newSize int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.f.Truncate(newSize); err != nil {
		return err
	}
	if s.mode == ModeWhole {
		if err := unix.Munmap(s.whole); err != nil {
			return err
		}
		mapped, err := unix.Mmap(int(s.f.Fd()), 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			return err
		}
		s.whole = mapped
	}
	s.size = newSize
	return nil
}

// ReadAt copies len(buf) bytes starting at off into buf.
func (s *Store) ReadAt(off int64, buf []byte) error {
	switch s.mode {
	case ModeWhole:
		s.mu.Lock()
		defer s.mu.Unlock()
		if off < 0 || off+int64(len(buf)) > int64(len(s.whole)) {
			return errors.New("store: read out of range")
		}
		copy(buf, s.whole[off:off+int64(len(buf))])
		return nil
	case ModePerRegion:
		return s.perRegionAccess(off, buf, false)
	default:
		_, err := s.f.ReadAt(buf, off)
		return err
	}
}

// WriteAt writes buf to the file starting at off.
func (s *Store) WriteAt(off int64, buf []byte) error {
	switch s.mode {
	case ModeWhole:
		s.mu.Lock()
		defer s.mu.Unlock()
		if off < 0 || off+int64(len(buf)) > int64(len(s.whole)) {
			return errors.New("store: write out of range")
		}
		copy(s.whole[off:off+int64(len(buf))], buf)
		return nil
	case ModePerRegion:
		return s.perRegionAccess(off, buf, true)
	default:
		_, err := s.f.WriteAt(buf, off)
		return err
	}
}

// perRegionAccess maps just the page-aligned range covering [off,
// off+len(buf)), copies to/from it, and unmaps it again.
func (s *Store) perRegionAccess(off int64, buf []byte, write bool) error {
	pageSize := int64(os.Getpagesize())
	base := (off / pageSize) * pageSize
	end := off + int64(len(buf))
	mapLen := end - base
	if rem := mapLen % pageSize; rem != 0 {
		mapLen += pageSize - rem
	}
	mapped, err := unix.Mmap(int(s.f.Fd()), base, int(mapLen), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return err
	}
	defer unix.Munmap(mapped)
	rel := off - base
	if write {
		copy(mapped[rel:rel+int64(len(buf))], buf)
	} else {
		copy(buf, mapped[rel:rel+int64(len(buf))])
	}
	return nil
}

// Close releases the whole-file mapping (if any) and closes the file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == ModeWhole && s.whole != nil {
		if err := unix.Munmap(s.whole); err != nil {
			return err
		}
		s.whole = nil
	}
	return s.f.Close()
}

// Lock acquires an advisory byte-range lock on [off, off+length) of the
// backing file. exclusive selects F_WRLCK vs F_RDLCK; wait selects
// blocking (F_SETLKW) vs immediate-return (F_SETLK) semantics. The
// returned unlock function releases exactly this range.
func (s *Store) Lock(off, length int64, exclusive, wait bool) (unlock func() error, err error) {
	typ := int16(unix.F_RDLCK)
	if exclusive {
		typ = unix.F_WRLCK
	}
	flock := unix.Flock_t{
		Type:   typ,
		Whence: int16(os.SEEK_SET),
		Start:  off,
		Len:    length,
	}
	cmd := unix.F_SETLK
	if wait {
		cmd = unix.F_SETLKW
	}
	if ferr := unix.FcntlFlock(s.f.Fd(), cmd, &flock); ferr != nil {
		if !wait && (errors.Is(ferr, unix.EACCES) || errors.Is(ferr, unix.EAGAIN)) {
			return nil, ErrBusy
		}
		return nil, ferr
	}
	released := false
	return func() error {
		if released {
			return nil
		}
		released = true
		unflock := unix.Flock_t{
			Type:   unix.F_UNLCK,
			Whence: int16(os.SEEK_SET),
			Start:  off,
			Len:    length,
		}
		return unix.FcntlFlock(s.f.Fd(), unix.F_SETLK, &unflock)
	}, nil
}
