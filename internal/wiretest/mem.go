// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package wiretest provides an in-memory [wire.Accessor] for unit tests
// of the index packages, standing in for a real mmap'd or pread/pwrite
// backing store without touching the filesystem.
package wiretest

// Mem is a growable in-memory wire.Accessor.
type Mem struct {
	buf []byte
}

// NewMem returns a Mem pre-sized to at least n bytes.
func NewMem(n int64) *Mem {
	return &Mem{buf: make([]byte, n)}
}

func (m *Mem) grow(end int64) {
	if end <= int64(len(m.buf)) {
		return
	}
	next := make([]byte, end)
	copy(next, m.buf)
	m.buf = next
}

// ReadAt implements wire.Accessor.
func (m *Mem) ReadAt(off int64, buf []byte) error {
	m.grow(off + int64(len(buf)))
	copy(buf, m.buf[off:off+int64(len(buf))])
	return nil
}

// WriteAt implements wire.Accessor.
func (m *Mem) WriteAt(off int64, buf []byte) error {
	m.grow(off + int64(len(buf)))
	copy(m.buf[off:off+int64(len(buf))], buf)
	return nil
}
