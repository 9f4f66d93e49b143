// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pq

import (
	"errors"

	"github.com/hybscloud/pq/internal/store"
)

// lockRegion acquires an advisory byte-range lock on the data-area
// region [offset, offset+extent), translated to an absolute file
// offset. exclusive/wait mirror [store.Store.Lock].
func (q *Queue) lockRegion(offset, extent uint64, exclusive, wait bool) (unlock func() error, err error) {
	return q.st.Lock(int64(q.geo.dataOffset+offset), int64(extent), exclusive, wait)
}

// regionIsFree reports whether no process anywhere currently holds a
// lease on a data region. POSIX fcntl byte-range locks are associated
// with the (process, inode) pair, not the file descriptor: a second
// lock request from the very same process never conflicts with one it
// already holds, it silently replaces it — so the OS-level probe below
// only ever detects a lease held by an *other* process. This process's
// own [Queue.SequenceLock] leases are tracked separately in q.riu and
// checked first.
func (q *Queue) regionIsFree(offset, extent uint64) (bool, error) {
	if q.riu.IsHeld(offset) {
		return false, nil
	}
	unlock, err := q.lockRegion(offset, extent, true, false)
	if err != nil {
		if errors.Is(err, store.ErrBusy) {
			return false, nil
		}
		return false, err
	}
	return true, unlock()
}
