// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pq

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"code.hybscloud.com/iox"
)

// wake notifies both same-process Suspend callers (via the internal
// wake queue) and other processes with the queue open (via SIGCONT to
// the process group, §6.3) that a new product is available. Called
// after every successful Insert/Commit.
func (q *Queue) wake() {
	q.wakeQ.Post()
	// pid 0 addresses the caller's own process group, matching "emits
	// SIGCONT to its own process group" in §6.3. ESRCH/EPERM are not
	// actionable here — wake is advisory, not a failure path — so the
	// error is intentionally ignored.
	_ = syscall.Kill(0, syscall.SIGCONT)
}

// Suspend blocks the calling goroutine until either a SIGCONT (another
// process or this one committed a product), a SIGALRM, or the given
// duration elapses, returning the unused remainder of the duration
// (§4.9 "suspend", §6.3). It installs no-op handlers for SIGCONT and
// SIGALRM for the duration of the call and restores prior disposition
// before returning, as the design notes require.
func (q *Queue) Suspend(d time.Duration) (remaining time.Duration, err error) {
	sigCh := make(chan struct{}, 1)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGCONT, syscall.SIGALRM)
	defer signal.Stop(ch)

	start := time.Now()
	timer := time.NewTimer(d)
	defer timer.Stop()

	done := make(chan struct{})
	defer close(done)
	go func() {
		backoff := iox.Backoff{}
		for {
			select {
			case <-done:
				return
			default:
			}
			if q.wakeQ.Wait() {
				select {
				case sigCh <- struct{}{}:
				default:
				}
				return
			}
			if q.wakeQ.Draining() {
				return
			}
			backoff.Wait()
		}
	}()

	select {
	case <-ch:
	case <-sigCh:
	case <-timer.C:
		return 0, nil
	}
	remaining = d - time.Since(start)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
