// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pq_test

import (
	"testing"
	"time"
)

func TestSuspendReturnsZeroOnTimeout(t *testing.T) {
	q := mustCreate(t, testOptions(testPath(t)))
	start := time.Now()
	remaining, err := q.Suspend(50 * time.Millisecond)
	if err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("remaining: got %v, want 0 on timeout", remaining)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("Suspend returned too early: %v", elapsed)
	}
}

func TestSuspendWakesOnInsert(t *testing.T) {
	q := mustCreate(t, testOptions(testPath(t)).Clock(fixedClock(1)))

	woke := make(chan time.Duration, 1)
	go func() {
		remaining, err := q.Suspend(2 * time.Second)
		if err != nil {
			t.Error(err)
			return
		}
		woke <- remaining
	}()

	time.Sleep(50 * time.Millisecond)
	if err := q.Insert(testProduct(1, "A", "B", "x")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	select {
	case remaining := <-woke:
		if remaining <= 0 {
			t.Fatalf("remaining: got %v, want > 0 (woken early by insert)", remaining)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Suspend did not wake within timeout after Insert")
	}
}

func TestSuspendMultipleSequentialCalls(t *testing.T) {
	q := mustCreate(t, testOptions(testPath(t)))
	for i := 0; i < 3; i++ {
		if _, err := q.Suspend(10 * time.Millisecond); err != nil {
			t.Fatalf("Suspend[%d]: %v", i, err)
		}
	}
}
