// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wake_test

import (
	"sync"
	"testing"
	"time"

	"github.com/hybscloud/pq/internal/wake"
)

func TestWaitFalseWhenNothingPosted(t *testing.T) {
	q := wake.New(4)
	if q.Wait() {
		t.Fatal("Wait returned true with no pending post")
	}
}

func TestPostThenWaitConsumesOneToken(t *testing.T) {
	q := wake.New(4)
	q.Post()
	if !q.Wait() {
		t.Fatal("expected Wait to consume the posted token")
	}
	if q.Wait() {
		t.Fatal("expected no second token pending")
	}
}

func TestMultiplePostsCoalesceOneOutstandingWakeup(t *testing.T) {
	q := wake.New(2)
	q.Post()
	q.Post()
	q.Post()
	woke := 0
	for i := 0; i < 4; i++ {
		if q.Wait() {
			woke++
		}
	}
	if woke < 1 {
		t.Fatalf("expected at least one coalesced wakeup, got %d", woke)
	}
}

func TestDrainingReportsTrueAfterDrain(t *testing.T) {
	q := wake.New(2)
	if q.Draining() {
		t.Fatal("expected Draining false before Drain")
	}
	q.Drain()
	if !q.Draining() {
		t.Fatal("expected Draining true after Drain")
	}
}

// Concurrent producers posting while a consumer polls Wait must never
// deadlock or panic; this mirrors how committing writer goroutines and a
// single Suspend caller share the queue in practice.
func TestConcurrentProducersSingleConsumer(t *testing.T) {
	q := wake.New(8)
	const producers = 16
	const postsEach = 200

	var wg sync.WaitGroup
	wg.Add(producers)
	for i := 0; i < producers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < postsEach; j++ {
				q.Post()
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			q.Wait()
		}
		close(done)
	}()

	wg.Wait()
	<-done
}
