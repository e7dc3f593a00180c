package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_BoundedConcurrency(t *testing.T) {
	p := newWorkerPool(2)
	ctx := context.Background()

	var active, peak atomic.Int64
	release := make(chan struct{})
	for i := 0; i < 6; i++ {
		err := p.Submit(ctx, nil, nil, func() {
			n := active.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			<-release
			active.Add(-1)
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	p.Wait()

	if got := peak.Load(); got > 2 {
		t.Fatalf("concurrency exceeded pool size: %d", got)
	}
}

func TestPool_QueueFull(t *testing.T) {
	p := newWorkerPool(1) // queue capacity 4
	ctx := context.Background()

	release := make(chan struct{})
	accepted := 0
	var refused error
	for i := 0; i < 10; i++ {
		err := p.Submit(ctx, nil, nil, func() { <-release })
		if err != nil {
			refused = err
			break
		}
		accepted++
	}
	if !errors.Is(refused, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", refused)
	}
	if accepted != 4 {
		t.Fatalf("expected 4 accepted before refusal, got %d", accepted)
	}
	close(release)
	p.Wait()
}

func TestPool_CancelledContextSkipsJob(t *testing.T) {
	p := newWorkerPool(1)

	block := make(chan struct{})
	if err := p.Submit(context.Background(), nil, nil, func() { <-block }); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var ran, bailed atomic.Bool
	err := p.Submit(ctx, nil,
		func() { bailed.Store(true) },
		func() { ran.Store(true) })
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	close(block)
	p.Wait()

	if ran.Load() {
		t.Fatal("job with cancelled context must not run")
	}
	if !bailed.Load() {
		t.Fatal("aborted callback must run for a cancelled queued job")
	}
	if p.QueueDepth() != 0 {
		t.Fatalf("queue depth leaked: %d", p.QueueDepth())
	}
}

func TestPool_StartedCallback(t *testing.T) {
	p := newWorkerPool(1)
	var order []string
	done := make(chan struct{})
	err := p.Submit(context.Background(),
		func() { order = append(order, "started") },
		nil,
		func() { order = append(order, "ran"); close(done) })
	if err != nil {
		t.Fatal(err)
	}
	<-done
	p.Wait()
	if len(order) != 2 || order[0] != "started" {
		t.Fatalf("unexpected order: %v", order)
	}
}
