package modest

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestThreadPoolIdleExpiry(t *testing.T) {
	pool := NewThreadPool(4, 50*time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(4)
	for i := 0; i < 4; i++ {
		ok := pool.TryRunJob(func(ctx context.Context, th *Thread) {
			defer wg.Done()
		})
		if !ok {
			t.Fatal("expected permit to be available")
		}
	}
	wg.Wait()

	time.Sleep(200 * time.Millisecond)

	if got := pool.ThreadCount(); got != 0 {
		t.Fatalf("expected ThreadCount()==0 after idle-expiry, got %d", got)
	}
}

func TestThreadPoolTryRunJobSaturates(t *testing.T) {
	pool := NewThreadPool(1, time.Second)

	block := make(chan struct{})
	started := make(chan struct{})
	ok := pool.TryRunJob(func(ctx context.Context, th *Thread) {
		close(started)
		<-block
	})
	if !ok {
		t.Fatal("expected first job to acquire the only permit")
	}
	<-started

	if pool.TryRunJob(func(ctx context.Context, th *Thread) {}) {
		t.Fatal("expected second TryRunJob to fail while pool is saturated")
	}
	close(block)
}

func TestThreadPoolSetPoolSizeShrinksIdle(t *testing.T) {
	pool := NewThreadPool(3, time.Second)
	var wg sync.WaitGroup
	wg.Add(3)
	release := make(chan struct{})
	for i := 0; i < 3; i++ {
		// Each job holds its worker until all three are running, so no
		// worker is back on the idle list for the next dispatch to reuse.
		pool.TryRunJob(func(ctx context.Context, th *Thread) {
			wg.Done()
			<-release
		})
	}
	wg.Wait()
	close(release)
	time.Sleep(20 * time.Millisecond)

	if got := pool.ThreadCount(); got != 3 {
		t.Fatalf("expected 3 idle workers, got %d", got)
	}

	pool.SetPoolSize(1)
	time.Sleep(20 * time.Millisecond)

	if got := pool.ThreadCount(); got > 1 {
		t.Fatalf("expected at most 1 worker after shrinking pool size, got %d", got)
	}
}
