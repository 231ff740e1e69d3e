package engine

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestUserLocksSerialize(t *testing.T) {
	locks := newUserLocks()
	ctx := context.Background()

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locks.acquire(ctx, "user-1")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Fatalf("critical section held by %d goroutines at once", maxInside)
	}
}

func TestUserLocksIndependentKeys(t *testing.T) {
	locks := newUserLocks()
	ctx := context.Background()

	releaseA, err := locks.acquire(ctx, "a")
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	defer releaseA()

	done := make(chan struct{})
	go func() {
		release, err := locks.acquire(ctx, "b")
		if err != nil {
			t.Errorf("acquire b: %v", err)
			return
		}
		release()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("lock on a blocked acquisition of b")
	}
}

func TestUserLocksAcquireTimeout(t *testing.T) {
	locks := newUserLocks()
	release, err := locks.acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locks.acquire(ctx, "a"); err == nil {
		t.Fatalf("expected bounded wait to fail while slot held")
	}
}

func TestUserLocksEvictIdleEntries(t *testing.T) {
	locks := newUserLocks()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		release, err := locks.acquire(ctx, "user-1")
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		release()
	}
	if n := locks.size(); n != 0 {
		t.Fatalf("registry holds %d entries after release, want 0", n)
	}
}
