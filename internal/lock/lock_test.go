package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLocalLockerExclusive(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	release, err := l.TryAcquire(ctx, "ticket-1", time.Minute)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := l.TryAcquire(ctx, "ticket-1", time.Minute); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}
	if _, err := l.TryAcquire(ctx, "ticket-2", time.Minute); err != nil {
		t.Fatalf("other key should be independent: %v", err)
	}

	release()
	release()
	if _, err := l.TryAcquire(ctx, "ticket-1", time.Minute); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestLocalLockerExpiry(t *testing.T) {
	l := NewLocalLocker()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.clock = func() time.Time { return now }

	stale, err := l.TryAcquire(context.Background(), "k", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	now = now.Add(2 * time.Second)
	if _, err := l.TryAcquire(context.Background(), "k", time.Second); err != nil {
		t.Fatalf("expected expired lock to be reclaimable: %v", err)
	}

	// releasing the stale handle must not free the new holder
	stale()
	if _, err := l.TryAcquire(context.Background(), "k", time.Second); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("stale release freed new holder: %v", err)
	}
}

func TestLocalLockerConcurrent(t *testing.T) {
	l := NewLocalLocker()
	var winners int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := l.TryAcquire(context.Background(), "same", time.Minute); err == nil {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	close(start)
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestLocalLockerCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewLocalLocker().TryAcquire(ctx, "k", time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
