package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opsdesk/ticket-sync/internal/domain"
	"github.com/opsdesk/ticket-sync/internal/events"
	"github.com/opsdesk/ticket-sync/internal/service"
)

type recordingSyncer struct {
	mu    sync.Mutex
	calls []string
	done  chan string
	err   error
}

func (r *recordingSyncer) Sync(ctx context.Context, id string) (*domain.Ticket, error) {
	r.mu.Lock()
	r.calls = append(r.calls, id)
	err := r.err
	r.mu.Unlock()
	r.done <- id
	if err != nil {
		return nil, err
	}
	return &domain.Ticket{ID: id, CreationStatus: domain.CreationStatusCreated}, nil
}

func TestSyncPoolProcessesEvents(t *testing.T) {
	syncer := &recordingSyncer{done: make(chan string, 4)}
	pool := NewSyncPool(syncer, 2, 8, nil)
	dispatcher := events.NewInMemoryDispatcher(nil)
	pool.RegisterHandlers(dispatcher)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	defer func() {
		cancel()
		pool.Wait()
	}()

	_ = dispatcher.Publish(ctx, events.Event{Type: events.EventTicketCreated, TicketID: "a"})
	_ = dispatcher.Publish(ctx, events.Event{Type: events.EventTicketRetryRequested, TicketID: "b"})

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-syncer.done:
			got[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for sync")
		}
	}
	if !got["a"] || !got["b"] {
		t.Fatalf("unexpected synced ids %v", got)
	}
}

func TestSyncPoolDeduplicatesQueuedIDs(t *testing.T) {
	pool := NewSyncPool(&recordingSyncer{done: make(chan string, 1)}, 1, 2, nil)
	if !pool.Enqueue("x") || !pool.Enqueue("x") {
		t.Fatal("enqueue should report scheduled")
	}
	if len(pool.queue) != 1 {
		t.Fatalf("expected one queued entry, got %d", len(pool.queue))
	}
	if !pool.Enqueue("y") {
		t.Fatal("second id should fit")
	}
	if pool.Enqueue("z") {
		t.Fatal("full queue should reject")
	}
}

func TestSyncPoolToleratesErrors(t *testing.T) {
	syncer := &recordingSyncer{done: make(chan string, 2), err: service.ErrSyncInProgress}
	pool := NewSyncPool(syncer, 1, 4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	pool.Enqueue("busy")
	<-syncer.done
	syncer.mu.Lock()
	syncer.err = errors.New("db down")
	syncer.mu.Unlock()
	pool.Enqueue("broken")
	<-syncer.done
	cancel()
	pool.Wait()
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := NewScheduler(nil)
	if err := s.Add("bad", "not a schedule", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestSchedulerRunsJobs(t *testing.T) {
	s := NewScheduler(nil)
	var runs int32
	fired := make(chan struct{}, 1)
	if err := s.Add("tick", "@every 1s", func(ctx context.Context) error {
		if atomic.AddInt32(&runs, 1) == 1 {
			fired <- struct{}{}
		}
		return errors.New("logged, not fatal")
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(stopped)
	}()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job never fired")
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
