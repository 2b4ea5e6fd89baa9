package worker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/opsdesk/ticket-sync/internal/domain"
	"github.com/opsdesk/ticket-sync/internal/events"
	"github.com/opsdesk/ticket-sync/internal/service"
)

// Syncer runs one sync attempt for a ticket.
type Syncer interface {
	Sync(ctx context.Context, ticketID string) (*domain.Ticket, error)
}

// SyncPool runs sync attempts on a fixed number of goroutines. A ticket id is queued at
// most once at a time.
type SyncPool struct {
	syncer  Syncer
	queue   chan string
	workers int
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	wg      sync.WaitGroup
}

// NewSyncPool builds a pool; call Start to begin processing.
func NewSyncPool(syncer Syncer, workers, queueSize int, logger *zap.Logger) *SyncPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncPool{
		syncer:  syncer,
		queue:   make(chan string, queueSize),
		workers: workers,
		logger:  logger,
		pending: make(map[string]struct{}),
	}
}

// RegisterHandlers queues tickets on creation and on retry.
func (p *SyncPool) RegisterHandlers(dispatcher events.Dispatcher) {
	enqueue := func(_ context.Context, e events.Event) error {
		if !p.Enqueue(e.TicketID) {
			p.logger.Warn("sync queue full; ticket left for the sweep", zap.String("ticket_id", e.TicketID))
		}
		return nil
	}
	dispatcher.Subscribe(events.EventTicketCreated, enqueue)
	dispatcher.Subscribe(events.EventTicketRetryRequested, enqueue)
}

// Enqueue schedules a sync without blocking. It reports false when the queue is full;
// an id that is already queued counts as scheduled.
func (p *SyncPool) Enqueue(ticketID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, queued := p.pending[ticketID]; queued {
		return true
	}
	select {
	case p.queue <- ticketID:
		p.pending[ticketID] = struct{}{}
		return true
	default:
		return false
	}
}

// Start launches the workers. They stop when ctx is cancelled; Wait blocks until then.
func (p *SyncPool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
	p.logger.Info("sync workers started", zap.Int("workers", p.workers))
}

// Wait blocks until all workers have exited.
func (p *SyncPool) Wait() {
	p.wg.Wait()
}

func (p *SyncPool) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			p.mu.Lock()
			delete(p.pending, id)
			p.mu.Unlock()
			p.process(ctx, id)
		}
	}
}

func (p *SyncPool) process(ctx context.Context, ticketID string) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("sync worker panic", zap.String("ticket_id", ticketID), zap.Any("panic", r))
		}
	}()
	ticket, err := p.syncer.Sync(ctx, ticketID)
	switch {
	case errors.Is(err, service.ErrSyncInProgress):
		p.logger.Debug("sync already running elsewhere", zap.String("ticket_id", ticketID))
	case err != nil:
		p.logger.Warn("sync attempt aborted", zap.String("ticket_id", ticketID), zap.Error(err))
	default:
		p.logger.Debug("sync attempt finished",
			zap.String("ticket_id", ticketID),
			zap.String("creation_status", string(ticket.CreationStatus)))
	}
}
