package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opsdesk/ticket-sync/internal/domain"
	"github.com/opsdesk/ticket-sync/internal/events"
	"github.com/opsdesk/ticket-sync/internal/remote"
	"github.com/opsdesk/ticket-sync/internal/repository/memory"
)

type fakeIncidentClient struct {
	mu       sync.Mutex
	creates  int
	fetches  int
	requests []remote.IncidentRequest
	delay    time.Duration
	createFn func(n int) (remote.IncidentRef, error)
	status   string
	statusOK bool
}

func (f *fakeIncidentClient) CreateIncident(ctx context.Context, req remote.IncidentRequest) (remote.IncidentRef, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.creates++
	n := f.creates
	f.requests = append(f.requests, req)
	fn := f.createFn
	f.mu.Unlock()
	if fn == nil {
		return remote.IncidentRef{Number: "INC0010001", SysID: "sys-1"}, nil
	}
	return fn(n)
}

func (f *fakeIncidentClient) FetchStatus(ctx context.Context, sysID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.status, f.statusOK
}

func (f *fakeIncidentClient) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []string
	err   error
	numbs []*string
}

func (f *fakeNotifier) SendTicketReply(ctx context.Context, channelKey, recipient, subject string, ticketNumber *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, recipient)
	f.numbs = append(f.numbs, ticketNumber)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) subscribe(d events.Dispatcher, types ...events.EventType) {
	for _, t := range types {
		d.Subscribe(t, func(_ context.Context, e events.Event) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, e)
			return nil
		})
	}
}

func (r *eventRecorder) ofType(t events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func seedTicket(t *testing.T, store *memory.Store, mutate func(*domain.Ticket)) *domain.Ticket {
	t.Helper()
	ticket := &domain.Ticket{
		Title:          "VPN down",
		Description:    "cannot reach the office network",
		Category:       domain.CategoryNetwork,
		Priority:       "critical",
		RequestType:    domain.RequestTypeWeb,
		CreationStatus: domain.CreationStatusPending,
		RemoteStatus:   domain.DefaultRemoteStatus,
	}
	if mutate != nil {
		mutate(ticket)
	}
	if err := store.Repos().Tickets.Create(context.Background(), ticket); err != nil {
		t.Fatalf("seed ticket: %v", err)
	}
	return ticket
}

func mustGet(t *testing.T, store *memory.Store, id string) *domain.Ticket {
	t.Helper()
	ticket, err := store.Repos().Tickets.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get ticket %s: %v", id, err)
	}
	return ticket
}

// assertIdentifierInvariant checks created <=> both remote identifiers present.
func assertIdentifierInvariant(t *testing.T, ticket *domain.Ticket) {
	t.Helper()
	hasIDs := ticket.RemoteTicketNumber != nil && ticket.RemoteSysID != nil
	if (ticket.CreationStatus == domain.CreationStatusCreated) != hasIDs {
		t.Fatalf("identifier invariant broken: status=%s number=%v sys_id=%v",
			ticket.CreationStatus, ticket.RemoteTicketNumber, ticket.RemoteSysID)
	}
}

var errBoom = errors.New("boom")
