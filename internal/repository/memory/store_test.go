package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/opsdesk/ticket-sync/internal/domain"
	"github.com/opsdesk/ticket-sync/internal/repository"
)

func newTicket() *domain.Ticket {
	return &domain.Ticket{
		Title:          "Disk full",
		Category:       domain.CategoryStorage,
		Priority:       "high",
		RequestType:    domain.RequestTypeWeb,
		CreationStatus: domain.CreationStatusPending,
		RemoteStatus:   domain.DefaultRemoteStatus,
	}
}

func TestWithinTxRollsBack(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	errAbort := errors.New("abort")

	err := s.WithinTx(ctx, func(repos repository.Repositories) error {
		if err := repos.Tickets.Create(ctx, newTicket()); err != nil {
			return err
		}
		if _, _, err := repos.Emails.InsertOrGet(ctx, &domain.EmailTicket{UID: "u1"}); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("expected abort error, got %v", err)
	}
	if s.TicketCount() != 0 || s.EmailCount() != 0 {
		t.Fatal("rolled back writes are visible")
	}
}

func TestWithinTxCommitKeepsConcurrentWrites(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	outside := newTicket()
	if err := s.Repos().Tickets.Create(ctx, outside); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := s.WithinTx(ctx, func(repos repository.Repositories) error {
		// a write outside the transaction while it is open
		if err := s.Repos().Tickets.UpdateRemoteStatus(ctx, outside.ID, "In Progress"); err != nil {
			return err
		}
		return repos.Tickets.Create(ctx, newTicket())
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	got, err := s.Repos().Tickets.GetByID(ctx, outside.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RemoteStatus != "In Progress" {
		t.Fatal("commit clobbered a concurrent write")
	}
	if s.TicketCount() != 2 {
		t.Fatalf("expected 2 tickets, got %d", s.TicketCount())
	}
}

func TestConditionalTransitions(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	repo := s.Repos().Tickets
	ticket := newTicket()
	_ = repo.Create(ctx, ticket)
	now := time.Now()

	ok, err := repo.MarkCreated(ctx, ticket.ID, "INC1", "sys1", now)
	if err != nil || !ok {
		t.Fatalf("mark created: %v %v", ok, err)
	}
	if ok, _ := repo.MarkFailed(ctx, ticket.ID, repository.SyncFailure{Status: domain.CreationStatusFailed, Attempts: 1, ErrorMessage: "x", AttemptedAt: now}); ok {
		t.Fatal("created ticket must not transition to failed")
	}
	if ok, _ := repo.ResetForRetry(ctx, ticket.ID, now); ok {
		t.Fatal("created ticket must not be reset")
	}
	if ok, _ := repo.MarkCreated(ctx, ticket.ID, "INC2", "sys2", now); ok {
		t.Fatal("second create must be rejected")
	}
	got, _ := repo.GetByID(ctx, ticket.ID)
	if *got.RemoteTicketNumber != "INC1" {
		t.Fatalf("identifiers overwritten: %s", *got.RemoteTicketNumber)
	}
}

func TestMissingRowsReturnErrNoRows(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	if _, err := s.Repos().Tickets.GetByID(ctx, "nope"); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("tickets: %v", err)
	}
	if err := s.Repos().Tickets.UpdateRemoteStatus(ctx, "nope", "x"); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("update remote status: %v", err)
	}
	if _, err := s.Repos().Emails.GetByUID(ctx, "nope"); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("emails: %v", err)
	}
	if _, err := s.Repos().Users.GetByEmail(ctx, "nope@test"); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("users: %v", err)
	}
}

func TestInsertOrGetAndLinkOnce(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	emails := s.Repos().Emails

	first, created, err := emails.InsertOrGet(ctx, &domain.EmailTicket{UID: "MSG-1", Sender: "a@test"})
	if err != nil || !created {
		t.Fatalf("insert: %v %v", created, err)
	}
	again, created, err := emails.InsertOrGet(ctx, &domain.EmailTicket{UID: "MSG-1", Sender: "other@test"})
	if err != nil || created || again.ID != first.ID || again.Sender != "a@test" {
		t.Fatalf("expected existing row, got %+v created=%v err=%v", again, created, err)
	}
	if ok, _ := emails.LinkTicket(ctx, "MSG-1", "t1"); !ok {
		t.Fatal("first link should succeed")
	}
	if ok, _ := emails.LinkTicket(ctx, "MSG-1", "t2"); ok {
		t.Fatal("link must be set exactly once")
	}
}

func TestResolveGroupPrecedence(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	groups := s.Repos().Groups
	for _, g := range []domain.AssignmentGroup{
		{Name: "Unix Support", Category: domain.CategoryUnix, RemoteGroupID: "g-unix", IsActive: true},
		{Name: "Network Support", Category: domain.CategoryNetwork, RemoteGroupID: "g-net", IsActive: true},
		{Name: "Legacy Storage", Category: domain.CategoryStorage, RemoteGroupID: "g-old", IsActive: false},
	} {
		g := g
		if err := groups.Upsert(ctx, &g); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	cases := []struct {
		label    string
		category domain.Category
		want     string
	}{
		{"unix support", domain.CategoryNetwork, "g-unix"},
		{"network", domain.CategoryUnix, "g-net"},
		{"", domain.CategoryUnix, "g-unix"},
		{"Legacy Storage", domain.CategoryStorage, ""},
	}
	for _, tc := range cases {
		got, err := groups.ResolveGroup(ctx, tc.label, tc.category)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if tc.want == "" {
			if got != nil {
				t.Errorf("resolve(%q,%s) = %s, want nil", tc.label, tc.category, *got)
			}
			continue
		}
		if got == nil || *got != tc.want {
			t.Errorf("resolve(%q,%s) = %v, want %s", tc.label, tc.category, got, tc.want)
		}
	}
}

func TestListFilters(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	owner := "u1"
	for i, title := range []string{"Disk full", "VPN down", "Disk slow"} {
		tk := newTicket()
		tk.Title = title
		if i == 0 {
			tk.CreatedByID = &owner
		}
		_ = s.Repos().Tickets.Create(ctx, tk)
	}
	search := "disk"
	got, err := s.Repos().Tickets.List(ctx, repository.TicketFilter{SearchTerm: &search})
	if err != nil || len(got) != 2 {
		t.Fatalf("search: %d %v", len(got), err)
	}
	got, _ = s.Repos().Tickets.List(ctx, repository.TicketFilter{CreatedByID: &owner})
	if len(got) != 1 || got[0].Title != "Disk full" {
		t.Fatalf("owner filter: %+v", got)
	}
	got, _ = s.Repos().Tickets.List(ctx, repository.TicketFilter{Limit: 1, Offset: 2})
	if len(got) != 1 {
		t.Fatalf("pagination: %d", len(got))
	}
}
