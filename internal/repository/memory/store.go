// Package memory provides a process-local Store used when no database is configured and in
// service tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/opsdesk/ticket-sync/internal/domain"
	"github.com/opsdesk/ticket-sync/internal/repository"
)

type state struct {
	tickets  map[string]domain.Ticket
	emails   map[string]domain.EmailTicket
	groups   map[string]domain.AssignmentGroup
	users    map[string]domain.User
	profiles map[string]domain.UserProfile
}

func (s state) clone() state {
	c := state{
		tickets:  make(map[string]domain.Ticket, len(s.tickets)),
		emails:   make(map[string]domain.EmailTicket, len(s.emails)),
		groups:   make(map[string]domain.AssignmentGroup, len(s.groups)),
		users:    make(map[string]domain.User, len(s.users)),
		profiles: make(map[string]domain.UserProfile, len(s.profiles)),
	}
	for k, v := range s.tickets {
		c.tickets[k] = v
	}
	for k, v := range s.emails {
		c.emails[k] = v
	}
	for k, v := range s.groups {
		c.groups[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.profiles {
		c.profiles[k] = v
	}
	return c
}

// Store is an in-memory repository.Store. Transactions are serialized and work on a
// private copy; commit writes back only the rows they touched.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data state
	now  func() time.Time
}

const (
	tableTickets  = "tickets"
	tableEmails   = "emails"
	tableGroups   = "groups"
	tableUsers    = "users"
	tableProfiles = "profiles"
)

// view is the state a set of repositories reads and writes. dirty is nil outside a
// transaction.
type view struct {
	s     *Store
	data  *state
	dirty map[string]map[string]struct{}
}

func (v *view) touch(table, key string) {
	if v.dirty == nil {
		return
	}
	if v.dirty[table] == nil {
		v.dirty[table] = map[string]struct{}{}
	}
	v.dirty[table][key] = struct{}{}
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		data: state{}.clone(),
		now:  time.Now,
	}
}

// Repos implements repository.Store.
func (s *Store) Repos() repository.Repositories {
	return reposFor(&view{s: s, data: &s.data})
}

func reposFor(v *view) repository.Repositories {
	return repository.Repositories{
		Tickets: &ticketRepo{v},
		Emails:  &emailRepo{v},
		Groups:  &groupRepo{v},
		Users:   &userRepo{v},
	}
}

// WithinTx implements repository.Store.
func (s *Store) WithinTx(ctx context.Context, fn func(repos repository.Repositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	staged := s.data.clone()
	s.mu.Unlock()

	tx := &view{s: s, data: &staged, dirty: map[string]map[string]struct{}{}}
	if err := fn(reposFor(tx)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range tx.dirty[tableTickets] {
		s.data.tickets[key] = staged.tickets[key]
	}
	for key := range tx.dirty[tableEmails] {
		s.data.emails[key] = staged.emails[key]
	}
	for key := range tx.dirty[tableGroups] {
		s.data.groups[key] = staged.groups[key]
	}
	for key := range tx.dirty[tableUsers] {
		s.data.users[key] = staged.users[key]
	}
	for key := range tx.dirty[tableProfiles] {
		s.data.profiles[key] = staged.profiles[key]
	}
	return nil
}

// TicketCount returns the number of stored tickets.
func (s *Store) TicketCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.tickets)
}

// EmailCount returns the number of stored email records.
func (s *Store) EmailCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.emails)
}

type ticketRepo struct{ v *view }

func (r *ticketRepo) Create(ctx context.Context, ticket *domain.Ticket) error {
	r.v.s.mu.Lock()
	defer r.v.s.mu.Unlock()
	now := r.v.s.now()
	ticket.ID = uuid.NewString()
	ticket.CreatedAt = now
	ticket.UpdatedAt = now
	r.v.data.tickets[ticket.ID] = *ticket
	r.v.touch(tableTickets, ticket.ID)
	return nil
}

func (r *ticketRepo) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	r.v.s.mu.Lock()
	defer r.v.s.mu.Unlock()
	ticket, ok := r.v.data.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &ticket, nil
}

func (r *ticketRepo) List(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	r.v.s.mu.Lock()
	defer r.v.s.mu.Unlock()

	var search string
	if filter.SearchTerm != nil {
		search = strings.ToLower(strings.TrimSpace(*filter.SearchTerm))
	}
	var result []domain.Ticket
	for _, t := range r.v.data.tickets {
		if filter.CreatedByID != nil && (t.CreatedByID == nil || *t.CreatedByID != *filter.CreatedByID) {
			continue
		}
		if filter.CreationStatus != nil && t.CreationStatus != *filter.CreationStatus {
			continue
		}
		if filter.Category != nil && t.Category != *filter.Category {
			continue
		}
		if filter.RequestType != nil && t.RequestType != *filter.RequestType {
			continue
		}
		if search != "" && !matchesSearch(t, search) {
			continue
		}
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return page(result, filter.Limit, filter.Offset, 10), nil
}

func matchesSearch(t domain.Ticket, search string) bool {
	if strings.Contains(strings.ToLower(t.Title), search) || strings.Contains(strings.ToLower(t.Description), search) {
		return true
	}
	return t.RemoteTicketNumber != nil && strings.Contains(strings.ToLower(*t.RemoteTicketNumber), search)
}

func (r *ticketRepo) ListDueForSync(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	r.v.s.mu.Lock()
	defer r.v.s.mu.Unlock()
	var result []domain.Ticket
	for _, t := range r.v.data.tickets {
		if !t.CreationStatus.Syncable() {
			continue
		}
		if t.NextSyncAt != nil && t.NextSyncAt.After(now) {
			continue
		}
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return page(result, limit, 0, limit), nil
}

func (r *ticketRepo) ListForPolling(ctx context.Context, limit int) ([]domain.Ticket, error) {
	r.v.s.mu.Lock()
	defer r.v.s.mu.Unlock()
	var result []domain.Ticket
	for _, t := range r.v.data.tickets {
		if t.CreationStatus != domain.CreationStatusCreated || t.RemoteSysID == nil {
			continue
		}
		if isFinal(t.RemoteStatus) {
			continue
		}
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return page(result, limit, 0, limit), nil
}

func isFinal(status string) bool {
	status = strings.ToLower(status)
	for _, final := range repository.FinalRemoteStatuses {
		if status == final {
			return true
		}
	}
	return false
}

func (r *ticketRepo) MarkCreated(ctx context.Context, id, number, sysID string, at time.Time) (bool, error) {
	return r.mutate(id, func(t *domain.Ticket) bool {
		if !t.CreationStatus.Syncable() {
			return false
		}
		t.CreationStatus = domain.CreationStatusCreated
		t.RemoteTicketNumber = &number
		t.RemoteSysID = &sysID
		t.ErrorMessage = nil
		t.NextSyncAt = nil
		t.LastSyncAttempt = &at
		return true
	})
}

func (r *ticketRepo) MarkFailed(ctx context.Context, id string, failure repository.SyncFailure) (bool, error) {
	return r.mutate(id, func(t *domain.Ticket) bool {
		if !t.CreationStatus.Syncable() {
			return false
		}
		msg := failure.ErrorMessage
		at := failure.AttemptedAt
		t.CreationStatus = failure.Status
		t.SyncAttempts = failure.Attempts
		t.ErrorMessage = &msg
		t.LastSyncAttempt = &at
		t.NextSyncAt = failure.NextSyncAt
		return true
	})
}

func (r *ticketRepo) ResetForRetry(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.mutate(id, func(t *domain.Ticket) bool {
		if !t.CreationStatus.Retriable() {
			return false
		}
		t.CreationStatus = domain.CreationStatusPending
		t.SyncAttempts = 0
		t.ErrorMessage = nil
		t.NextSyncAt = &at
		return true
	})
}

func (r *ticketRepo) UpdateRemoteStatus(ctx context.Context, id, status string) error {
	changed, err := r.mutate(id, func(t *domain.Ticket) bool {
		t.RemoteStatus = status
		return true
	})
	if err != nil {
		return err
	}
	if !changed {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepo) ApplyOperatorUpdate(ctx context.Context, ticket *domain.Ticket, expected domain.CreationStatus) (bool, error) {
	return r.mutate(ticket.ID, func(t *domain.Ticket) bool {
		if t.CreationStatus != expected {
			return false
		}
		t.CreationStatus = ticket.CreationStatus
		t.ErrorMessage = ticket.ErrorMessage
		t.AssignedTeam = ticket.AssignedTeam
		return true
	})
}

// mutate applies fn to a copy of the ticket and stores it when fn reports a change.
func (r *ticketRepo) mutate(id string, fn func(t *domain.Ticket) bool) (bool, error) {
	r.v.s.mu.Lock()
	defer r.v.s.mu.Unlock()
	t, ok := r.v.data.tickets[id]
	if !ok {
		return false, nil
	}
	if !fn(&t) {
		return false, nil
	}
	t.UpdatedAt = r.v.s.now()
	r.v.data.tickets[id] = t
	r.v.touch(tableTickets, id)
	return true, nil
}

type emailRepo struct{ v *view }

func (r *emailRepo) GetByUID(ctx context.Context, uid string) (*domain.EmailTicket, error) {
	r.v.s.mu.Lock()
	defer r.v.s.mu.Unlock()
	email, ok := r.v.data.emails[uid]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &email, nil
}

func (r *emailRepo) InsertOrGet(ctx context.Context, email *domain.EmailTicket) (*domain.EmailTicket, bool, error) {
	r.v.s.mu.Lock()
	defer r.v.s.mu.Unlock()
	if existing, ok := r.v.data.emails[email.UID]; ok {
		return &existing, false, nil
	}
	email.ID = uuid.NewString()
	email.ReceivedAt = r.v.s.now()
	r.v.data.emails[email.UID] = *email
	r.v.touch(tableEmails, email.UID)
	return email, true, nil
}

func (r *emailRepo) LinkTicket(ctx context.Context, uid, ticketID string) (bool, error) {
	r.v.s.mu.Lock()
	defer r.v.s.mu.Unlock()
	email, ok := r.v.data.emails[uid]
	if !ok || email.Linked() {
		return false, nil
	}
	email.TicketID = &ticketID
	r.v.data.emails[uid] = email
	r.v.touch(tableEmails, uid)
	return true, nil
}

func (r *emailRepo) MarkReplySent(ctx context.Context, uid string) error {
	r.v.s.mu.Lock()
	defer r.v.s.mu.Unlock()
	email, ok := r.v.data.emails[uid]
	if !ok {
		return pgx.ErrNoRows
	}
	email.ReplySent = true
	r.v.data.emails[uid] = email
	r.v.touch(tableEmails, uid)
	return nil
}

type groupRepo struct{ v *view }

func (r *groupRepo) ResolveGroup(ctx context.Context, teamLabel string, category domain.Category) (*string, error) {
	r.v.s.mu.Lock()
	defer r.v.s.mu.Unlock()
	label := strings.ToLower(strings.TrimSpace(teamLabel))
	best, bestRank := "", 3
	for _, g := range r.v.data.groups {
		if !g.IsActive {
			continue
		}
		rank := 3
		switch {
		case label != "" && strings.ToLower(g.Name) == label:
			rank = 0
		case label != "" && string(g.Category) == label:
			rank = 1
		case g.Category == category:
			rank = 2
		}
		if rank < bestRank {
			best, bestRank = g.RemoteGroupID, rank
		}
	}
	if bestRank == 3 {
		return nil, nil
	}
	return &best, nil
}

func (r *groupRepo) Upsert(ctx context.Context, group *domain.AssignmentGroup) error {
	r.v.s.mu.Lock()
	defer r.v.s.mu.Unlock()
	if existing, ok := r.v.data.groups[group.Name]; ok {
		group.ID = existing.ID
		group.CreatedAt = existing.CreatedAt
	} else {
		group.ID = uuid.NewString()
		group.CreatedAt = r.v.s.now()
	}
	r.v.data.groups[group.Name] = *group
	r.v.touch(tableGroups, group.Name)
	return nil
}

func (r *groupRepo) List(ctx context.Context) ([]domain.AssignmentGroup, error) {
	r.v.s.mu.Lock()
	defer r.v.s.mu.Unlock()
	result := make([]domain.AssignmentGroup, 0, len(r.v.data.groups))
	for _, g := range r.v.data.groups {
		result = append(result, g)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

type userRepo struct{ v *view }

func (r *userRepo) Create(ctx context.Context, user *domain.User) error {
	r.v.s.mu.Lock()
	defer r.v.s.mu.Unlock()
	for _, u := range r.v.data.users {
		if strings.EqualFold(u.Email, user.Email) {
			return &duplicateError{field: "email"}
		}
	}
	now := r.v.s.now()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.v.data.users[user.ID] = *user
	r.v.touch(tableUsers, user.ID)
	return nil
}

func (r *userRepo) CreateProfile(ctx context.Context, profile *domain.UserProfile) error {
	r.v.s.mu.Lock()
	defer r.v.s.mu.Unlock()
	if _, ok := r.v.data.profiles[profile.UserID]; ok {
		return &duplicateError{field: "user_id"}
	}
	r.v.data.profiles[profile.UserID] = *profile
	r.v.touch(tableProfiles, profile.UserID)
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.v.s.mu.Lock()
	defer r.v.s.mu.Unlock()
	user, ok := r.v.data.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &user, nil
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.v.s.mu.Lock()
	defer r.v.s.mu.Unlock()
	for _, u := range r.v.data.users {
		if strings.EqualFold(u.Email, email) {
			user := u
			return &user, nil
		}
	}
	return nil, pgx.ErrNoRows
}

// Profile returns the stored profile for a user.
func (s *Store) Profile(userID string) (domain.UserProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data.profiles[userID]
	return p, ok
}

type duplicateError struct{ field string }

func (e *duplicateError) Error() string {
	return "duplicate value for " + e.field
}

func page(items []domain.Ticket, limit, offset, def int) []domain.Ticket {
	if limit <= 0 {
		limit = def
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
