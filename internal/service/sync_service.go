package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opsdesk/ticket-sync/internal/config"
	"github.com/opsdesk/ticket-sync/internal/domain"
	"github.com/opsdesk/ticket-sync/internal/events"
	"github.com/opsdesk/ticket-sync/internal/lock"
	"github.com/opsdesk/ticket-sync/internal/observability"
	"github.com/opsdesk/ticket-sync/internal/remote"
	"github.com/opsdesk/ticket-sync/internal/repository"
	apperrors "github.com/opsdesk/ticket-sync/pkg/util/errorutil"
)

// ErrSyncInProgress is returned when another attempt holds the ticket's sync lock.
var ErrSyncInProgress = errors.New("sync already in progress for ticket")

// errIncompleteResult marks a 2xx create response without both identifiers.
var errIncompleteResult = errors.New("remote response missing ticket identifiers")

// IncidentClient is the remote API surface the lifecycle needs.
type IncidentClient interface {
	CreateIncident(ctx context.Context, req remote.IncidentRequest) (remote.IncidentRef, error)
	FetchStatus(ctx context.Context, sysID string) (string, bool)
}

// SyncService owns the creation_status state machine of tickets.
type SyncService struct {
	store      repository.Store
	client     IncidentClient
	locker     lock.Locker
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	cfg        config.SyncConfig
	now        func() time.Time
}

// SyncDependencies bundles collaborators for the sync service.
type SyncDependencies struct {
	Store      repository.Store
	Client     IncidentClient
	Locker     lock.Locker
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Config     config.SyncConfig
}

// RetryOutcome reports what a retry trigger did.
type RetryOutcome struct {
	Accepted bool
	Snapshot domain.SyncSnapshot
}

// OperatorUpdate carries fields an operator may change.
type OperatorUpdate struct {
	CreationStatus *string
	AssignedTeam   *string
	ErrorMessage   *string
	ActorID        *string
}

// NewSyncService constructs the service, filling zero config values with defaults.
func NewSyncService(deps SyncDependencies) *SyncService {
	cfg := deps.Config
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.LockTTLSeconds <= 0 {
		cfg.LockTTLSeconds = 90
	}
	if cfg.PollConcurrency <= 0 {
		cfg.PollConcurrency = 8
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 100
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	locker := deps.Locker
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &SyncService{
		store:      deps.Store,
		client:     deps.Client,
		locker:     locker,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Sync runs one sync attempt for the ticket. It is a no-op for tickets that are not
// pending or retrying. Remote failures become state transitions, never returned errors.
func (s *SyncService) Sync(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	release, err := s.lockTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	defer release()

	tickets := s.store.Repos().Tickets
	ticket, err := tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !ticket.CreationStatus.Syncable() {
		s.metrics.RecordSync(observability.SyncOutcomeSkipped, 0)
		return ticket, nil
	}

	group, err := s.store.Repos().Groups.ResolveGroup(ctx, ticket.AssignedTeam, ticket.Category)
	if err != nil {
		s.logger.Warn("assignment group lookup failed; syncing without group",
			zap.String("ticket_id", ticket.ID), zap.Error(err))
		group = nil
	}

	start := s.now()
	ref, err := s.client.CreateIncident(ctx, remote.IncidentRequest{
		ShortDescription: ticket.Title,
		Description:      ticket.Description,
		Category:         string(ticket.Category),
		Priority:         ticket.Priority,
		AssignmentGroup:  group,
	})
	if err == nil && !ref.Complete() {
		err = errIncompleteResult
	}
	if err != nil {
		return s.recordFailure(ctx, ticket, err, start)
	}

	changed, err := tickets.MarkCreated(ctx, ticket.ID, ref.Number, ref.SysID, start)
	if err != nil {
		// the remote incident exists; log its identifiers so it can be reconciled
		s.logger.Error("failed to record created incident",
			zap.String("ticket_id", ticket.ID),
			zap.String("remote_number", ref.Number),
			zap.String("remote_sys_id", ref.SysID),
			zap.Error(err))
		return nil, fmt.Errorf("record sync success: %w", err)
	}
	s.metrics.RecordSync(observability.SyncOutcomeCreated, s.now().Sub(start))
	if !changed {
		s.logger.Warn("ticket left syncable state during attempt",
			zap.String("ticket_id", ticket.ID), zap.String("remote_number", ref.Number))
		return tickets.GetByID(ctx, ticket.ID)
	}

	s.logger.Info("ticket synced",
		zap.String("ticket_id", ticket.ID),
		zap.String("remote_number", ref.Number),
		zap.Int("attempt", ticket.SyncAttempts+1))
	s.publish(ctx, events.Event{
		Type:     events.EventTicketSynced,
		TicketID: ticket.ID,
		Payload: events.TicketSyncedPayload{
			RemoteTicketNumber: ref.Number,
			Attempts:           ticket.SyncAttempts + 1,
		},
	})
	return tickets.GetByID(ctx, ticket.ID)
}

func (s *SyncService) recordFailure(ctx context.Context, ticket *domain.Ticket, cause error, at time.Time) (*domain.Ticket, error) {
	attempts := ticket.SyncAttempts + 1

	var rejection *remote.RejectionError
	isRejection := errors.As(cause, &rejection)
	permanent := isRejection && rejection.Permanent()

	failure := repository.SyncFailure{
		Status:       domain.CreationStatusFailed,
		Attempts:     attempts,
		ErrorMessage: redactSyncError(cause),
		AttemptedAt:  at,
	}
	if !permanent && attempts < s.cfg.MaxAttempts {
		next := at.Add(s.backoff(attempts))
		failure.Status = domain.CreationStatusRetrying
		failure.NextSyncAt = &next
	}

	fields := []zap.Field{
		zap.String("ticket_id", ticket.ID),
		zap.Int("attempt", attempts),
		zap.String("next_status", string(failure.Status)),
		zap.Error(cause),
	}
	httpStatus := 0
	if isRejection {
		httpStatus = rejection.Status
		fields = append(fields, zap.Int("http_status", rejection.Status), zap.String("body", rejection.Body))
	}
	s.logger.Warn("remote incident creation failed", fields...)

	tickets := s.store.Repos().Tickets
	changed, err := tickets.MarkFailed(ctx, ticket.ID, failure)
	if err != nil {
		return nil, fmt.Errorf("record sync failure: %w", err)
	}

	outcome := observability.SyncOutcomeFailed
	if failure.Status == domain.CreationStatusRetrying {
		outcome = observability.SyncOutcomeRetrying
	}
	s.metrics.RecordSync(outcome, s.now().Sub(at))

	if changed {
		s.publish(ctx, events.Event{
			Type:     events.EventTicketSyncFailed,
			TicketID: ticket.ID,
			Payload: events.TicketSyncFailedPayload{
				Status:     failure.Status,
				Attempts:   attempts,
				HTTPStatus: httpStatus,
				NextSyncAt: failure.NextSyncAt,
			},
		})
	}
	return tickets.GetByID(ctx, ticket.ID)
}

// backoff returns base*2^(attempt-1), capped at the configured maximum.
func (s *SyncService) backoff(attempt int) time.Duration {
	base := s.cfg.BackoffBase()
	if base <= 0 {
		return 0
	}
	max := s.cfg.BackoffMax()
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// redactSyncError produces the user-visible summary of a failed attempt.
func redactSyncError(err error) string {
	var rejection *remote.RejectionError
	var network *remote.NetworkError
	switch {
	case errors.As(err, &rejection):
		return fmt.Sprintf("remote system rejected the request (HTTP %d)", rejection.Status)
	case errors.As(err, &network):
		return "remote system unreachable"
	case errors.Is(err, errIncompleteResult):
		return "remote system did not return ticket identifiers"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "remote system unreachable"
	default:
		return "remote ticket creation failed"
	}
}

// lockTicket takes the per-ticket lock that serialises every sync-state write.
func (s *SyncService) lockTicket(ctx context.Context, ticketID string) (lock.Release, error) {
	release, err := s.locker.TryAcquire(ctx, "ticket-sync:"+ticketID, s.cfg.LockTTL())
	if errors.Is(err, lock.ErrNotAcquired) {
		return nil, ErrSyncInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	return release, nil
}

// Retry re-queues a pending or failed ticket. For other states, or while an attempt
// holds the ticket, it reports the current status with Accepted=false.
func (s *SyncService) Retry(ctx context.Context, ticketID string, actorID *string) (RetryOutcome, error) {
	release, err := s.lockTicket(ctx, ticketID)
	if errors.Is(err, ErrSyncInProgress) {
		snap, err := s.Status(ctx, ticketID)
		if err != nil {
			return RetryOutcome{}, err
		}
		return RetryOutcome{Snapshot: snap}, nil
	}
	if err != nil {
		return RetryOutcome{}, err
	}
	outcome, err := s.resetForRetry(ctx, ticketID)
	// released before publishing so inline subscribers can sync
	release()
	if err != nil || !outcome.Accepted {
		return outcome, err
	}

	s.logger.Info("ticket retry requested", zap.String("ticket_id", ticketID))
	s.publishRetryRequested(ctx, ticketID, actorID)
	return outcome, nil
}

// resetForRetry must run under the ticket lock.
func (s *SyncService) resetForRetry(ctx context.Context, ticketID string) (RetryOutcome, error) {
	tickets := s.store.Repos().Tickets
	ticket, err := tickets.GetByID(ctx, ticketID)
	if err != nil {
		return RetryOutcome{}, err
	}
	if !ticket.CreationStatus.Retriable() {
		return RetryOutcome{Snapshot: ticket.Snapshot()}, nil
	}

	changed, err := tickets.ResetForRetry(ctx, ticketID, s.now())
	if err != nil {
		return RetryOutcome{}, err
	}
	ticket, err = tickets.GetByID(ctx, ticketID)
	if err != nil {
		return RetryOutcome{}, err
	}
	return RetryOutcome{Accepted: changed, Snapshot: ticket.Snapshot()}, nil
}

func (s *SyncService) publishRetryRequested(ctx context.Context, ticketID string, actorID *string) {
	s.publish(ctx, events.Event{
		Type:     events.EventTicketRetryRequested,
		TicketID: ticketID,
		ActorID:  actorID,
	})
}

// Status returns the read-only sync snapshot.
func (s *SyncService) Status(ctx context.Context, ticketID string) (domain.SyncSnapshot, error) {
	ticket, err := s.store.Repos().Tickets.GetByID(ctx, ticketID)
	if err != nil {
		return domain.SyncSnapshot{}, err
	}
	return ticket.Snapshot(), nil
}

// RefreshStatus polls the remote state of a created ticket. A failed lookup leaves
// remote_status unchanged and is only logged.
func (s *SyncService) RefreshStatus(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	tickets := s.store.Repos().Tickets
	ticket, err := tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.RemoteSysID == nil || *ticket.RemoteSysID == "" {
		return nil, apperrors.NewValidationError("ticket has no remote identifier yet", map[string]any{
			"creation_status": ticket.CreationStatus,
		})
	}

	state, ok := s.client.FetchStatus(ctx, *ticket.RemoteSysID)
	s.metrics.RecordPoll(ok)
	if !ok {
		s.logger.Info("remote status unavailable; keeping previous value",
			zap.String("ticket_id", ticket.ID),
			zap.String("remote_status", ticket.RemoteStatus))
		return ticket, nil
	}
	if state == ticket.RemoteStatus {
		return ticket, nil
	}
	if err := tickets.UpdateRemoteStatus(ctx, ticket.ID, state); err != nil {
		return nil, err
	}
	ticket.RemoteStatus = state
	return ticket, nil
}

// RefreshAll polls every created ticket whose remote status is not final. It returns
// the number of tickets examined.
func (s *SyncService) RefreshAll(ctx context.Context) (int, error) {
	pending, err := s.store.Repos().Tickets.ListForPolling(ctx, s.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.PollConcurrency)
	for _, t := range pending {
		id := t.ID
		g.Go(func() error {
			if _, err := s.RefreshStatus(gctx, id); err != nil && !apperrors.IsValidation(err) {
				s.logger.Warn("status refresh failed", zap.String("ticket_id", id), zap.Error(err))
			}
			return nil
		})
	}
	return len(pending), g.Wait()
}

// SyncDue runs attempts for pending tickets and retries whose backoff elapsed. Tickets
// already being synced elsewhere are skipped.
func (s *SyncService) SyncDue(ctx context.Context, enqueue func(ticketID string) bool) (int, error) {
	due, err := s.store.Repos().Tickets.ListDueForSync(ctx, s.now(), s.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}
	scheduled := 0
	for _, t := range due {
		if enqueue(t.ID) {
			scheduled++
		}
	}
	return scheduled, nil
}

// ApplyOperatorUpdate validates and applies an operator change to a ticket. Moving a failed
// or retrying ticket back to pending re-queues it the way Retry does. It reports a conflict
// while a sync attempt holds the ticket.
func (s *SyncService) ApplyOperatorUpdate(ctx context.Context, ticketID string, update OperatorUpdate) (*domain.Ticket, error) {
	release, err := s.lockTicket(ctx, ticketID)
	if errors.Is(err, ErrSyncInProgress) {
		return nil, apperrors.NewConflict("ticket is being synced; try again shortly", map[string]any{
			"ticket_id": ticketID,
		})
	}
	if err != nil {
		return nil, err
	}
	ticket, requeued, err := s.applyOperatorUpdate(ctx, ticketID, update)
	release()
	if err != nil {
		return nil, err
	}
	if requeued {
		s.logger.Info("ticket re-queued by operator", zap.String("ticket_id", ticketID))
		s.publishRetryRequested(ctx, ticketID, update.ActorID)
	}
	return ticket, nil
}

// applyOperatorUpdate must run under the ticket lock.
func (s *SyncService) applyOperatorUpdate(ctx context.Context, ticketID string, update OperatorUpdate) (*domain.Ticket, bool, error) {
	tickets := s.store.Repos().Tickets
	ticket, err := tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, false, err
	}
	expected := ticket.CreationStatus

	if update.CreationStatus != nil {
		next := domain.CreationStatus(strings.ToLower(strings.TrimSpace(*update.CreationStatus)))
		if !next.Valid() {
			return nil, false, apperrors.NewValidationError("invalid creation_status", map[string]any{
				"creation_status": *update.CreationStatus,
				"allowed":         []domain.CreationStatus{domain.CreationStatusPending, domain.CreationStatusCreated, domain.CreationStatusFailed, domain.CreationStatusRetrying},
			})
		}
		if expected == domain.CreationStatusCreated && next != domain.CreationStatusCreated {
			return nil, false, apperrors.NewValidationError("created tickets cannot change creation_status", nil)
		}
		if next == domain.CreationStatusCreated && expected != domain.CreationStatusCreated {
			return nil, false, apperrors.NewValidationError("creation_status created requires remote identifiers", nil)
		}
		ticket.CreationStatus = next
	}

	if update.AssignedTeam != nil {
		ticket.AssignedTeam = strings.TrimSpace(*update.AssignedTeam)
	}

	switch ticket.CreationStatus {
	case domain.CreationStatusPending, domain.CreationStatusCreated:
		ticket.ErrorMessage = nil
	case domain.CreationStatusFailed, domain.CreationStatusRetrying:
		if update.ErrorMessage != nil {
			msg := strings.TrimSpace(*update.ErrorMessage)
			ticket.ErrorMessage = &msg
		}
		if ticket.ErrorMessage == nil {
			msg := "marked " + string(ticket.CreationStatus) + " by operator"
			ticket.ErrorMessage = &msg
		}
	}

	requeue := expected != domain.CreationStatusPending && ticket.CreationStatus == domain.CreationStatusPending
	err = s.store.WithinTx(ctx, func(repos repository.Repositories) error {
		changed, err := repos.Tickets.ApplyOperatorUpdate(ctx, ticket, expected)
		if err != nil {
			return err
		}
		if !changed {
			return apperrors.NewConflict("ticket changed concurrently; reload and retry", map[string]any{
				"ticket_id": ticketID,
			})
		}
		if requeue {
			if _, err := repos.Tickets.ResetForRetry(ctx, ticketID, s.now()); err != nil {
				return fmt.Errorf("reset for retry: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	updated, err := tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, false, err
	}
	return updated, requeue, nil
}


func (s *SyncService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}
