package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsdesk/ticket-sync/internal/classifier"
	"github.com/opsdesk/ticket-sync/internal/domain"
	"github.com/opsdesk/ticket-sync/internal/events"
	"github.com/opsdesk/ticket-sync/internal/observability"
	"github.com/opsdesk/ticket-sync/internal/repository"
	apperrors "github.com/opsdesk/ticket-sync/pkg/util/errorutil"
)

const (
	maxTitleRunes   = 200
	fallbackSubject = "No subject"
	emailPriority   = "low"
)

// errAlreadyLinked aborts an ingestion transaction that lost the link race.
var errAlreadyLinked = errors.New("email already linked to a ticket")

// IngestInput is one inbound email message.
type IngestInput struct {
	UID        string
	Sender     string
	Subject    string
	Body       string
	Raw        string
	CreatorID  *string
	ChannelKey string
}

// IngestResult is the ticket and email record for a message.
type IngestResult struct {
	Ticket      *domain.Ticket
	EmailTicket *domain.EmailTicket
	// Duplicate is set when the uid was already ingested; nothing was created or sent.
	Duplicate bool
}

// IngestionService turns inbound email into tickets exactly once per uid.
type IngestionService struct {
	store      repository.Store
	predictor  classifier.Predictor
	notifier   Notifier
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// IngestionDependencies bundles collaborators for ingestion.
type IngestionDependencies struct {
	Store      repository.Store
	Predictor  classifier.Predictor
	Notifier   Notifier
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
}

// NewIngestionService constructs the service.
func NewIngestionService(deps IngestionDependencies) *IngestionService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestionService{
		store:      deps.Store,
		predictor:  deps.Predictor,
		notifier:   deps.Notifier,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
	}
}

// Ingest creates a ticket for the message unless its uid is already linked. Ticket creation
// and the email link commit together or not at all.
func (s *IngestionService) Ingest(ctx context.Context, in IngestInput) (IngestResult, error) {
	in.UID = strings.TrimSpace(in.UID)
	in.Sender = strings.TrimSpace(in.Sender)
	if in.UID == "" {
		return IngestResult{}, apperrors.NewValidationError("uid is required", nil)
	}
	if n := utf8.RuneCountInString(in.UID); n > domain.MaxEmailUIDLength {
		return IngestResult{}, apperrors.NewValidationError("uid is too long", map[string]any{
			"max_length": domain.MaxEmailUIDLength,
			"length":     n,
		})
	}
	if in.Sender == "" {
		return IngestResult{}, apperrors.NewValidationError("sender is required", nil)
	}

	if existing, ok, err := s.linkedPair(ctx, s.store.Repos(), in.UID); err != nil {
		return IngestResult{}, err
	} else if ok {
		s.metrics.RecordIngest(true)
		return existing, nil
	}

	title := ticketTitle(in.Subject)
	category, err := classifier.PredictOrDefault(ctx, s.predictor, title, in.Body)
	if err != nil {
		s.logger.Info("category prediction failed; using default",
			zap.String("uid", in.UID),
			zap.String("category", string(category)),
			zap.Error(err))
	}

	var result IngestResult
	err = s.store.WithinTx(ctx, func(repos repository.Repositories) error {
		ticket := &domain.Ticket{
			Title:          title,
			Description:    in.Body,
			Category:       category,
			Priority:       emailPriority,
			CreatedByID:    in.CreatorID,
			RequestType:    domain.RequestTypeEmail,
			CreationStatus: domain.CreationStatusPending,
			RemoteStatus:   domain.DefaultRemoteStatus,
		}
		if err := repos.Tickets.Create(ctx, ticket); err != nil {
			return fmt.Errorf("create ticket: %w", err)
		}

		email, _, err := repos.Emails.InsertOrGet(ctx, &domain.EmailTicket{
			UID:      in.UID,
			Sender:   in.Sender,
			Subject:  in.Subject,
			Body:     in.Body,
			RawEmail: in.Raw,
		})
		if err != nil {
			return fmt.Errorf("store email: %w", err)
		}
		if email.Linked() {
			return errAlreadyLinked
		}
		linked, err := repos.Emails.LinkTicket(ctx, in.UID, ticket.ID)
		if err != nil {
			return fmt.Errorf("link email: %w", err)
		}
		if !linked {
			return errAlreadyLinked
		}
		email.TicketID = &ticket.ID
		result = IngestResult{Ticket: ticket, EmailTicket: email}
		return nil
	})
	if errors.Is(err, errAlreadyLinked) {
		// a concurrent ingester won; our ticket was rolled back
		existing, ok, lookupErr := s.linkedPair(ctx, s.store.Repos(), in.UID)
		if lookupErr != nil {
			return IngestResult{}, lookupErr
		}
		if !ok {
			return IngestResult{}, fmt.Errorf("ingest %s: link vanished after conflict", in.UID)
		}
		s.metrics.RecordIngest(true)
		return existing, nil
	}
	if err != nil {
		return IngestResult{}, fmt.Errorf("ingest %s: %w", in.UID, err)
	}
	s.metrics.RecordIngest(false)

	s.logger.Info("email ingested",
		zap.String("uid", in.UID),
		zap.String("ticket_id", result.Ticket.ID),
		zap.String("category", string(result.Ticket.Category)))

	s.publishCreated(ctx, result.Ticket)

	// the sync above may already have produced a number
	if current, err := s.store.Repos().Tickets.GetByID(ctx, result.Ticket.ID); err == nil {
		result.Ticket = current
	}
	if err := s.sendReply(ctx, in, result.Ticket); err != nil {
		s.metrics.RecordNotifyFailure()
		s.logger.Warn("ticket reply failed; ticket kept",
			zap.String("uid", in.UID),
			zap.String("recipient", in.Sender),
			zap.Error(err))
	} else {
		result.EmailTicket.ReplySent = true
	}
	return result, nil
}

// sendReply delivers the acknowledgement and records it. The returned error is the
// caller's to tolerate.
func (s *IngestionService) sendReply(ctx context.Context, in IngestInput, ticket *domain.Ticket) error {
	if s.notifier == nil {
		return errors.New("no notifier configured")
	}
	if err := s.notifier.SendTicketReply(ctx, in.ChannelKey, in.Sender, in.Subject, ticket.RemoteTicketNumber); err != nil {
		return err
	}
	if err := s.store.Repos().Emails.MarkReplySent(ctx, in.UID); err != nil {
		s.logger.Warn("reply sent but flag not stored", zap.String("uid", in.UID), zap.Error(err))
	}
	return nil
}

// linkedPair returns the stored pair when uid is already linked.
func (s *IngestionService) linkedPair(ctx context.Context, repos repository.Repositories, uid string) (IngestResult, bool, error) {
	email, err := repos.Emails.GetByUID(ctx, uid)
	if err != nil {
		if apperrors.ToDomainError(err).Code == "NOT_FOUND" {
			return IngestResult{}, false, nil
		}
		return IngestResult{}, false, err
	}
	if !email.Linked() {
		return IngestResult{}, false, nil
	}
	ticket, err := repos.Tickets.GetByID(ctx, *email.TicketID)
	if err != nil {
		return IngestResult{}, false, fmt.Errorf("load linked ticket: %w", err)
	}
	return IngestResult{Ticket: ticket, EmailTicket: email, Duplicate: true}, true, nil
}

func (s *IngestionService) publishCreated(ctx context.Context, ticket *domain.Ticket) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, newTicketCreatedEvent(ticket))
}

func newTicketCreatedEvent(ticket *domain.Ticket) events.Event {
	return events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventTicketCreated,
		TicketID:  ticket.ID,
		ActorID:   ticket.CreatedByID,
		Timestamp: ticket.CreatedAt,
		Payload: events.TicketCreatedPayload{
			RequestType: ticket.RequestType,
			Category:    ticket.Category,
			Title:       ticket.Title,
		},
	}
}

// ticketTitle trims the subject to maxTitleRunes.
func ticketTitle(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return fallbackSubject
	}
	if utf8.RuneCountInString(subject) <= maxTitleRunes {
		return subject
	}
	return string([]rune(subject)[:maxTitleRunes])
}
