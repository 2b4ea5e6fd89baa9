package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/opsdesk/ticket-sync/internal/classifier"
	"github.com/opsdesk/ticket-sync/internal/domain"
	"github.com/opsdesk/ticket-sync/internal/events"
	"github.com/opsdesk/ticket-sync/internal/remote"
	"github.com/opsdesk/ticket-sync/internal/repository"
	apperrors "github.com/opsdesk/ticket-sync/pkg/util/errorutil"
)

var allowedPriorities = map[string]struct{}{
	"low": {}, "medium": {}, "high": {}, "critical": {},
}

// TicketService coordinates web ticket workflows.
type TicketService struct {
	tickets    repository.TicketRepository
	predictor  classifier.Predictor
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// TicketDependencies bundles collaborators for ticket service.
type TicketDependencies struct {
	TicketRepo repository.TicketRepository
	Predictor  classifier.Predictor
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title        string
	Description  string
	Category     string
	Priority     string
	AssignedTeam string
}

// TicketListFilter describes listing filters.
type TicketListFilter struct {
	CreationStatus *string
	Category       *string
	RequestType    *string
	SearchTerm     *string
	Limit          int
	Offset         int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		tickets:    deps.TicketRepo,
		predictor:  deps.Predictor,
		dispatcher: deps.Dispatcher,
		logger:     logger,
	}
}

// CreateTicket creates a web ticket for a user and queues it for sync.
func (s *TicketService) CreateTicket(ctx context.Context, userID string, input TicketCreateInput) (*domain.Ticket, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperrors.NewValidationError("title is required", nil)
	}
	if utf8.RuneCountInString(title) > maxTitleRunes {
		return nil, apperrors.NewValidationError("title too long", map[string]any{"max_length": maxTitleRunes})
	}

	priority := strings.ToLower(strings.TrimSpace(input.Priority))
	if priority == "" {
		priority = "low"
	}
	if _, ok := allowedPriorities[priority]; !ok {
		return nil, apperrors.NewValidationError("invalid priority", map[string]any{"priority": input.Priority})
	}

	description := strings.TrimSpace(input.Description)
	var category domain.Category
	if strings.TrimSpace(input.Category) != "" {
		parsed, ok := domain.ParseCategory(input.Category)
		if !ok {
			return nil, apperrors.NewValidationError("invalid category", map[string]any{
				"category": input.Category,
				"allowed":  domain.Categories,
			})
		}
		category = parsed
	} else {
		predicted, err := classifier.PredictOrDefault(ctx, s.predictor, title, description)
		if err != nil {
			s.logger.Info("category prediction failed; using default", zap.Error(err))
		}
		category = predicted
	}

	ticket := &domain.Ticket{
		Title:          title,
		Description:    description,
		Category:       category,
		Priority:       priority,
		CreatedByID:    &userID,
		AssignedTeam:   strings.TrimSpace(input.AssignedTeam),
		RequestType:    domain.RequestTypeWeb,
		CreationStatus: domain.CreationStatusPending,
		RemoteStatus:   domain.DefaultRemoteStatus,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, err
	}
	if s.dispatcher != nil {
		_ = s.dispatcher.Publish(ctx, newTicketCreatedEvent(ticket))
	}
	// the created event may have synced it already
	if current, err := s.tickets.GetByID(ctx, ticket.ID); err == nil {
		ticket = current
	}
	return ticket, nil
}

// ListTickets returns tickets visible to the caller. Non-staff callers only see their own.
func (s *TicketService) ListTickets(ctx context.Context, userID string, staff bool, filter TicketListFilter) ([]domain.Ticket, error) {
	repoFilter := repository.TicketFilter{
		SearchTerm: filter.SearchTerm,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	}
	if !staff {
		repoFilter.CreatedByID = &userID
	}
	if filter.CreationStatus != nil {
		status := domain.CreationStatus(strings.ToLower(*filter.CreationStatus))
		if !status.Valid() {
			return nil, apperrors.NewValidationError("invalid status filter", map[string]any{"status": *filter.CreationStatus})
		}
		repoFilter.CreationStatus = &status
	}
	if filter.Category != nil {
		category, ok := domain.ParseCategory(*filter.Category)
		if !ok {
			return nil, apperrors.NewValidationError("invalid category filter", map[string]any{"category": *filter.Category})
		}
		repoFilter.Category = &category
	}
	if filter.RequestType != nil {
		rt := domain.RequestType(strings.ToLower(*filter.RequestType))
		if rt != domain.RequestTypeWeb && rt != domain.RequestTypeEmail {
			return nil, apperrors.NewValidationError("invalid request_type filter", map[string]any{"request_type": *filter.RequestType})
		}
		repoFilter.RequestType = &rt
	}
	return s.tickets.List(ctx, repoFilter)
}

// GetTicket returns a ticket when the caller may see it.
func (s *TicketService) GetTicket(ctx context.Context, userID string, staff bool, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !staff && (ticket.CreatedByID == nil || *ticket.CreatedByID != userID) {
		// do not reveal existence of other users' tickets
		return nil, apperrors.NewNotFound("ticket", nil)
	}
	return ticket, nil
}

// PriorityImpact exposes the impact/urgency pair a ticket will be sent with.
func PriorityImpact(ticket *domain.Ticket) (int, int) {
	return remote.MapPriority(ticket.Priority)
}
