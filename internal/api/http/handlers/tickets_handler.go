package handlers

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/opsdesk/ticket-sync/internal/api/dto"
	"github.com/opsdesk/ticket-sync/internal/auth"
	"github.com/opsdesk/ticket-sync/internal/domain"
	"github.com/opsdesk/ticket-sync/internal/service"
	apperrors "github.com/opsdesk/ticket-sync/pkg/util/errorutil"
)

// TicketsHandler manages ticket endpoints shared by users and staff.
type TicketsHandler struct {
	tickets *service.TicketService
	sync    *service.SyncService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService, syncService *service.SyncService) *TicketsHandler {
	return &TicketsHandler{tickets: ticketService, sync: syncService}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	ticket, err := h.tickets.CreateTicket(c.UserContext(), principal.User.ID, service.TicketCreateInput{
		Title:        req.Title,
		Description:  req.Description,
		Category:     req.Category,
		Priority:     req.Priority,
		AssignedTeam: req.AssignedTeam,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// ListTickets GET /tickets. Staff see every ticket.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	tickets, err := h.tickets.ListTickets(c.UserContext(), principal.User.ID, principal.IsStaff(), parseTicketQuery(c))
	if err != nil {
		return err
	}
	items := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, ticketResponse(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	ticket, err := h.visibleTicket(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// GetStatus GET /tickets/:id/status.
func (h *TicketsHandler) GetStatus(c *fiber.Ctx) error {
	ticket, err := h.visibleTicket(c)
	if err != nil {
		return err
	}
	snapshot, err := h.sync.Status(c.UserContext(), ticket.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewSyncStatusResponse(snapshot)})
}

// RetryTicket POST /tickets/:id/retry. Tickets that are not pending or failed answer
// 200 with accepted=false.
func (h *TicketsHandler) RetryTicket(c *fiber.Ctx) error {
	ticket, err := h.visibleTicket(c)
	if err != nil {
		return err
	}
	principal, _ := auth.PrincipalFromContext(c)
	outcome, err := h.sync.Retry(c.UserContext(), ticket.ID, &principal.User.ID)
	if err != nil {
		return err
	}
	status := http.StatusOK
	if outcome.Accepted {
		status = http.StatusAccepted
	}
	return c.Status(status).JSON(fiber.Map{"data": dto.RetryResponse{
		Accepted: outcome.Accepted,
		Status:   dto.NewSyncStatusResponse(outcome.Snapshot),
	}})
}

func (h *TicketsHandler) visibleTicket(c *fiber.Ctx) (*domain.Ticket, error) {
	principal, err := requirePrincipal(c)
	if err != nil {
		return nil, err
	}
	return h.tickets.GetTicket(c.UserContext(), principal.User.ID, principal.IsStaff(), c.Params("id"))
}

func requirePrincipal(c *fiber.Ctx) (*auth.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.User == nil {
		return nil, apperrors.NewUnauthorized("user required")
	}
	return principal, nil
}

func parseTicketQuery(c *fiber.Ctx) service.TicketListFilter {
	filter := service.TicketListFilter{}
	if status := c.Query("status"); status != "" {
		filter.CreationStatus = &status
	}
	if category := c.Query("category"); category != "" {
		filter.Category = &category
	}
	if requestType := c.Query("request_type"); requestType != "" {
		filter.RequestType = &requestType
	}
	if search := c.Query("q"); search != "" {
		filter.SearchTerm = &search
	}
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	if pageSize > 100 {
		pageSize = 100
	}
	filter.Offset = (page - 1) * pageSize
	filter.Limit = pageSize
	return filter
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func ticketResponse(ticket *domain.Ticket) dto.TicketResponse {
	impact, urgency := service.PriorityImpact(ticket)
	return dto.TicketResponse{
		ID:                 ticket.ID,
		Title:              ticket.Title,
		Description:        ticket.Description,
		Category:           ticket.Category,
		Priority:           ticket.Priority,
		Impact:             impact,
		Urgency:            urgency,
		CreatedByID:        ticket.CreatedByID,
		AssignedTeam:       ticket.AssignedTeam,
		RequestType:        ticket.RequestType,
		CreationStatus:     ticket.CreationStatus,
		RemoteTicketNumber: ticket.RemoteTicketNumber,
		RemoteStatus:       ticket.RemoteStatus,
		SyncAttempts:       ticket.SyncAttempts,
		LastSyncAttempt:    ticket.LastSyncAttempt,
		NextSyncAt:         ticket.NextSyncAt,
		ErrorMessage:       ticket.ErrorMessage,
		CreatedAt:          ticket.CreatedAt,
		UpdatedAt:          ticket.UpdatedAt,
	}
}
