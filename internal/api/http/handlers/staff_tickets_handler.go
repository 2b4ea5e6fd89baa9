package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/opsdesk/ticket-sync/internal/api/dto"
	"github.com/opsdesk/ticket-sync/internal/service"
	apperrors "github.com/opsdesk/ticket-sync/pkg/util/errorutil"
)

// StaffTicketsHandler handles operator-only ticket endpoints.
type StaffTicketsHandler struct {
	sync   *service.SyncService
	groups *service.AssignmentService
}

// NewStaffTicketsHandler constructs handler.
func NewStaffTicketsHandler(syncService *service.SyncService, groups *service.AssignmentService) *StaffTicketsHandler {
	return &StaffTicketsHandler{sync: syncService, groups: groups}
}

// UpdateTicket PATCH /staff/tickets/:id.
func (h *StaffTicketsHandler) UpdateTicket(c *fiber.Ctx) error {
	var req dto.UpdateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.CreationStatus == nil && req.AssignedTeam == nil && req.ErrorMessage == nil {
		return apperrors.NewValidationError("no updatable fields supplied", nil)
	}
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	ticket, err := h.sync.ApplyOperatorUpdate(c.UserContext(), c.Params("id"), service.OperatorUpdate{
		CreationStatus: req.CreationStatus,
		AssignedTeam:   req.AssignedTeam,
		ErrorMessage:   req.ErrorMessage,
		ActorID:        &principal.User.ID,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// RefreshTicket POST /staff/tickets/:id/refresh.
func (h *StaffTicketsHandler) RefreshTicket(c *fiber.Ctx) error {
	ticket, err := h.sync.RefreshStatus(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// ListGroups GET /staff/groups.
func (h *StaffTicketsHandler) ListGroups(c *fiber.Ctx) error {
	groups, err := h.groups.ListGroups(c.UserContext())
	if err != nil {
		return err
	}
	items := make([]dto.AssignmentGroupResponse, 0, len(groups))
	for _, g := range groups {
		items = append(items, dto.AssignmentGroupResponse{
			ID:            g.ID,
			Name:          g.Name,
			Category:      g.Category,
			RemoteGroupID: g.RemoteGroupID,
			IsActive:      g.IsActive,
		})
	}
	return c.JSON(fiber.Map{"data": items})
}
