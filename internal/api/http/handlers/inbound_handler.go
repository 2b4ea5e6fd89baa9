package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/opsdesk/ticket-sync/internal/api/dto"
	"github.com/opsdesk/ticket-sync/internal/service"
	apperrors "github.com/opsdesk/ticket-sync/pkg/util/errorutil"
)

// InboundTokenHeader carries the shared secret of the mail gateway.
const InboundTokenHeader = "X-Inbound-Token"

// InboundHandler accepts email messages pushed by a gateway.
type InboundHandler struct {
	ingestion *service.IngestionService
	auth      *service.AuthService
	token     string
}

// NewInboundHandler constructs handler. An empty token disables the endpoint.
func NewInboundHandler(ingestion *service.IngestionService, authService *service.AuthService, token string) *InboundHandler {
	return &InboundHandler{ingestion: ingestion, auth: authService, token: token}
}

// IngestEmail POST /inbound/email.
func (h *InboundHandler) IngestEmail(c *fiber.Ctx) error {
	if h.token == "" {
		return apperrors.NewForbidden("inbound email endpoint disabled")
	}
	if subtle.ConstantTimeCompare([]byte(c.Get(InboundTokenHeader)), []byte(h.token)) != 1 {
		return apperrors.NewUnauthorized("invalid inbound token")
	}

	var req dto.InboundEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	in := service.IngestInput{
		UID:        req.UID,
		Sender:     req.Sender,
		Subject:    req.Subject,
		Body:       req.Body,
		Raw:        req.Raw,
		ChannelKey: req.ChannelKey,
	}
	if h.auth != nil {
		in.CreatorID = h.auth.ResolveSender(c.UserContext(), req.Sender)
	}

	result, err := h.ingestion.Ingest(c.UserContext(), in)
	if err != nil {
		return err
	}
	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{"data": dto.InboundEmailResponse{
		TicketID:  result.Ticket.ID,
		Duplicate: result.Duplicate,
		ReplySent: result.EmailTicket.ReplySent,
		Ticket:    ticketResponse(result.Ticket),
	}})
}
