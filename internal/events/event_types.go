package events

import (
	"time"

	"github.com/opsdesk/ticket-sync/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated        EventType = "ticket_created"
	EventTicketRetryRequested EventType = "ticket_retry_requested"
	EventTicketSynced         EventType = "ticket_synced"
	EventTicketSyncFailed     EventType = "ticket_sync_failed"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	ActorID   *string     `json:"actor_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	RequestType domain.RequestType `json:"request_type"`
	Category    domain.Category    `json:"category"`
	Title       string             `json:"title"`
}

// TicketSyncedPayload payload.
type TicketSyncedPayload struct {
	RemoteTicketNumber string `json:"remote_ticket_number"`
	Attempts           int    `json:"attempts"`
}

// TicketSyncFailedPayload payload.
type TicketSyncFailedPayload struct {
	Status     domain.CreationStatus `json:"status"`
	Attempts   int                   `json:"attempts"`
	HTTPStatus int                   `json:"http_status,omitempty"`
	NextSyncAt *time.Time            `json:"next_sync_at,omitempty"`
}
