package dto

import (
	"time"

	"github.com/opsdesk/ticket-sync/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	Category     string `json:"category"`
	Priority     string `json:"priority"`
	AssignedTeam string `json:"assigned_team"`
}

// UpdateTicketRequest is the operator PATCH payload. Absent fields are left unchanged.
type UpdateTicketRequest struct {
	CreationStatus *string `json:"creation_status"`
	AssignedTeam   *string `json:"assigned_team"`
	ErrorMessage   *string `json:"error_message"`
}

// InboundEmailRequest is a message pushed by a mail gateway.
type InboundEmailRequest struct {
	UID        string `json:"uid"`
	Sender     string `json:"sender"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	Raw        string `json:"raw_email"`
	ChannelKey string `json:"channel_key"`
}

// TicketResponse is the full ticket view.
type TicketResponse struct {
	ID                 string                `json:"id"`
	Title              string                `json:"title"`
	Description        string                `json:"description"`
	Category           domain.Category       `json:"category"`
	Priority           string                `json:"priority"`
	Impact             int                   `json:"impact"`
	Urgency            int                   `json:"urgency"`
	CreatedByID        *string               `json:"created_by_id"`
	AssignedTeam       string                `json:"assigned_team,omitempty"`
	RequestType        domain.RequestType    `json:"request_type"`
	CreationStatus     domain.CreationStatus `json:"creation_status"`
	RemoteTicketNumber *string               `json:"remote_ticket_number"`
	RemoteStatus       string                `json:"remote_status"`
	SyncAttempts       int                   `json:"sync_attempts"`
	LastSyncAttempt    *time.Time            `json:"last_sync_attempt"`
	NextSyncAt         *time.Time            `json:"next_sync_at,omitempty"`
	ErrorMessage       *string               `json:"error_message"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
}

// SyncStatusResponse is the read-only sync snapshot.
type SyncStatusResponse struct {
	CreationStatus     domain.CreationStatus `json:"creation_status"`
	RemoteTicketNumber *string               `json:"remote_ticket_number"`
	SyncAttempts       int                   `json:"sync_attempts"`
	ErrorMessage       *string               `json:"error_message"`
}

// RetryResponse reports whether a retry was queued.
type RetryResponse struct {
	Accepted bool               `json:"accepted"`
	Status   SyncStatusResponse `json:"status"`
}

// InboundEmailResponse reports the ticket an email maps to.
type InboundEmailResponse struct {
	TicketID  string         `json:"ticket_id"`
	Duplicate bool           `json:"duplicate"`
	ReplySent bool           `json:"reply_sent"`
	Ticket    TicketResponse `json:"ticket"`
}

// AssignmentGroupResponse describes one routing group.
type AssignmentGroupResponse struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Category      domain.Category `json:"category"`
	RemoteGroupID string          `json:"remote_group_id"`
	IsActive      bool            `json:"is_active"`
}

// NewSyncStatusResponse converts a snapshot.
func NewSyncStatusResponse(s domain.SyncSnapshot) SyncStatusResponse {
	return SyncStatusResponse{
		CreationStatus:     s.CreationStatus,
		RemoteTicketNumber: s.RemoteTicketNumber,
		SyncAttempts:       s.SyncAttempts,
		ErrorMessage:       s.ErrorMessage,
	}
}
