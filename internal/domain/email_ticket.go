package domain

import "time"

// MaxEmailUIDLength is the longest uid storage accepts, in characters.
const MaxEmailUIDLength = 255

// EmailTicket records an inbound email message; UID is the deduplication key.
type EmailTicket struct {
	ID         string
	UID        string
	Sender     string
	Subject    string
	Body       string
	RawEmail   string
	ReceivedAt time.Time
	ReplySent  bool
	TicketID   *string
}

// Linked reports whether the record already owns a ticket.
func (e *EmailTicket) Linked() bool {
	return e.TicketID != nil && *e.TicketID != ""
}
