package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/opsdesk/ticket-sync/internal/domain"
)

// EmailTicketRepository persists inbound email records. UID uniqueness is enforced by storage.
type EmailTicketRepository interface {
	GetByUID(ctx context.Context, uid string) (*domain.EmailTicket, error)
	// InsertOrGet inserts email unless a row with the same UID exists, in which case the
	// existing row is returned locked for the rest of the transaction.
	InsertOrGet(ctx context.Context, email *domain.EmailTicket) (*domain.EmailTicket, bool, error)
	// LinkTicket sets the ticket link only if the record has none yet.
	LinkTicket(ctx context.Context, uid, ticketID string) (bool, error)
	MarkReplySent(ctx context.Context, uid string) error
}

const emailTicketColumns = `id, uid, sender, subject, body, raw_email, received_at, reply_sent, ticket_id`

type emailTicketRepository struct {
	db DBTX
}

// NewEmailTicketRepository instantiates repository.
func NewEmailTicketRepository(db DBTX) EmailTicketRepository {
	return &emailTicketRepository{db: db}
}

func (r *emailTicketRepository) GetByUID(ctx context.Context, uid string) (*domain.EmailTicket, error) {
	query := `SELECT ` + emailTicketColumns + ` FROM email_tickets WHERE uid=$1`
	return scanEmailTicket(r.db.QueryRow(ctx, query, uid))
}

func (r *emailTicketRepository) InsertOrGet(ctx context.Context, email *domain.EmailTicket) (*domain.EmailTicket, bool, error) {
	const insert = `
        INSERT INTO email_tickets (uid, sender, subject, body, raw_email, ticket_id)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (uid) DO NOTHING
        RETURNING id, received_at`
	err := r.db.QueryRow(ctx, insert,
		email.UID,
		email.Sender,
		email.Subject,
		email.Body,
		email.RawEmail,
		email.TicketID,
	).Scan(&email.ID, &email.ReceivedAt)
	if err == nil {
		return email, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	query := `SELECT ` + emailTicketColumns + ` FROM email_tickets WHERE uid=$1 FOR UPDATE`
	existing, err := scanEmailTicket(r.db.QueryRow(ctx, query, email.UID))
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *emailTicketRepository) LinkTicket(ctx context.Context, uid, ticketID string) (bool, error) {
	const query = `UPDATE email_tickets SET ticket_id=$1 WHERE uid=$2 AND ticket_id IS NULL`
	cmd, err := r.db.Exec(ctx, query, ticketID, uid)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *emailTicketRepository) MarkReplySent(ctx context.Context, uid string) error {
	const query = `UPDATE email_tickets SET reply_sent=TRUE WHERE uid=$1`
	cmd, err := r.db.Exec(ctx, query, uid)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanEmailTicket(row pgx.Row) (*domain.EmailTicket, error) {
	var email domain.EmailTicket
	if err := row.Scan(
		&email.ID,
		&email.UID,
		&email.Sender,
		&email.Subject,
		&email.Body,
		&email.RawEmail,
		&email.ReceivedAt,
		&email.ReplySent,
		&email.TicketID,
	); err != nil {
		return nil, err
	}
	return &email, nil
}
