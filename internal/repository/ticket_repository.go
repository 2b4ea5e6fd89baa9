package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/opsdesk/ticket-sync/internal/domain"
)

// FinalRemoteStatuses are remote states that no longer need polling.
var FinalRemoteStatuses = []string{"resolved", "closed", "cancelled", "canceled", "6", "7", "8"}

// TicketFilter captures listing parameters.
type TicketFilter struct {
	CreatedByID    *string
	CreationStatus *domain.CreationStatus
	Category       *domain.Category
	RequestType    *domain.RequestType
	SearchTerm     *string
	Limit          int
	Offset         int
}

// SyncFailure describes a failed sync attempt to persist.
type SyncFailure struct {
	Status       domain.CreationStatus
	Attempts     int
	ErrorMessage string
	AttemptedAt  time.Time
	NextSyncAt   *time.Time
}

// TicketRepository encapsulates ticket persistence. Sync-state writes are conditional on the
// current creation_status and report whether a row was changed.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	ListDueForSync(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error)
	ListForPolling(ctx context.Context, limit int) ([]domain.Ticket, error)
	MarkCreated(ctx context.Context, id, number, sysID string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id string, failure SyncFailure) (bool, error)
	ResetForRetry(ctx context.Context, id string, at time.Time) (bool, error)
	UpdateRemoteStatus(ctx context.Context, id, status string) error
	ApplyOperatorUpdate(ctx context.Context, ticket *domain.Ticket, expected domain.CreationStatus) (bool, error)
}

const ticketColumns = `id, title, description, category, priority, created_by, assigned_team, request_type,
               creation_status, remote_ticket_number, remote_sys_id, remote_status, sync_attempts,
               last_sync_attempt, next_sync_at, error_message, created_at, updated_at`

type ticketRepository struct {
	db DBTX
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(db DBTX) TicketRepository {
	return &ticketRepository{db: db}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (title, description, category, priority, created_by, assigned_team, request_type,
                             creation_status, remote_status)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING id, created_at, updated_at`
	return r.db.QueryRow(ctx, query,
		ticket.Title,
		ticket.Description,
		ticket.Category,
		ticket.Priority,
		ticket.CreatedByID,
		ticket.AssignedTeam,
		ticket.RequestType,
		ticket.CreationStatus,
		ticket.RemoteStatus,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	ticket, err := scanTicket(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.CreatedByID != nil {
		args = append(args, *filter.CreatedByID)
		clauses = append(clauses, fmt.Sprintf("created_by=$%d", len(args)))
	}
	if filter.CreationStatus != nil {
		args = append(args, *filter.CreationStatus)
		clauses = append(clauses, fmt.Sprintf("creation_status=$%d", len(args)))
	}
	if filter.Category != nil {
		args = append(args, *filter.Category)
		clauses = append(clauses, fmt.Sprintf("category=$%d", len(args)))
	}
	if filter.RequestType != nil {
		args = append(args, *filter.RequestType)
		clauses = append(clauses, fmt.Sprintf("request_type=$%d", len(args)))
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		search := "%" + strings.ToLower(strings.TrimSpace(*filter.SearchTerm)) + "%"
		args = append(args, search)
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf(
			"(LOWER(title) LIKE %s OR LOWER(description) LIKE %s OR LOWER(COALESCE(remote_ticket_number,'')) LIKE %s)",
			placeholder, placeholder, placeholder))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		ticketColumns, strings.Join(clauses, " AND "), limit, offset)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) ListDueForSync(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE creation_status IN ('pending','retrying') AND (next_sync_at IS NULL OR next_sync_at <= $1)
        ORDER BY created_at ASC LIMIT $2`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) ListForPolling(ctx context.Context, limit int) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE creation_status='created' AND remote_sys_id IS NOT NULL AND NOT (LOWER(remote_status) = ANY($1))
        ORDER BY last_sync_attempt ASC NULLS FIRST LIMIT $2`
	rows, err := r.db.Query(ctx, query, FinalRemoteStatuses, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) MarkCreated(ctx context.Context, id, number, sysID string, at time.Time) (bool, error) {
	const query = `
        UPDATE tickets SET creation_status='created', remote_ticket_number=$1, remote_sys_id=$2,
            error_message=NULL, next_sync_at=NULL, last_sync_attempt=$3, updated_at=NOW()
        WHERE id=$4 AND creation_status IN ('pending','retrying')`
	cmd, err := r.db.Exec(ctx, query, number, sysID, at, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *ticketRepository) MarkFailed(ctx context.Context, id string, failure SyncFailure) (bool, error) {
	const query = `
        UPDATE tickets SET creation_status=$1, sync_attempts=$2, error_message=$3, last_sync_attempt=$4,
            next_sync_at=$5, updated_at=NOW()
        WHERE id=$6 AND creation_status IN ('pending','retrying')`
	cmd, err := r.db.Exec(ctx, query,
		failure.Status,
		failure.Attempts,
		failure.ErrorMessage,
		failure.AttemptedAt,
		failure.NextSyncAt,
		id,
	)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *ticketRepository) ResetForRetry(ctx context.Context, id string, at time.Time) (bool, error) {
	const query = `
        UPDATE tickets SET creation_status='pending', sync_attempts=0, error_message=NULL, next_sync_at=$1,
            updated_at=NOW()
        WHERE id=$2 AND creation_status IN ('pending','failed')`
	cmd, err := r.db.Exec(ctx, query, at, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *ticketRepository) UpdateRemoteStatus(ctx context.Context, id, status string) error {
	const query = `UPDATE tickets SET remote_status=$1, updated_at=NOW() WHERE id=$2`
	cmd, err := r.db.Exec(ctx, query, status, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) ApplyOperatorUpdate(ctx context.Context, ticket *domain.Ticket, expected domain.CreationStatus) (bool, error) {
	const query = `
        UPDATE tickets SET creation_status=$1, error_message=$2, assigned_team=$3, updated_at=NOW()
        WHERE id=$4 AND creation_status=$5`
	cmd, err := r.db.Exec(ctx, query,
		ticket.CreationStatus,
		ticket.ErrorMessage,
		ticket.AssignedTeam,
		ticket.ID,
		expected,
	)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.Title,
		&ticket.Description,
		&ticket.Category,
		&ticket.Priority,
		&ticket.CreatedByID,
		&ticket.AssignedTeam,
		&ticket.RequestType,
		&ticket.CreationStatus,
		&ticket.RemoteTicketNumber,
		&ticket.RemoteSysID,
		&ticket.RemoteStatus,
		&ticket.SyncAttempts,
		&ticket.LastSyncAttempt,
		&ticket.NextSyncAt,
		&ticket.ErrorMessage,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}
