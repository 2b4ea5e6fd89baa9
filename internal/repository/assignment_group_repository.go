package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/opsdesk/ticket-sync/internal/domain"
)

// AssignmentGroupRepository reads and seeds remote assignment groups.
type AssignmentGroupRepository interface {
	// ResolveGroup returns the remote group id for a team label (group name or category),
	// falling back to the ticket category; nil when no active group matches.
	ResolveGroup(ctx context.Context, teamLabel string, category domain.Category) (*string, error)
	Upsert(ctx context.Context, group *domain.AssignmentGroup) error
	List(ctx context.Context) ([]domain.AssignmentGroup, error)
}

type assignmentGroupRepository struct {
	db DBTX
}

// NewAssignmentGroupRepository instantiates repository.
func NewAssignmentGroupRepository(db DBTX) AssignmentGroupRepository {
	return &assignmentGroupRepository{db: db}
}

func (r *assignmentGroupRepository) ResolveGroup(ctx context.Context, teamLabel string, category domain.Category) (*string, error) {
	const query = `
        SELECT remote_group_id FROM assignment_groups
        WHERE is_active=TRUE AND (LOWER(name)=$1 OR category=$1 OR category=$2)
        ORDER BY CASE WHEN LOWER(name)=$1 THEN 0 WHEN category=$1 THEN 1 ELSE 2 END
        LIMIT 1`
	var groupID string
	err := r.db.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(teamLabel)), category).Scan(&groupID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &groupID, nil
}

func (r *assignmentGroupRepository) Upsert(ctx context.Context, group *domain.AssignmentGroup) error {
	const query = `
        INSERT INTO assignment_groups (name, category, remote_group_id, is_active)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (name) DO UPDATE SET category=EXCLUDED.category, remote_group_id=EXCLUDED.remote_group_id,
            is_active=EXCLUDED.is_active
        RETURNING id, created_at`
	return r.db.QueryRow(ctx, query,
		group.Name,
		group.Category,
		group.RemoteGroupID,
		group.IsActive,
	).Scan(&group.ID, &group.CreatedAt)
}

func (r *assignmentGroupRepository) List(ctx context.Context) ([]domain.AssignmentGroup, error) {
	const query = `
        SELECT id, name, category, remote_group_id, is_active, created_at
        FROM assignment_groups ORDER BY name`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AssignmentGroup
	for rows.Next() {
		var group domain.AssignmentGroup
		if err := rows.Scan(&group.ID, &group.Name, &group.Category, &group.RemoteGroupID, &group.IsActive, &group.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, group)
	}
	return result, rows.Err()
}
