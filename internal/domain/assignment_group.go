package domain

import "time"

// AssignmentGroup maps a support category to a remote group identifier.
type AssignmentGroup struct {
	ID            string
	Name          string
	Category      Category
	RemoteGroupID string
	IsActive      bool
	CreatedAt     time.Time
}
