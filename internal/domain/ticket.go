package domain

import (
	"strings"
	"time"
)

// CreationStatus enumerates sync states of a ticket against the remote system.
type CreationStatus string

const (
	CreationStatusPending  CreationStatus = "pending"
	CreationStatusCreated  CreationStatus = "created"
	CreationStatusFailed   CreationStatus = "failed"
	CreationStatusRetrying CreationStatus = "retrying"
)

// Valid reports whether s is one of the defined creation statuses.
func (s CreationStatus) Valid() bool {
	switch s {
	case CreationStatusPending, CreationStatusCreated, CreationStatusFailed, CreationStatusRetrying:
		return true
	}
	return false
}

// Syncable reports whether the engine may run a sync attempt in this state.
func (s CreationStatus) Syncable() bool {
	return s == CreationStatusPending || s == CreationStatusRetrying
}

// Retriable reports whether an operator retry is accepted in this state.
func (s CreationStatus) Retriable() bool {
	return s == CreationStatusPending || s == CreationStatusFailed
}

// RequestType records the channel a ticket came from.
type RequestType string

const (
	RequestTypeWeb   RequestType = "web"
	RequestTypeEmail RequestType = "email"
)

// Category is the fixed support category enumeration.
type Category string

const (
	CategoryCloud          Category = "cloud"
	CategoryUnix           Category = "unix"
	CategoryNetwork        Category = "network"
	CategoryDatabase       Category = "database"
	CategoryApplication    Category = "application"
	CategorySecurity       Category = "security"
	CategoryVirtualization Category = "virtualization"
	CategoryStorage        Category = "storage"
	CategoryMonitoring     Category = "monitoring"
	CategoryDevOps         Category = "devops"
	CategoryHardware       Category = "hardware"
	CategoryEmail          Category = "email"
	CategoryBackup         Category = "backup"
	CategoryVendor         Category = "vendor"
)

// DefaultCategory is used when prediction fails.
const DefaultCategory = CategoryApplication

// Categories lists every known category in display order.
var Categories = []Category{
	CategoryCloud, CategoryUnix, CategoryNetwork, CategoryDatabase, CategoryApplication,
	CategorySecurity, CategoryVirtualization, CategoryStorage, CategoryMonitoring,
	CategoryDevOps, CategoryHardware, CategoryEmail, CategoryBackup, CategoryVendor,
}

// ParseCategory normalizes raw into a known category.
func ParseCategory(raw string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Categories {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// DefaultRemoteStatus is the informational remote status before any poll.
const DefaultRemoteStatus = "queued"

// Ticket is the aggregate mirrored into the remote incident system.
type Ticket struct {
	ID                 string
	Title              string
	Description        string
	Category           Category
	Priority           string
	CreatedByID        *string
	AssignedTeam       string
	RequestType        RequestType
	CreationStatus     CreationStatus
	RemoteTicketNumber *string
	RemoteSysID        *string
	RemoteStatus       string
	SyncAttempts       int
	LastSyncAttempt    *time.Time
	NextSyncAt         *time.Time
	ErrorMessage       *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SyncSnapshot is the read-only status view exposed to callers.
type SyncSnapshot struct {
	CreationStatus     CreationStatus
	RemoteTicketNumber *string
	SyncAttempts       int
	ErrorMessage       *string
}

// Snapshot returns the current sync status view.
func (t *Ticket) Snapshot() SyncSnapshot {
	return SyncSnapshot{
		CreationStatus:     t.CreationStatus,
		RemoteTicketNumber: t.RemoteTicketNumber,
		SyncAttempts:       t.SyncAttempts,
		ErrorMessage:       t.ErrorMessage,
	}
}
