package domain

import "time"

// UserStatus represents lifecycle states for an account.
type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
)

// User is an account that submits or operates tickets.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	IsStaff      bool
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserProfile carries per-user verification state.
type UserProfile struct {
	UserID             string
	EmailVerified      bool
	VerificationSentAt *time.Time
}
