package domain

// Role differentiates end-users from operators in issued tokens.
type Role string

const (
	RoleUser  Role = "USER"
	RoleStaff Role = "STAFF"
)

// RoleFor returns the token role of u.
func RoleFor(u *User) Role {
	if u != nil && u.IsStaff {
		return RoleStaff
	}
	return RoleUser
}
