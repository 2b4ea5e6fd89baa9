package remote

import (
	"fmt"
	"net/http"
)

// NetworkError reports a transport-level failure (timeout, refused connection, TLS).
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("remote %s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// RejectionError reports a non-success answer from the remote system.
type RejectionError struct {
	Op     string
	Status int
	Body   string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("remote %s: rejected with status %d", e.Op, e.Status)
}

// Permanent reports whether retrying the same payload cannot succeed.
func (e *RejectionError) Permanent() bool {
	switch e.Status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusConflict,
		http.StatusUnprocessableEntity:
		return true
	}
	return false
}
