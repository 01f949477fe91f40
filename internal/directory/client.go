// Package directory is the boundary to the external cloud identity
// directory. The rest of the service only sees the Client interface and the
// transient/permanent error taxonomy; transport details stay here.
package directory

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a directory failure for retry purposes.
type ErrorKind int

const (
	// KindTransient errors are worth retrying: timeouts, throttling,
	// remote 5xx responses.
	KindTransient ErrorKind = iota + 1
	// KindPermanent errors cannot be fixed by retrying: bad credentials,
	// unknown accounts.
	KindPermanent
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	}
	return "unknown"
}

// Error wraps a directory failure with its retry classification.
type Error struct {
	Kind   ErrorKind
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("directory: %s: %s (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("directory: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient builds a retryable error.
func Transient(op string, status int, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Status: status, Err: err}
}

// Permanent builds a non-retryable error.
func Permanent(op string, status int, err error) *Error {
	return &Error{Kind: KindPermanent, Op: op, Status: status, Err: err}
}

// IsTransient reports whether err is classified as retryable. Unclassified
// errors are treated as permanent so unknown failures never loop.
func IsTransient(err error) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind == KindTransient
	}
	return false
}

var (
	ErrNotMapped        = errors.New("account not mapped in directory")
	ErrPermissionDenied = errors.New("directory rejected credentials")
)

// Account carries the fields the directory needs to register a new mapping.
type Account struct {
	Email          string `json:"email"`
	DisplayName    string `json:"display_name,omitempty"`
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
}

// Client is the raw directory operation set. Implementations do not retry;
// that is the Retrier's job.
type Client interface {
	// UpdateRole pushes a new role for an already-mapped account.
	UpdateRole(ctx context.Context, externalID, role string) error
	// CreateMapping registers an account and returns its directory identifier.
	CreateMapping(ctx context.Context, account Account) (string, error)
	// Ping verifies connectivity for health probes.
	Ping(ctx context.Context) error
}
