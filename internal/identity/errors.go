package identity

import "errors"

var (
	ErrInvalidInput = errors.New("identity: invalid input")
	ErrNotFound     = errors.New("identity: not found")
	ErrConflict     = errors.New("identity: concurrent modification")
	ErrPolicyDenied = errors.New("identity: policy denied")
	ErrUnavailable  = errors.New("identity: store unavailable")
)
