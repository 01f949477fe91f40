package identity

import "context"

// UserStore persists user accounts. Implementations must make UpdateRole an
// atomic compare-and-swap on the account's row version so concurrent
// transitions against the same account serialize at the storage layer.
type UserStore interface {
	Find(ctx context.Context, id string) (*UserAccount, error)
	FindByEmail(ctx context.Context, email string) (*UserAccount, error)
	Create(ctx context.Context, account *UserAccount) error

	// UpdateRole commits newRole iff the stored row version still equals
	// expectedVersion. Returns ErrConflict when another writer got there
	// first and ErrNotFound when the account is missing or inactive.
	UpdateRole(ctx context.Context, id string, newRole Role, expectedVersion int64) (*UserAccount, error)

	// SetDirectoryState records the external directory identifier and
	// whether a sync is still pending for the account.
	SetDirectoryState(ctx context.Context, id, externalID string, pending bool) error

	// ListDirectoryPending returns accounts whose local state has not been
	// confirmed in the external directory, oldest first.
	ListDirectoryPending(ctx context.Context, limit int) ([]*UserAccount, error)
}

// AuditStore appends immutable records. Append must never mutate or delete
// existing entries.
type AuditStore interface {
	Append(ctx context.Context, rec *AuditRecord) error
	ListByTarget(ctx context.Context, targetID string, limit int) ([]AuditRecord, error)
}

// DirectorySyncer pushes role state to the external identity directory. The
// implementation owns retry behavior; by the time an error surfaces here it
// is final.
type DirectorySyncer interface {
	// SyncRole updates the directory-side role of an already-mapped account.
	SyncRole(ctx context.Context, externalID string, role Role) error
	// CreateMapping registers a never-synchronized account in the directory
	// and returns its directory identifier.
	CreateMapping(ctx context.Context, account *UserAccount) (string, error)
}
