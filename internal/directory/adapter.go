package directory

import (
	"context"
	"errors"

	"konsol.org/internal/identity"
	"konsol.org/internal/ids"
	"konsol.org/internal/obs"
)

// Adapter bridges a directory Client (usually wrapped in a Retrier) to the
// orchestrator's DirectorySyncer contract.
type Adapter struct {
	client Client
}

var _ identity.DirectorySyncer = (*Adapter)(nil)

// NewAdapter wraps client.
func NewAdapter(client Client) (*Adapter, error) {
	if client == nil {
		return nil, errors.New("directory: client is required")
	}
	return &Adapter{client: client}, nil
}

func (a *Adapter) SyncRole(ctx context.Context, externalID string, role identity.Role) error {
	return a.client.UpdateRole(ctx, externalID, string(role))
}

func (a *Adapter) CreateMapping(ctx context.Context, account *identity.UserAccount) (string, error) {
	if account == nil {
		return "", errors.New("directory: account is required")
	}
	return a.client.CreateMapping(ctx, Account{
		Email:          account.Email,
		DisplayName:    account.DisplayName,
		OrganizationID: account.OrganizationID,
		Role:           string(account.Role),
	})
}

// Nop is the development fallback when no directory is configured: every
// call succeeds locally and is visible in the log, so the rest of the
// service behaves as if the mirror were healthy.
type Nop struct{}

var _ Client = Nop{}

func (Nop) UpdateRole(ctx context.Context, externalID, role string) error {
	obs.LogRequest(map[string]any{
		"level": "warn", "msg": "directory_noop_update", "external_id": externalID, "role": role,
	})
	return nil
}

func (Nop) CreateMapping(ctx context.Context, account Account) (string, error) {
	id := "local-" + ids.New()
	obs.LogRequest(map[string]any{
		"level": "warn", "msg": "directory_noop_create", "email": account.Email, "external_id": id,
	})
	return id, nil
}

func (Nop) Ping(ctx context.Context) error { return nil }
