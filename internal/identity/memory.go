package identity

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"konsol.org/internal/ids"
)

// MemoryStore implements UserStore and AuditStore in process with the same
// compare-and-swap semantics as the Postgres store. It backs tests and the
// development mode of the API binary.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*UserAccount
	byEmail  map[string]string
	records  []AuditRecord
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*UserAccount),
		byEmail:  make(map[string]string),
	}
}

var (
	_ UserStore  = (*MemoryStore)(nil)
	_ AuditStore = (*MemoryStore)(nil)
)

func (s *MemoryStore) Find(ctx context.Context, id string) (*UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *acc
	return &out, nil
}

func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (*UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	out := *s.accounts[id]
	return &out, nil
}

func (s *MemoryStore) Create(ctx context.Context, account *UserAccount) error {
	if account == nil || account.ID == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(account.Email)
	if _, exists := s.byEmail[key]; exists {
		return ErrConflict
	}
	if _, exists := s.accounts[account.ID]; exists {
		return ErrConflict
	}
	cp := *account
	if cp.RowVersion == 0 {
		cp.RowVersion = 1
	}
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.accounts[cp.ID] = &cp
	s.byEmail[key] = cp.ID
	return nil
}

func (s *MemoryStore) UpdateRole(ctx context.Context, id string, newRole Role, expectedVersion int64) (*UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok || !acc.Active {
		return nil, ErrNotFound
	}
	if acc.RowVersion != expectedVersion {
		return nil, ErrConflict
	}
	acc.Role = newRole
	acc.RowVersion++
	acc.UpdatedAt = time.Now().UTC()
	out := *acc
	return &out, nil
}

func (s *MemoryStore) SetDirectoryState(ctx context.Context, id, externalID string, pending bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	if externalID != "" {
		acc.ExternalID = externalID
	}
	acc.DirectoryPending = pending
	if !pending {
		now := time.Now().UTC()
		acc.DirectorySyncedAt = &now
	}
	acc.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListDirectoryPending(ctx context.Context, limit int) ([]*UserAccount, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*UserAccount
	for _, acc := range s.accounts {
		if acc.DirectoryPending && acc.Active {
			cp := *acc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Append(ctx context.Context, rec *AuditRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: audit record is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	if cp.ID == "" {
		cp.ID = ids.New()
	}
	s.records = append(s.records, cp)
	return nil
}

func (s *MemoryStore) ListByTarget(ctx context.Context, targetID string, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []AuditRecord
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		if targetID == "" || s.records[i].TargetID == targetID {
			out = append(out, s.records[i])
		}
	}
	return out, nil
}

// AuditRecords returns a copy of everything appended so far. Test helper.
func (s *MemoryStore) AuditRecords() []AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AuditRecord, len(s.records))
	copy(out, s.records)
	return out
}
