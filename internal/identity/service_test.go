package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSyncer struct {
	syncErr    error
	createErr  error
	syncCalls  int
	createdFor []string
}

func (s *stubSyncer) SyncRole(ctx context.Context, externalID string, role Role) error {
	s.syncCalls++
	return s.syncErr
}

func (s *stubSyncer) CreateMapping(ctx context.Context, account *UserAccount) (string, error) {
	if s.createErr != nil {
		return "", s.createErr
	}
	s.createdFor = append(s.createdFor, account.ID)
	return "ext-" + account.ID, nil
}

func newFixture(t *testing.T, sync DirectorySyncer) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc, err := NewService(store, store, sync, WithClock(func() time.Time {
		return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	}))
	require.NoError(t, err)
	return svc, store
}

func seed(t *testing.T, store *MemoryStore, id, org string, role Role, extID string) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), &UserAccount{
		ID:             id,
		OrganizationID: org,
		Email:          id + "@example.com",
		Role:           role,
		Active:         true,
		ExternalID:     extID,
	}))
}

func TestApplySucceeds(t *testing.T) {
	sync := &stubSyncer{}
	svc, store := newFixture(t, sync)
	seed(t, store, "dev-1", "org-p", RoleDeveloper, "ext-dev-1")
	seed(t, store, "user-1", "org-a", RoleUser, "ext-user-1")

	res, err := svc.Apply(context.Background(), RoleTransitionRequest{
		Principal:     Principal{UserID: "dev-1", Role: RoleDeveloper},
		TargetID:      "user-1",
		RequestedRole: RoleOrgAdmin,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, RoleOrgAdmin, res.NewRole)
	assert.Equal(t, 1, sync.syncCalls)

	acc, err := store.Find(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, RoleOrgAdmin, acc.Role)
	assert.False(t, acc.DirectoryPending)
	assert.NotNil(t, acc.DirectorySyncedAt)

	recs := store.AuditRecords()
	require.Len(t, recs, 1)
	assert.Equal(t, OutcomeSucceeded, recs[0].Outcome)
	assert.Equal(t, "dev-1", recs[0].ActorID)
	assert.Equal(t, RoleUser, recs[0].PriorRole)
	assert.Equal(t, RoleOrgAdmin, recs[0].RequestedRole)
}

func TestApplySyncFailureIsPartialNeverRolledBack(t *testing.T) {
	sync := &stubSyncer{syncErr: errors.New("directory unavailable")}
	svc, store := newFixture(t, sync)
	seed(t, store, "dev-1", "org-p", RoleDeveloper, "ext-dev-1")
	seed(t, store, "user-1", "org-a", RoleUser, "ext-user-1")

	res, err := svc.Apply(context.Background(), RoleTransitionRequest{
		Principal:     Principal{UserID: "dev-1", Role: RoleDeveloper},
		TargetID:      "user-1",
		RequestedRole: RoleOrgAdmin,
	})
	require.NoError(t, err, "partial application is not an error")
	assert.Equal(t, OutcomePartiallyApplied, res.Outcome)
	assert.NotEmpty(t, res.Diagnostic)

	// The database stays authoritative: the new role is committed and the
	// account is flagged for reconciliation.
	acc, err := store.Find(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, RoleOrgAdmin, acc.Role)
	assert.True(t, acc.DirectoryPending)

	recs := store.AuditRecords()
	require.Len(t, recs, 1)
	assert.Equal(t, OutcomePartiallyApplied, recs[0].Outcome)
}

func TestApplyPolicyDenialIsAuditedAndDoesNotMutate(t *testing.T) {
	sync := &stubSyncer{}
	svc, store := newFixture(t, sync)
	seed(t, store, "admin-1", "org-a", RoleOrgAdmin, "ext-admin-1")
	seed(t, store, "user-1", "org-a", RoleUser, "ext-user-1")

	res, err := svc.Apply(context.Background(), RoleTransitionRequest{
		Principal:     Principal{UserID: "admin-1", Role: RoleOrgAdmin},
		TargetID:      "user-1",
		RequestedRole: RoleOrgAdmin,
	})
	require.ErrorIs(t, err, ErrPolicyDenied)
	assert.Equal(t, OutcomePolicyDenied, res.Outcome)
	assert.Equal(t, string(DenyInsufficient), res.Reason)
	assert.Zero(t, sync.syncCalls)

	acc, err := store.Find(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, acc.Role, "denied request must not mutate")

	recs := store.AuditRecords()
	require.Len(t, recs, 1, "denials are audited too")
	assert.Equal(t, OutcomePolicyDenied, recs[0].Outcome)
}

func TestApplySelfChangeDenied(t *testing.T) {
	svc, store := newFixture(t, &stubSyncer{})
	seed(t, store, "dev-1", "org-p", RoleDeveloper, "ext-dev-1")

	_, err := svc.Apply(context.Background(), RoleTransitionRequest{
		Principal:     Principal{UserID: "dev-1", Role: RoleDeveloper},
		TargetID:      "dev-1",
		RequestedRole: RoleUser,
	})
	require.ErrorIs(t, err, ErrPolicyDenied)

	recs := store.AuditRecords()
	require.Len(t, recs, 1)
	assert.Equal(t, string(DenySelfModification), recs[0].Diagnostic)
}

func TestApplyNoOpDenied(t *testing.T) {
	svc, store := newFixture(t, &stubSyncer{})
	seed(t, store, "dev-1", "org-p", RoleDeveloper, "ext-dev-1")
	seed(t, store, "user-1", "org-a", RoleUser, "ext-user-1")

	_, err := svc.Apply(context.Background(), RoleTransitionRequest{
		Principal:     Principal{UserID: "dev-1", Role: RoleDeveloper},
		TargetID:      "user-1",
		RequestedRole: RoleUser,
	})
	require.ErrorIs(t, err, ErrPolicyDenied)

	acc, err := store.Find(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), acc.RowVersion, "no-op must not touch the row")
}

// racingStore simulates a concurrent writer that bumps the row version
// between the service's load and its compare-and-swap.
type racingStore struct {
	*MemoryStore
	raced bool
}

func (s *racingStore) UpdateRole(ctx context.Context, id string, newRole Role, expectedVersion int64) (*UserAccount, error) {
	if !s.raced {
		s.raced = true
		if _, err := s.MemoryStore.UpdateRole(ctx, id, RoleOrgAdmin, expectedVersion); err != nil {
			return nil, err
		}
	}
	return s.MemoryStore.UpdateRole(ctx, id, newRole, expectedVersion)
}

func TestApplyConcurrentModificationConflicts(t *testing.T) {
	mem := NewMemoryStore()
	store := &racingStore{MemoryStore: mem}
	svc, err := NewService(store, mem, &stubSyncer{})
	require.NoError(t, err)
	seed(t, mem, "dev-1", "org-p", RoleDeveloper, "ext-dev-1")
	seed(t, mem, "user-1", "org-a", RoleUser, "ext-user-1")

	_, err = svc.Apply(context.Background(), RoleTransitionRequest{
		Principal:     Principal{UserID: "dev-1", Role: RoleDeveloper},
		TargetID:      "user-1",
		RequestedRole: RoleSuperAdmin,
	})
	require.ErrorIs(t, err, ErrConflict)

	recs := mem.AuditRecords()
	require.Len(t, recs, 1)
	assert.Equal(t, OutcomeFailed, recs[0].Outcome)
}

func TestApplyMissingTargetAuditedAsFailed(t *testing.T) {
	svc, store := newFixture(t, &stubSyncer{})
	seed(t, store, "dev-1", "org-p", RoleDeveloper, "ext-dev-1")

	_, err := svc.Apply(context.Background(), RoleTransitionRequest{
		Principal:     Principal{UserID: "dev-1", Role: RoleDeveloper},
		TargetID:      "ghost",
		RequestedRole: RoleUser,
	})
	require.ErrorIs(t, err, ErrNotFound)

	recs := store.AuditRecords()
	require.Len(t, recs, 1)
	assert.Equal(t, OutcomeFailed, recs[0].Outcome)
}

func TestApplyCreatesMappingForUnmappedAccount(t *testing.T) {
	sync := &stubSyncer{}
	svc, store := newFixture(t, sync)
	seed(t, store, "dev-1", "org-p", RoleDeveloper, "ext-dev-1")
	seed(t, store, "user-1", "org-a", RoleUser, "")

	res, err := svc.Apply(context.Background(), RoleTransitionRequest{
		Principal:     Principal{UserID: "dev-1", Role: RoleDeveloper},
		TargetID:      "user-1",
		RequestedRole: RoleOrgAdmin,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, []string{"user-1"}, sync.createdFor)

	acc, err := store.Find(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "ext-user-1", acc.ExternalID)
}

func TestInviteSucceeds(t *testing.T) {
	sync := &stubSyncer{}
	svc, store := newFixture(t, sync)

	account, res, err := svc.Invite(context.Background(),
		Principal{UserID: "admin-1", Role: RoleOrgAdmin, OrganizationID: "org-a"},
		NewUserDraft{Email: "New.Person@Example.com", DisplayName: "New Person"},
		RoleUser)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	require.NotNil(t, account)
	assert.Equal(t, "new.person@example.com", account.Email)
	assert.Equal(t, "org-a", account.OrganizationID)
	assert.False(t, account.DirectoryPending)
	assert.NotEmpty(t, account.ExternalID)

	recs := store.AuditRecords()
	require.Len(t, recs, 1)
	assert.Equal(t, OutcomeSucceeded, recs[0].Outcome)
}

func TestInviteForcesCallersOrganization(t *testing.T) {
	svc, _ := newFixture(t, &stubSyncer{})

	account, _, err := svc.Invite(context.Background(),
		Principal{UserID: "admin-1", Role: RoleOrgAdmin, OrganizationID: "org-a"},
		NewUserDraft{Email: "x@example.com", OrganizationID: "org-other"},
		RoleUser)
	require.NoError(t, err)
	assert.Equal(t, "org-a", account.OrganizationID, "non-developers cannot place accounts elsewhere")
}

func TestInviteDeniedByPolicy(t *testing.T) {
	svc, store := newFixture(t, &stubSyncer{})

	_, res, err := svc.Invite(context.Background(),
		Principal{UserID: "admin-1", Role: RoleOrgAdmin, OrganizationID: "org-a"},
		NewUserDraft{Email: "x@example.com"},
		RoleOrgAdmin)
	require.ErrorIs(t, err, ErrPolicyDenied)
	assert.Equal(t, OutcomePolicyDenied, res.Outcome)

	recs := store.AuditRecords()
	require.Len(t, recs, 1)
	assert.Equal(t, OutcomePolicyDenied, recs[0].Outcome)
}

func TestInviteDirectoryFailureIsPartial(t *testing.T) {
	sync := &stubSyncer{createErr: errors.New("directory down")}
	svc, store := newFixture(t, sync)

	account, res, err := svc.Invite(context.Background(),
		Principal{UserID: "admin-1", Role: RoleOrgAdmin, OrganizationID: "org-a"},
		NewUserDraft{Email: "x@example.com"},
		RoleUser)
	require.NoError(t, err)
	assert.Equal(t, OutcomePartiallyApplied, res.Outcome)
	require.NotNil(t, account)

	// The account exists locally and stays flagged for reconciliation.
	stored, err := store.Find(context.Background(), account.ID)
	require.NoError(t, err)
	assert.True(t, stored.DirectoryPending)
}

func TestInviteDuplicateEmailConflicts(t *testing.T) {
	svc, store := newFixture(t, &stubSyncer{})
	seed(t, store, "user-1", "org-a", RoleUser, "ext-user-1")

	_, _, err := svc.Invite(context.Background(),
		Principal{UserID: "admin-1", Role: RoleOrgAdmin, OrganizationID: "org-a"},
		NewUserDraft{Email: "user-1@example.com"},
		RoleUser)
	require.ErrorIs(t, err, ErrConflict)

	recs := store.AuditRecords()
	require.Len(t, recs, 1)
	assert.Equal(t, OutcomeFailed, recs[0].Outcome)
}

func TestInviteRejectsBadEmail(t *testing.T) {
	svc, _ := newFixture(t, &stubSyncer{})
	_, _, err := svc.Invite(context.Background(),
		Principal{UserID: "admin-1", Role: RoleOrgAdmin, OrganizationID: "org-a"},
		NewUserDraft{Email: "not-an-email"},
		RoleUser)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestApplyHonorsCancellationBeforeCommit(t *testing.T) {
	svc, store := newFixture(t, &stubSyncer{})
	seed(t, store, "dev-1", "org-p", RoleDeveloper, "ext-dev-1")
	seed(t, store, "user-1", "org-a", RoleUser, "ext-user-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Apply(ctx, RoleTransitionRequest{
		Principal:     Principal{UserID: "dev-1", Role: RoleDeveloper},
		TargetID:      "user-1",
		RequestedRole: RoleOrgAdmin,
	})
	require.ErrorIs(t, err, context.Canceled)

	acc, err := store.Find(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, acc.Role)
}
