package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"konsol.org/internal/audit"
	"konsol.org/internal/ids"
	"konsol.org/internal/obs"
)

// Service sequences policy evaluation, local persistence, directory
// synchronization and audit logging for role changes and invitations.
//
// The database is the system of record: once the local role write commits,
// the operation never reports plain failure. A directory sync error after
// the commit point degrades the result to partially-applied and flags the
// account for reconciliation instead of rolling back.
type Service struct {
	users UserStore
	audit AuditStore
	dir   DirectorySyncer
	now   func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the orchestrator.
func NewService(users UserStore, auditStore AuditStore, dir DirectorySyncer, opts ...Option) (*Service, error) {
	if users == nil {
		return nil, errors.New("identity: user store is required")
	}
	if auditStore == nil {
		return nil, errors.New("identity: audit store is required")
	}
	if dir == nil {
		return nil, errors.New("identity: directory syncer is required")
	}
	s := &Service{users: users, audit: auditStore, dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Apply executes one role transition request end to end.
func (s *Service) Apply(ctx context.Context, req RoleTransitionRequest) (TransitionResult, error) {
	actorID := strings.TrimSpace(req.Principal.UserID)
	targetID := strings.TrimSpace(req.TargetID)
	if actorID == "" || targetID == "" {
		return TransitionResult{}, fmt.Errorf("%w: principal and target ids are required", ErrInvalidInput)
	}
	if !req.RequestedRole.Valid() {
		return TransitionResult{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, req.RequestedRole)
	}

	target, err := s.users.Find(ctx, targetID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.record(ctx, actorID, targetID, "", req.RequestedRole, OutcomeFailed, "target not found")
			return TransitionResult{}, fmt.Errorf("%w: user %s", ErrNotFound, targetID)
		}
		s.logLocal(ctx, "identity.apply.load_failed", targetID, err)
		return TransitionResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !target.Active {
		s.record(ctx, actorID, targetID, target.Role, req.RequestedRole, OutcomeFailed, "target inactive")
		return TransitionResult{}, fmt.Errorf("%w: user %s is inactive", ErrNotFound, targetID)
	}

	isSelf := actorID == targetID
	dec := EvaluateTransition(req.Principal.Role, target.Role, req.RequestedRole, isSelf)
	if dec.Denied() {
		s.record(ctx, actorID, targetID, target.Role, req.RequestedRole, OutcomePolicyDenied, string(dec.Reason))
		res := TransitionResult{Outcome: OutcomePolicyDenied, Reason: string(dec.Reason)}
		return res, fmt.Errorf("%w: %s", ErrPolicyDenied, dec.Reason)
	}

	// Cancellation is honored only up to the local commit point.
	if err := ctx.Err(); err != nil {
		return TransitionResult{}, err
	}

	updated, err := s.users.UpdateRole(ctx, targetID, req.RequestedRole, target.RowVersion)
	if err != nil {
		switch {
		case errors.Is(err, ErrConflict):
			s.record(ctx, actorID, targetID, target.Role, req.RequestedRole, OutcomeFailed, "concurrent modification")
			return TransitionResult{}, fmt.Errorf("%w: user %s changed since it was loaded", ErrConflict, targetID)
		case errors.Is(err, ErrNotFound):
			s.record(ctx, actorID, targetID, target.Role, req.RequestedRole, OutcomeFailed, "target not found")
			return TransitionResult{}, fmt.Errorf("%w: user %s", ErrNotFound, targetID)
		default:
			s.logLocal(ctx, "identity.apply.commit_failed", targetID, err)
			return TransitionResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	// The local write is committed; the remainder must run to completion
	// even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	extID := updated.ExternalID
	var syncErr error
	if extID == "" {
		extID, syncErr = s.dir.CreateMapping(ctx, updated)
	} else {
		syncErr = s.dir.SyncRole(ctx, extID, updated.Role)
	}
	if syncErr != nil {
		if err := s.users.SetDirectoryState(ctx, targetID, extID, true); err != nil {
			s.logLocal(ctx, "identity.apply.flag_pending_failed", targetID, err)
		}
		diag := syncErr.Error()
		s.record(ctx, actorID, targetID, target.Role, req.RequestedRole, OutcomePartiallyApplied, diag)
		return TransitionResult{Outcome: OutcomePartiallyApplied, NewRole: updated.Role, Diagnostic: diag}, nil
	}

	if err := s.users.SetDirectoryState(ctx, targetID, extID, false); err != nil {
		s.logLocal(ctx, "identity.apply.clear_pending_failed", targetID, err)
	}
	s.record(ctx, actorID, targetID, target.Role, req.RequestedRole, OutcomeSucceeded, "")
	return TransitionResult{Outcome: OutcomeSucceeded, NewRole: updated.Role}, nil
}

// Invite creates a new account with an initial role and registers it in the
// external directory.
func (s *Service) Invite(ctx context.Context, principal Principal, draft NewUserDraft, initialRole Role) (*UserAccount, TransitionResult, error) {
	actorID := strings.TrimSpace(principal.UserID)
	if actorID == "" {
		return nil, TransitionResult{}, fmt.Errorf("%w: principal id is required", ErrInvalidInput)
	}
	email := strings.TrimSpace(strings.ToLower(draft.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, TransitionResult{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if !initialRole.Valid() {
		return nil, TransitionResult{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, initialRole)
	}

	dec := EvaluateInvitation(principal.Role, initialRole)
	if dec.Denied() {
		s.record(ctx, actorID, email, "", initialRole, OutcomePolicyDenied, string(dec.Reason))
		res := TransitionResult{Outcome: OutcomePolicyDenied, Reason: string(dec.Reason)}
		return nil, res, fmt.Errorf("%w: %s", ErrPolicyDenied, dec.Reason)
	}

	// Only Developers may place an account outside their own organization.
	org := strings.TrimSpace(draft.OrganizationID)
	if principal.Role != RoleDeveloper || org == "" {
		org = principal.OrganizationID
	}
	if org == "" {
		return nil, TransitionResult{}, fmt.Errorf("%w: organization is required", ErrInvalidInput)
	}

	account := &UserAccount{
		ID:               ids.New(),
		OrganizationID:   org,
		Email:            email,
		DisplayName:      strings.TrimSpace(draft.DisplayName),
		Role:             initialRole,
		Active:           true,
		DirectoryPending: true,
		RowVersion:       1,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.users.Create(ctx, account); err != nil {
		if errors.Is(err, ErrConflict) {
			s.record(ctx, actorID, account.ID, "", initialRole, OutcomeFailed, "email already registered")
			return nil, TransitionResult{}, fmt.Errorf("%w: email %s already registered", ErrConflict, email)
		}
		s.logLocal(ctx, "identity.invite.create_failed", email, err)
		return nil, TransitionResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ctx = context.WithoutCancel(ctx)

	extID, syncErr := s.dir.CreateMapping(ctx, account)
	if syncErr != nil {
		diag := syncErr.Error()
		s.record(ctx, actorID, account.ID, "", initialRole, OutcomePartiallyApplied, diag)
		return account, TransitionResult{Outcome: OutcomePartiallyApplied, NewRole: initialRole, Diagnostic: diag}, nil
	}

	if err := s.users.SetDirectoryState(ctx, account.ID, extID, false); err != nil {
		s.logLocal(ctx, "identity.invite.clear_pending_failed", account.ID, err)
	} else {
		account.ExternalID = extID
		account.DirectoryPending = false
	}
	s.record(ctx, actorID, account.ID, "", initialRole, OutcomeSucceeded, "")
	return account, TransitionResult{Outcome: OutcomeSucceeded, NewRole: initialRole}, nil
}

// Get loads a single account.
func (s *Service) Get(ctx context.Context, id string) (*UserAccount, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.users.Find(ctx, id)
}

// AuditTrail lists audit records for a target, newest first.
func (s *Service) AuditTrail(ctx context.Context, targetID string, limit int) ([]AuditRecord, error) {
	return s.audit.ListByTarget(ctx, strings.TrimSpace(targetID), limit)
}

// DirectoryPending lists accounts whose directory state lags the database.
func (s *Service) DirectoryPending(ctx context.Context, limit int) ([]*UserAccount, error) {
	return s.users.ListDirectoryPending(ctx, limit)
}

// record writes exactly one audit record per attempt. A failing audit store
// degrades to the local JSON log; it never changes an already-decided
// outcome.
func (s *Service) record(ctx context.Context, actorID, targetID string, prior, requested Role, outcome Outcome, diagnostic string) {
	obs.RecordRoleTransition(string(outcome))
	rec := &AuditRecord{
		ID:            ids.New(),
		OccurredAt:    s.now().UTC(),
		ActorID:       actorID,
		TargetID:      targetID,
		PriorRole:     prior,
		RequestedRole: requested,
		Outcome:       outcome,
		Diagnostic:    diagnostic,
	}
	if err := s.audit.Append(ctx, rec); err != nil {
		_ = audit.LogEvent(ctx, "identity.audit.append_failed", map[string]any{
			"actor_id":   actorID,
			"target_id":  targetID,
			"outcome":    string(outcome),
			"diagnostic": diagnostic,
			"error":      err.Error(),
		})
	}
}

func (s *Service) logLocal(ctx context.Context, event, subject string, err error) {
	_ = audit.LogEvent(ctx, event, map[string]any{
		"subject": subject,
		"error":   err.Error(),
	})
}
