package identity

import (
	"fmt"
	"strings"
	"time"
)

// Role is the authorization tier of an account. The numeric rank is used for
// display ordering only; authorization decisions always go through the
// assignment tables in policy.go.
type Role string

const (
	RoleDeveloper  Role = "developer"
	RoleSuperAdmin Role = "superadmin"
	RoleOrgAdmin   Role = "orgadmin"
	RoleUser       Role = "user"
)

// Roles lists every valid role, highest privilege first.
var Roles = []Role{RoleDeveloper, RoleSuperAdmin, RoleOrgAdmin, RoleUser}

// ParseRole normalizes raw input into a Role.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.TrimSpace(strings.ToLower(raw)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
	}
	return r, nil
}

// Valid reports whether the role is one of the known tiers.
func (r Role) Valid() bool {
	switch r {
	case RoleDeveloper, RoleSuperAdmin, RoleOrgAdmin, RoleUser:
		return true
	}
	return false
}

// Rank returns the display ordering of the role (0 = highest privilege).
func (r Role) Rank() int {
	for i, role := range Roles {
		if r == role {
			return i
		}
	}
	return len(Roles)
}

func (r Role) String() string { return string(r) }

// Principal is the authenticated caller of a request. It is supplied by the
// authentication layer and trusted as already verified.
type Principal struct {
	UserID         string `json:"user_id"`
	Role           Role   `json:"role"`
	OrganizationID string `json:"organization_id"`
}

// UserAccount is a tenant member. Accounts are never deleted, only
// deactivated. The role and directory fields are mutated exclusively through
// Service so every change passes policy evaluation and is audited.
type UserAccount struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Email          string    `json:"email"`
	DisplayName    string    `json:"display_name"`
	Role           Role      `json:"role"`
	Active         bool      `json:"active"`
	ExternalID     string    `json:"external_id,omitempty"`
	// DirectoryPending marks an account whose local role is committed but not
	// yet reflected in the external directory.
	DirectoryPending  bool       `json:"directory_pending"`
	DirectorySyncedAt *time.Time `json:"directory_synced_at,omitempty"`
	RowVersion        int64      `json:"row_version"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// RoleTransitionRequest describes a single role-change attempt. It is built
// per call and never persisted; its outcome is persisted as an AuditRecord.
type RoleTransitionRequest struct {
	Principal     Principal
	TargetID      string
	RequestedRole Role
	Reason        string
}

// Outcome classifies how a transition or invitation attempt ended.
type Outcome string

const (
	OutcomeSucceeded        Outcome = "succeeded"
	OutcomePolicyDenied     Outcome = "policy-denied"
	OutcomePartiallyApplied Outcome = "partially-applied"
	OutcomeFailed           Outcome = "failed"
)

// TransitionResult is returned by Apply and Invite. A partially-applied
// result means the local role change committed but the directory sync did
// not; the database remains authoritative and is never rolled back.
type TransitionResult struct {
	Outcome    Outcome `json:"outcome"`
	NewRole    Role    `json:"new_role,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Diagnostic string  `json:"diagnostic,omitempty"`
}

// AuditRecord is the immutable, append-only trace of one attempt. One record
// is written per attempt, including denials.
type AuditRecord struct {
	ID            string    `json:"id"`
	OccurredAt    time.Time `json:"occurred_at"`
	ActorID       string    `json:"actor_id"`
	TargetID      string    `json:"target_id"`
	PriorRole     Role      `json:"prior_role,omitempty"`
	RequestedRole Role      `json:"requested_role"`
	Outcome       Outcome   `json:"outcome"`
	Diagnostic    string    `json:"diagnostic,omitempty"`
}

// NewUserDraft carries the caller-supplied fields of an invitation.
type NewUserDraft struct {
	Email          string
	DisplayName    string
	OrganizationID string
}
