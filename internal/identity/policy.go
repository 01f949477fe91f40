package identity

// DenyReason identifies which policy rule rejected a request.
type DenyReason string

const (
	DenySelfModification  DenyReason = "self-modification-forbidden"
	DenyRoleNotAssignable DenyReason = "role-not-assignable-by-caller"
	DenyInsufficient      DenyReason = "insufficient-privilege"
	DenyNoOpTransition    DenyReason = "no-op-transition"
)

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allowed bool
	Reason  DenyReason
}

func allow() Decision            { return Decision{Allowed: true} }
func deny(r DenyReason) Decision { return Decision{Reason: r} }

func (d Decision) Denied() bool { return !d.Allowed }

func (d Decision) String() string {
	if d.Allowed {
		return "allow"
	}
	return "deny:" + string(d.Reason)
}

type roleSet map[Role]struct{}

func newRoleSet(roles ...Role) roleSet {
	s := make(roleSet, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

func (s roleSet) contains(r Role) bool {
	_, ok := s[r]
	return ok
}

// The policy is encoded as data: one assignable-role set per caller role,
// with a stricter table for changing existing accounts than for inviting new
// ones. OrgAdmins may invite plain users but may never change a role, and
// only Developers may hand out the Developer or SuperAdmin tiers.
var (
	transitionAssignable = map[Role]roleSet{
		RoleDeveloper:  newRoleSet(RoleDeveloper, RoleSuperAdmin, RoleOrgAdmin, RoleUser),
		RoleSuperAdmin: newRoleSet(RoleOrgAdmin, RoleUser),
		RoleOrgAdmin:   newRoleSet(),
		RoleUser:       newRoleSet(),
	}

	invitationAssignable = map[Role]roleSet{
		RoleDeveloper:  newRoleSet(RoleDeveloper, RoleSuperAdmin, RoleOrgAdmin, RoleUser),
		RoleSuperAdmin: newRoleSet(RoleOrgAdmin, RoleUser),
		RoleOrgAdmin:   newRoleSet(RoleUser),
		RoleUser:       newRoleSet(),
	}

	restrictedRoles = newRoleSet(RoleDeveloper, RoleSuperAdmin)
)

// EvaluateTransition decides whether principalRole may move an existing
// account from targetCurrentRole to requestedRole. It is pure and total;
// rules are checked in a fixed order and the first match wins:
//
//  1. self-modification is rejected before anything else
//  2. Developer and SuperAdmin tiers are only assignable by Developers
//  3. callers whose assignable set is empty cannot change roles at all
//  4. a transition to the current role is rejected as a no-op
func EvaluateTransition(principalRole, targetCurrentRole, requestedRole Role, isSelf bool) Decision {
	if isSelf {
		return deny(DenySelfModification)
	}
	if restrictedRoles.contains(requestedRole) && principalRole != RoleDeveloper {
		return deny(DenyRoleNotAssignable)
	}
	if !transitionAssignable[principalRole].contains(requestedRole) {
		return deny(DenyInsufficient)
	}
	if requestedRole == targetCurrentRole {
		return deny(DenyNoOpTransition)
	}
	return allow()
}

// EvaluateInvitation decides whether principalRole may create a new account
// with the given initial role. Invitations have no current role to compare
// against, so the no-op rule does not apply, and the per-caller table is the
// looser invitation one.
func EvaluateInvitation(principalRole, requestedRole Role) Decision {
	if restrictedRoles.contains(requestedRole) && principalRole != RoleDeveloper {
		return deny(DenyRoleNotAssignable)
	}
	if !invitationAssignable[principalRole].contains(requestedRole) {
		return deny(DenyInsufficient)
	}
	return allow()
}
