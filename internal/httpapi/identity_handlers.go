package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"konsol.org/internal/auth"
	"konsol.org/internal/identity"
)

type inviteUserRequest struct {
	Email          string `json:"email"`
	DisplayName    string `json:"display_name"`
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
}

type changeRoleRequest struct {
	Role   string `json:"role"`
	Reason string `json:"reason"`
}

type transitionResponse struct {
	Outcome string `json:"outcome"`
	NewRole string `json:"new_role,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Warning string `json:"warning,omitempty"`
}

func toTransitionResponse(res identity.TransitionResult) transitionResponse {
	out := transitionResponse{
		Outcome: string(res.Outcome),
		NewRole: string(res.NewRole),
		Reason:  res.Reason,
	}
	if res.Outcome == identity.OutcomePartiallyApplied {
		out.Warning = "directory synchronization pending: " + res.Diagnostic
	}
	return out
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req inviteUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := identity.ParseRole(req.Role)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	account, res, err := a.svc.Invite(r.Context(), principal, identity.NewUserDraft{
		Email:          req.Email,
		DisplayName:    req.DisplayName,
		OrganizationID: req.OrganizationID,
	}, role)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", account.ID))
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":   account,
		"result": toTransitionResponse(res),
	})
}

func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1:
		a.handleUserGet(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "role":
		a.handleUserRole(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "audit":
		a.handleUserAudit(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserGet(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	account, err := a.svc.Get(r.Context(), id)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	if !canViewAccount(principal, account) {
		// Hide other tenants' accounts entirely.
		writeError(w, r, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (a *API) handleUserRole(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req changeRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := identity.ParseRole(req.Role)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.svc.Apply(r.Context(), identity.RoleTransitionRequest{
		Principal:     principal,
		TargetID:      id,
		RequestedRole: role,
		Reason:        strings.TrimSpace(req.Reason),
	})
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransitionResponse(res))
}

func (a *API) handleUserAudit(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if principal.Role != identity.RoleDeveloper && principal.Role != identity.RoleSuperAdmin {
		writeError(w, r, http.StatusForbidden, "insufficient privilege")
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 50, 1, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	records, err := a.svc.AuditTrail(r.Context(), id, limit)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"target_id": id,
		"records":   records,
	})
}

func (a *API) handleDirectoryLagging(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if principal.Role != identity.RoleDeveloper && principal.Role != identity.RoleSuperAdmin {
		writeError(w, r, http.StatusForbidden, "insufficient privilege")
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	accounts, err := a.svc.DirectoryPending(r.Context(), limit)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(accounts),
		"accounts": accounts,
	})
}

func canViewAccount(p identity.Principal, account *identity.UserAccount) bool {
	switch p.Role {
	case identity.RoleDeveloper, identity.RoleSuperAdmin:
		return true
	default:
		return p.OrganizationID != "" && p.OrganizationID == account.OrganizationID
	}
}

func handleIdentityError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrPolicyDenied):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, identity.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, identity.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, identity.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "storage unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, fmt.Errorf("limit must be between %d and %d", min, max)
	}
	return val, nil
}
