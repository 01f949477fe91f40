package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestREST(t *testing.T, handler http.Handler) *RESTClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewRESTClient(srv.URL, "test-token", WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewRESTClient: %v", err)
	}
	return client
}

func TestUpdateRoleSendsPatch(t *testing.T) {
	var gotMethod, gotPath, gotAuth string
	var gotBody map[string]string
	client := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))

	if err := client.UpdateRole(context.Background(), "ext-42", "orgadmin"); err != nil {
		t.Fatalf("UpdateRole: %v", err)
	}
	if gotMethod != http.MethodPatch || gotPath != "/v1/accounts/ext-42/role" {
		t.Fatalf("unexpected request: %s %s", gotMethod, gotPath)
	}
	if gotAuth != "Bearer test-token" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
	if gotBody["role"] != "orgadmin" {
		t.Fatalf("unexpected body: %v", gotBody)
	}
}

func TestUpdateRoleStatusClassification(t *testing.T) {
	cases := []struct {
		status        int
		wantTransient bool
		wantErrIs     error
	}{
		{status: http.StatusInternalServerError, wantTransient: true},
		{status: http.StatusBadGateway, wantTransient: true},
		{status: http.StatusTooManyRequests, wantTransient: true},
		{status: http.StatusRequestTimeout, wantTransient: true},
		{status: http.StatusUnauthorized, wantErrIs: ErrPermissionDenied},
		{status: http.StatusForbidden, wantErrIs: ErrPermissionDenied},
		{status: http.StatusNotFound, wantErrIs: ErrNotMapped},
	}
	for _, tc := range cases {
		client := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		err := client.UpdateRole(context.Background(), "ext-1", "user")
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if IsTransient(err) != tc.wantTransient {
			t.Fatalf("status %d: transient=%v, want %v", tc.status, IsTransient(err), tc.wantTransient)
		}
		if tc.wantErrIs != nil && !errors.Is(err, tc.wantErrIs) {
			t.Fatalf("status %d: got %v", tc.status, err)
		}
	}
}

func TestCreateMappingReturnsID(t *testing.T) {
	client := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/accounts" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var acc Account
		if err := json.NewDecoder(r.Body).Decode(&acc); err != nil {
			t.Errorf("decode account: %v", err)
		}
		if acc.Email == "" || acc.Role == "" {
			t.Errorf("incomplete account payload: %+v", acc)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "dir-123"})
	}))

	id, err := client.CreateMapping(context.Background(), Account{
		Email: "x@example.com", OrganizationID: "org-1", Role: "user",
	})
	if err != nil {
		t.Fatalf("CreateMapping: %v", err)
	}
	if id != "dir-123" {
		t.Fatalf("unexpected id: %q", id)
	}
}

func TestCreateMappingEmptyIDIsPermanent(t *testing.T) {
	client := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": ""})
	}))

	_, err := client.CreateMapping(context.Background(), Account{Email: "x@example.com"})
	if err == nil || IsTransient(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestUpdateRoleRequiresExternalID(t *testing.T) {
	client := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not be sent")
	}))
	err := client.UpdateRole(context.Background(), "  ", "user")
	if err == nil || IsTransient(err) {
		t.Fatalf("expected permanent validation error, got %v", err)
	}
}

func TestNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client, err := NewRESTClient(srv.URL, "", WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewRESTClient: %v", err)
	}
	srv.Close()

	err = client.Ping(context.Background())
	if err == nil {
		t.Fatalf("expected connection error")
	}
	if !IsTransient(err) {
		t.Fatalf("connection refused should be transient: %v", err)
	}
}

func TestCanceledContextIsPermanent(t *testing.T) {
	client := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.Ping(ctx)
	if err == nil {
		t.Fatalf("expected error from canceled context")
	}
	if IsTransient(err) {
		t.Fatalf("canceled context must not be retried: %v", err)
	}
}

func TestPingOK(t *testing.T) {
	client := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/ping" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
