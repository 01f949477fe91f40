package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"konsol.org/internal/health"
	"konsol.org/internal/identity"
	"konsol.org/internal/obs"
	"konsol.org/internal/secrets"
)

const serviceName = "konsol-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe gates readiness on database connectivity. A nil Pinger means
// the in-memory development mode, which is always ready.
type ReadyProbe struct {
	DB health.Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.Ping(ctx)
}

// Options tunes the HTTP surface.
type Options struct {
	Version         string
	TokenTTL        time.Duration
	MaxBodyBytes    int64
	RateLimitPerSec float64
	RateLimitBurst  int
}

func (o *Options) fillDefaults() {
	if o.Version == "" {
		o.Version = "dev"
	}
	if o.TokenTTL <= 0 {
		o.TokenTTL = time.Hour
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 1 << 20
	}
	if o.RateLimitPerSec <= 0 {
		o.RateLimitPerSec = 50
	}
	if o.RateLimitBurst <= 0 {
		o.RateLimitBurst = 100
	}
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	svc        *identity.Service
	readyProbe ReadyProbe
	dir        health.Pinger
	secrets    *secrets.Client
	opts       Options
}

// New wires all routes. dir may be nil when no directory is configured.
func New(svc *identity.Service, rp ReadyProbe, dir health.Pinger, sec *secrets.Client, opts Options) *API {
	opts.fillDefaults()
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		readyProbe: rp,
		dir:        dir,
		secrets:    sec,
		opts:       opts,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	a.mux.HandleFunc("/v1/users", a.handleUsers)
	a.mux.HandleFunc("/v1/users/", a.handleUserScoped)
	a.mux.HandleFunc("/v1/directory/lagging", a.handleDirectoryLagging)

	a.mux.HandleFunc("/v1/health/directory", a.handleDirectoryHealth)
	a.mux.HandleFunc("/v1/health/secrets", a.handleSecretsHealth)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = RateLimit(h, a.opts.RateLimitBurst, a.opts.RateLimitPerSec)
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.opts.Version,
	})
}

func (a *API) handleDirectoryHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.dir == nil {
		writeJSON(w, http.StatusOK, health.Status{
			State:     health.StateDegraded,
			Reason:    "directory not configured",
			CheckedAt: time.Now().UTC(),
		})
		return
	}
	writeJSON(w, http.StatusOK, health.Probe(r.Context(), a.dir))
}

func (a *API) handleSecretsHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.secrets == nil || !a.secrets.Configured() {
		writeJSON(w, http.StatusOK, health.Status{
			State:     health.StateDegraded,
			Reason:    "secret store not configured",
			CheckedAt: time.Now().UTC(),
		})
		return
	}
	writeJSON(w, http.StatusOK, health.Probe(r.Context(), a.secrets))
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
