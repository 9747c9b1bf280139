package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"trustmesh.org/internal/audit"
	"trustmesh.org/internal/obs"
	"trustmesh.org/internal/trust"
	"trustmesh.org/internal/validate"
)

const serviceName = "trustmesh-api"

// ReadyProbe reports whether the service can take traffic (e.g. DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// API is the HTTP layer over the trust engine.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	validator *validate.Validator
	trust     *trust.Service

	// requireAuth gates bearer authentication; smoke setups run without it.
	requireAuth bool
}

// Option configures the API.
type Option func(*API)

// WithAuthRequired enables bearer token authentication on non-public paths.
func WithAuthRequired(required bool) Option {
	return func(a *API) { a.requireAuth = required }
}

func New(rp ReadyProbe, version string, validator *validate.Validator, svc *trust.Service, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		validator:  validator,
		trust:      svc,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// trust engine
	a.mux.HandleFunc("/v1/trust/operations", a.handleTrustOperations)
	a.mux.HandleFunc("/v1/trust/dashboard", a.handleDashboard)
	a.mux.HandleFunc("/v1/trust/sharing-organizations", a.handleSharingOrganizations)
	a.mux.HandleFunc("/v1/trust/levels", a.handleTrustLevels)
	a.mux.HandleFunc("/v1/intelligence/anonymize", a.handleAnonymize)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 50, 25)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
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
		"version": a.version,
	})
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	_ = audit.LogEvent(ctx, event, fields)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
