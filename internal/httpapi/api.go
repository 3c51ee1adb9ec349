// Package httpapi is the HTTP surface of the auth service.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"jodi.app/internal/audit"
	"jodi.app/internal/auth"
	"jodi.app/internal/obs"
)

// ReadyProbe checks downstream readiness (for now, a DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Limits tunes the outer middleware. Zero values disable the knob.
type Limits struct {
	RateLimitRPS   float64
	RateLimitBurst int
	MaxBodyBytes   int64
}

// API is the HTTP layer over the auth service and audit recorder.
type API struct {
	mux        *http.ServeMux
	svc        *auth.Service
	audit      *audit.Recorder
	readyProbe ReadyProbe
	limits     Limits
	version    string
}

func New(svc *auth.Service, recorder *audit.Recorder, rp ReadyProbe, limits Limits, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		audit:      recorder,
		readyProbe: rp,
		limits:     limits,
		version:    version,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth flows
	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/change-password", a.handleChangePassword)
	a.mux.HandleFunc("/v1/auth/password-policy", a.handlePasswordPolicy)

	// administration
	a.mux.HandleFunc("/v1/admin/users/", a.handleAdminUserScoped)
	a.mux.HandleFunc("/v1/admin/audit-logs", a.handleAuditLogs)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler composes the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.withAuth(a.mux)
	if a.limits.RateLimitRPS > 0 && a.limits.RateLimitBurst > 0 {
		h = RateLimit(h, a.limits.RateLimitBurst, a.limits.RateLimitRPS)
	}
	if a.limits.MaxBodyBytes > 0 {
		h = MaxBodyBytes(h, a.limits.MaxBodyBytes)
	}
	h = CORS(SecurityHeaders(h))
	return obs.Instrument(RequestID(LoggingJSON(h)))
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "jodi-auth",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "jodi-auth",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
		"roles":   auth.Roles(),
	})
}
