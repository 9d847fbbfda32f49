package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"caseline.org/api/spec"
	"caseline.org/internal/auth"
	"caseline.org/internal/casefile"
	"caseline.org/internal/dashboard"
	"caseline.org/internal/notify"
	"caseline.org/internal/obs"
	"caseline.org/internal/stream"
	"caseline.org/internal/tenant"
	"caseline.org/internal/triage"
)

// ReadyProbe checks the service's backing store before declaring readiness.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the engine services.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	cases         casefile.Service
	tickets       triage.Service
	notifications *notify.Engine
	dashboard     *dashboard.Aggregator
	stream        *stream.Stream
}

// New wires all routes. Any of the service dependencies may be nil in tests
// that exercise only a slice of the surface; the matching routes then 404.
func New(rp ReadyProbe, version string, cases casefile.Service, tickets triage.Service,
	notifications *notify.Engine, dash *dashboard.Aggregator, strm *stream.Stream) *API {

	a := &API{
		mux:           http.NewServeMux(),
		readyProbe:    rp,
		version:       version,
		cases:         cases,
		tickets:       tickets,
		notifications: notifications,
		dashboard:     dash,
		stream:        strm,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// OpenAPI YAML
	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	// engine surface
	a.mux.HandleFunc("/v1/cases", a.handleCasesCollection)
	a.mux.HandleFunc("/v1/cases/", a.handleCaseResource)
	a.mux.HandleFunc("/v1/notifications", a.handleNotificationsCollection)
	a.mux.HandleFunc("/v1/notifications/", a.handleNotificationResource)
	a.mux.HandleFunc("/v1/triage/tickets", a.handleTicketsCollection)
	a.mux.HandleFunc("/v1/triage/tickets/", a.handleTicketResource)
	a.mux.HandleFunc("/v1/dashboard", a.handleDashboard)
	a.mux.HandleFunc("/v1/alerts/stream", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the routable handler with authentication and metrics applied.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.withAuth(a.mux))
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "caseline-api",
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
		"name":    "caseline-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, kind, msg string) {
	payload := map[string]any{
		"error": msg,
		"kind":  kind,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleDomainError translates sentinel errors from any engine package into
// the wire error contract. Guard violations never surface as 500s.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, tenant.ErrNoTenant):
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden", "permission denied")
	case errors.Is(err, casefile.ErrValidation),
		errors.Is(err, notify.ErrValidation),
		errors.Is(err, triage.ErrValidation):
		writeError(w, r, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, casefile.ErrNotFound),
		errors.Is(err, notify.ErrNotFound),
		errors.Is(err, triage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, casefile.ErrAlreadyEnabled):
		writeError(w, r, http.StatusConflict, "already_enabled", err.Error())
	case errors.Is(err, casefile.ErrNotEnabled):
		writeError(w, r, http.StatusConflict, "not_enabled", err.Error())
	case errors.Is(err, casefile.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, casefile.ErrStoreUnavailable),
		errors.Is(err, notify.ErrStoreUnavailable),
		errors.Is(err, triage.ErrStoreUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "store_unavailable", "store unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
	}
}
