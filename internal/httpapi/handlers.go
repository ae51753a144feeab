// Package httpapi exposes the CMS over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"securecms.org/internal/audit"
	"securecms.org/internal/auth"
	"securecms.org/internal/content"
	"securecms.org/internal/obs"
	"securecms.org/internal/stream"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the backing store before the service reports ready.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// Services are the domain services the API dispatches to.
type Services struct {
	Accounts  *auth.Accounts
	RBAC      *auth.RBACService
	Evaluator *auth.Evaluator
	Policy    *auth.Policy
	Content   *content.Service
	Audit     *audit.Recorder
	Feed      *stream.Hub
}

// Options tune the HTTP surface.
type Options struct {
	Ready          ReadyProbe
	AllowedOrigins []string
	MaxBodyBytes   int64
	RateLimitRPS   int
	RateLimitBurst int
	// TrustedProxies lists the peers whose X-Forwarded-For is believed.
	TrustedProxies []string
}

// API is the HTTP layer.
type API struct {
	router   chi.Router
	ready    ReadyProbe
	accounts *auth.Accounts
	tokens   TokenAuthenticator
	rbac     *auth.RBACService
	eval     *auth.Evaluator
	policy   *auth.Policy
	content  *content.Service
	audit    *audit.Recorder
	feed     *stream.Hub
	limiter  *ipLimiter
	maxBody  int64
	origins  []string
	proxies  []netip.Prefix
}

// New wires the routes. Every service is required.
func New(svc Services, opts Options) (*API, error) {
	switch {
	case svc.Accounts == nil, svc.RBAC == nil, svc.Evaluator == nil, svc.Policy == nil:
		return nil, errors.New("httpapi: auth services are required")
	case svc.Content == nil:
		return nil, errors.New("httpapi: content service is required")
	case svc.Audit == nil || svc.Feed == nil:
		return nil, errors.New("httpapi: audit recorder and feed are required")
	}
	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = 5
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 10
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	proxies, err := ParseTrustedProxies(opts.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("httpapi: %w", err)
	}
	a := &API{
		ready:    opts.Ready,
		accounts: svc.Accounts,
		tokens:   svc.Accounts,
		rbac:     svc.RBAC,
		eval:     svc.Evaluator,
		policy:   svc.Policy,
		content:  svc.Content,
		audit:    svc.Audit,
		feed:     svc.Feed,
		limiter:  newIPLimiter(opts.RateLimitBurst, opts.RateLimitRPS),
		maxBody:  opts.MaxBodyBytes,
		origins:  opts.AllowedOrigins,
		proxies:  proxies,
	}
	a.router = a.routes()
	return a, nil
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(obs.Instrument, RequestID(a.proxies), LoggingJSON, SecurityHeaders, CORS(a.origins))
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.maxBody) })
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.healthz)
	r.Get("/readyz", a.readyz)
	r.Handle("/metrics", obs.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(a.authenticate)
		a.authRoutes(r)
		a.contentRoutes(r)
		a.rbacRoutes(r)
		a.auditRoutes(r)
	})
	return r
}

// Handler returns the router.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	b := obs.CurrentBuild()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"service":       b.Service,
		"version":       b.Version,
		"commit":        b.Commit,
		"uptimeSeconds": int64(b.Uptime(time.Now()).Seconds()),
	})
}

func (a *API) readyz(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.Error("readiness check failed", err, nil)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  "store unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// handleServiceError maps domain errors onto HTTP statuses. Unknown errors
// are logged and reported as 500 without detail.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrTooManyAttempts):
		retry := 60
		var lockout *auth.LockoutError
		if errors.As(err, &lockout) && lockout.RetryAfter > 0 {
			retry = max(int(math.Ceil(lockout.RetryAfter.Seconds())), 1)
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeError(w, r, http.StatusTooManyRequests, "too many failed login attempts")
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		obs.Error("request failed", err, map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
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

// pathID parses a positive numeric path parameter.
func pathID(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New(name + " must be a positive integer")
	}
	return id, nil
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (int64, bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, errors.New(name + " must be an integer")
	}
	return v, true, nil
}
