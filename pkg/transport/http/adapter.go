// Package http serves the stride API over HTTP. The adapter wires the
// authentication gateway, the delegation resolver, and the per-route
// permission gates around the resource handlers.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stridefit/stride/pkg/access"
	"github.com/stridefit/stride/pkg/api"
	"github.com/stridefit/stride/pkg/auth"
	"github.com/stridefit/stride/pkg/auth/apikey"
	"github.com/stridefit/stride/pkg/auth/challenge"
	"github.com/stridefit/stride/pkg/auth/sessiontoken"
	"github.com/stridefit/stride/pkg/observability"
	"github.com/stridefit/stride/pkg/oidc"
	"github.com/stridefit/stride/pkg/session"
	"github.com/stridefit/stride/pkg/storage"
	"github.com/stridefit/stride/pkg/transport"
)

// Config holds configuration for the HTTP adapter.
type Config struct {
	MaxBodySize int64
	MetricsPath string
	Version     string
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodySize: 1 << 20, // 1 MB
		MetricsPath: "/metrics",
	}
}

// Deps bundles the stores and services the adapter serves.
type Deps struct {
	Principals storage.PrincipalStore
	Diary      storage.DiaryStore
	Grants     access.GrantStore
	Providers  oidc.ProviderStore

	Sessions      *session.Manager
	SessionTokens *sessiontoken.Authenticator
	Challenges    *challenge.Authenticator
	Resets        *challenge.Authenticator
	APIKeys       apikey.Store
	OIDC          *oidc.Manager

	Chain   *auth.Chain
	Limiter auth.RateLimiter
	Logger  *slog.Logger

	// ResetDelivery, when set, receives password reset tokens for
	// out-of-band delivery. Tokens are never written to the response or
	// the logs.
	ResetDelivery func(email, token string)
}

// Adapter routes requests to the appropriate handler and serializes
// responses.
type Adapter struct {
	config Config
	deps   Deps
	logger *slog.Logger

	resolver *access.Resolver
	gate     *access.Gate
	mux      *http.ServeMux
}

// NewAdapter creates an HTTP adapter. The admin gate's super-admin
// override, when wanted, is configured on the Gate before calling.
func NewAdapter(cfg Config, deps Deps, gate *access.Gate) *Adapter {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultConfig().MaxBodySize
	}

	a := &Adapter{
		config:   cfg,
		deps:     deps,
		logger:   deps.Logger,
		resolver: access.NewResolver(deps.Grants),
		gate:     gate,
		mux:      http.NewServeMux(),
	}

	a.routes()
	return a
}

func (a *Adapter) routes() {
	// Public surfaces.
	a.mux.HandleFunc("GET /health", a.handleHealth)
	a.mux.HandleFunc("GET /version", a.handleVersion)
	a.mux.HandleFunc("GET /auth/settings", a.handleAuthSettings)
	a.mux.HandleFunc("POST /auth/login", a.withAuthRateLimit(a.handleLogin))
	a.mux.HandleFunc("POST /auth/register", a.withAuthRateLimit(a.handleRegister))
	a.mux.HandleFunc("POST /auth/forgot-password", a.withAuthRateLimit(a.handleForgotPassword))
	a.mux.HandleFunc("POST /auth/reset-password", a.withAuthRateLimit(a.handleResetPassword))
	a.mux.HandleFunc("POST /auth/mfa/verify", a.withAuthRateLimit(a.handleMFAVerify))

	// OIDC login flow. The providers listing and the handshake legs are
	// public; /openid/api/me reports the session state.
	a.mux.HandleFunc("GET /openid/providers", a.handleListActiveProviders)
	a.mux.HandleFunc("GET /openid/login/{providerID}", a.handleOIDCLogin)
	a.mux.HandleFunc("GET /openid/callback", a.handleOIDCCallback)
	a.mux.HandleFunc("GET /openid/api/me", a.handleOIDCMe)

	// Health-data ingestion: exempt from the gateway, gated on an API
	// key carrying the health_data_write permission inside the handler.
	a.mux.HandleFunc("POST /api/health-data", a.handleHealthData)

	// Authenticated surfaces.
	a.mux.HandleFunc("POST /auth/logout", a.handleLogout)
	a.mux.HandleFunc("GET /api/me", a.handleMe)

	a.mux.HandleFunc("GET /access/grants", a.handleListGrants)
	a.mux.HandleFunc("POST /access/grants", a.handleCreateGrant)
	a.mux.HandleFunc("DELETE /access/grants/{id}", a.handleDeleteGrant)

	// Domain routes behind per-route permission gates.
	a.handleGated("GET /api/diary", api.PermissionDiary, a.handleListDiary)
	a.handleGated("POST /api/diary", api.PermissionDiary, a.handleCreateDiary)
	a.handleGated("GET /api/checkins", api.PermissionCheckin, a.handleListCheckins)
	a.handleGated("POST /api/checkins", api.PermissionCheckin, a.handleCreateCheckin)
	a.handleGated("GET /api/reports/summary", api.PermissionReports, a.handleReportSummary)

	// Provider administration.
	a.handleAdmin("GET /admin/oidc-providers", a.handleAdminListProviders)
	a.handleAdmin("POST /admin/oidc-providers", a.handleAdminCreateProvider)
	a.handleAdmin("PUT /admin/oidc-providers/{id}", a.handleAdminUpdateProvider)
	a.handleAdmin("DELETE /admin/oidc-providers/{id}", a.handleAdminDeleteProvider)
	a.handleAdmin("PUT /admin/principals/{id}/role", a.handleAdminSetRole)
}

// handleGated registers a handler behind the exact-permission gate.
func (a *Adapter) handleGated(pattern string, perm api.Permission, h http.HandlerFunc) {
	a.mux.Handle(pattern, a.gate.Require(perm)(h))
}

// handleAdmin registers a handler behind the admin gate.
func (a *Adapter) handleAdmin(pattern string, h http.HandlerFunc) {
	a.mux.Handle(pattern, a.gate.RequireAdmin(h))
}

// withAuthRateLimit wraps credential-carrying handlers with the
// per-client-address limiter.
func (a *Adapter) withAuthRateLimit(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.deps.Limiter != nil {
			if err := a.deps.Limiter.Allow(r.Context(), clientAddr(r)); err != nil {
				observability.RateLimitRejectedTotal.Inc()
				transport.WriteAPIError(w, api.NewTooManyRequestsError("too many requests, slow down"))
				return
			}
		}
		h(w, r)
	}
}

// Handler returns the fully assembled http.Handler: metrics and request
// plumbing outermost, then the authentication gateway and the
// delegation resolver, then the mux.
func (a *Adapter) Handler() http.Handler {
	var handler http.Handler = a.mux
	handler = a.resolver.Middleware(handler)
	handler = auth.Middleware(a.deps.Chain, auth.PublicRoutes)(handler)

	handler = transport.Chain(
		transport.Recovery(a.logger),
		observability.MetricsMiddleware,
		transport.RequestID(),
		transport.Logging(a.logger),
	)(handler)

	if a.config.MetricsPath != "" {
		root := http.NewServeMux()
		root.Handle(a.config.MetricsPath, promhttp.Handler())
		root.Handle("/", handler)
		return root
	}
	return handler
}

// decodeJSON decodes a bounded JSON request body into v.
func (a *Adapter) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" && ct != "application/json" {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("Content-Type must be application/json"),
			http.StatusUnsupportedMediaType,
		)
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError(fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return false
		}
		transport.WriteAPIError(w, api.NewInvalidRequestError("invalid JSON: "+err.Error()))
		return false
	}
	return true
}

// writeStoreError maps storage errors to API errors.
func writeStoreError(w http.ResponseWriter, err error, notFoundMsg string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		transport.WriteAPIError(w, api.NewNotFoundError(notFoundMsg))
	case errors.Is(err, storage.ErrConflict):
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("resource already exists"), http.StatusConflict)
	default:
		var apiErr *api.APIError
		if errors.As(err, &apiErr) {
			transport.WriteAPIError(w, apiErr)
			return
		}
		transport.WriteAPIError(w, api.NewServerError("internal error"))
	}
}

// clientAddr extracts the client host for rate limit keying.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
