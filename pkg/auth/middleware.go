package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/stridefit/stride/pkg/api"
	"github.com/stridefit/stride/pkg/observability"
	"github.com/stridefit/stride/pkg/storage"
	"github.com/stridefit/stride/pkg/transport"
)

// Middleware creates the gateway middleware from a Chain and a public
// route allow-list. It checks the allow-list, runs authentication, and
// injects the identity and tenant context. Exactly one effective
// principal is attached per request or the request is rejected with a
// generic message that does not reveal which verifier almost succeeded.
func Middleware(chain *Chain, publicRoutes []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsPublic(publicRoutes, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			result := chain.Authenticate(r.Context(), r)

			if result.Decision != Yes {
				outcome := "invalid"
				if errors.Is(result.Err, ErrSessionExpired) {
					// Surfaced as a plain 401; only logs and metrics
					// distinguish an expired credential from a bad one.
					outcome = "session_expired"
				}
				observability.AuthRejectedTotal.WithLabelValues(outcome).Inc()
				slog.Warn("authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"outcome", outcome,
					"error", result.Err,
				)
				transport.WriteAPIError(w, api.NewUnauthorizedError())
				return
			}

			if result.Identity == nil || result.Identity.Subject == "" {
				slog.Error("authenticator returned identity with empty subject")
				transport.WriteAPIError(w, api.NewServerError("internal authentication error"))
				return
			}

			observability.AuthResolvedTotal.WithLabelValues(result.Identity.Method).Inc()
			slog.Debug("authentication succeeded",
				"subject", result.Identity.Subject,
				"method", result.Identity.Method,
				"path", r.URL.Path,
			)

			ctx := SetIdentity(r.Context(), result.Identity)

			// Until the delegation resolver runs, the effective principal
			// is the authenticated one.
			ctx = SetActing(ctx, Acting{
				AuthenticatedID: result.Identity.Subject,
				EffectiveID:     result.Identity.Subject,
			})
			ctx = storage.SetTenant(ctx, result.Identity.Subject)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
