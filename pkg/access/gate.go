package access

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/stridefit/stride/pkg/api"
	"github.com/stridefit/stride/pkg/auth"
	"github.com/stridefit/stride/pkg/observability"
	"github.com/stridefit/stride/pkg/storage"
	"github.com/stridefit/stride/pkg/transport"
)

// Gate builds per-route permission middleware. A principal always has
// full permission over its own data, so the gate is a no-op when no
// delegation is active.
type Gate struct {
	grants     GrantStore
	principals storage.PrincipalStore

	// SuperAdminEmail, when set, grants the admin gate to the matching
	// principal regardless of stored role.
	SuperAdminEmail string
}

// NewGate creates a permission gate over the grant and principal stores.
func NewGate(grants GrantStore, principals storage.PrincipalStore) *Gate {
	return &Gate{grants: grants, principals: principals}
}

// Require restricts a route to delegations covering the exact
// permission type, re-checked with the original authenticated id and
// the effective id recorded by the resolver. Failure is Forbidden, not
// Unauthorized: the identity is known and valid, the operation is
// simply not granted.
func (g *Gate) Require(perm api.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acting, ok := auth.ActingFromContext(r.Context())
			if !ok {
				transport.WriteAPIError(w, api.NewUnauthorizedError())
				return
			}

			if !acting.Delegated() {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := g.grants.HasPermission(r.Context(), acting.EffectiveID, acting.AuthenticatedID, perm)
			if err != nil {
				slog.Error("permission check failed",
					"authenticated", acting.AuthenticatedID,
					"effective", acting.EffectiveID,
					"permission", perm,
					"error", err,
				)
				transport.WriteAPIError(w, api.NewServerError("internal error during permission check"))
				return
			}
			if !allowed {
				observability.PermissionDeniedTotal.WithLabelValues(string(perm)).Inc()
				slog.Warn("permission denied",
					"authenticated", acting.AuthenticatedID,
					"effective", acting.EffectiveID,
					"permission", perm,
					"path", r.URL.Path,
				)
				transport.WriteAPIError(w, api.NewForbiddenError(fmt.Sprintf("you do not have the %s permission for this user", perm)))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin restricts a route to principals with the admin role, or
// to the configured super-admin email.
func (g *Gate) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acting, ok := auth.ActingFromContext(r.Context())
		if !ok {
			transport.WriteAPIError(w, api.NewUnauthorizedError())
			return
		}

		p, err := g.principals.GetPrincipal(r.Context(), acting.AuthenticatedID)
		if err != nil {
			slog.Error("admin role check failed", "principal", acting.AuthenticatedID, "error", err)
			transport.WriteAPIError(w, api.NewServerError("internal error during role check"))
			return
		}

		if p.Role != api.RoleAdmin && !(g.SuperAdminEmail != "" && p.Email == g.SuperAdminEmail) {
			slog.Warn("admin access denied", "principal", acting.AuthenticatedID, "role", p.Role)
			transport.WriteAPIError(w, api.NewForbiddenError("admin privileges required"))
			return
		}

		next.ServeHTTP(w, r)
	})
}
