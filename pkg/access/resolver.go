package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/stridefit/stride/pkg/api"
	"github.com/stridefit/stride/pkg/auth"
	"github.com/stridefit/stride/pkg/observability"
	"github.com/stridefit/stride/pkg/storage"
	"github.com/stridefit/stride/pkg/transport"
)

// TargetHeader names the principal a request acts on behalf of.
const TargetHeader = "X-Acting-For"

// ErrNotGranted is returned when no grant authorizes the delegation.
var ErrNotGranted = errors.New("delegation not granted")

// Resolver checks delegation requests against the grant store.
type Resolver struct {
	grants GrantStore
}

// NewResolver creates a delegation resolver over the grant store.
func NewResolver(grants GrantStore) *Resolver {
	return &Resolver{grants: grants}
}

// Resolve authorizes authenticatedID acting as targetID. A self-target
// is a no-op, not an error. Otherwise any one of the baseline
// permissions granted by the target suffices; route gates narrow this
// to specific permission types later.
func (r *Resolver) Resolve(ctx context.Context, authenticatedID, targetID string) error {
	if targetID == authenticatedID {
		return nil
	}
	ok, err := r.grants.HasPermission(ctx, targetID, authenticatedID, api.BaselinePermissions...)
	if err != nil {
		return fmt.Errorf("checking delegation grant: %w", err)
	}
	if !ok {
		return ErrNotGranted
	}
	return nil
}

// Middleware reads the delegation target header and, when authorized,
// substitutes the effective principal on the request context while
// retaining the authenticated id for audit. The substitution happens
// here, before any handler leases a tenant-scoped connection, because
// all downstream row-level isolation keys off the effective id.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		targetID := req.Header.Get(TargetHeader)
		acting, ok := auth.ActingFromContext(req.Context())

		if targetID == "" || !ok || targetID == acting.AuthenticatedID {
			next.ServeHTTP(w, req)
			return
		}

		if err := r.Resolve(req.Context(), acting.AuthenticatedID, targetID); err != nil {
			if errors.Is(err, ErrNotGranted) {
				observability.DelegationDeniedTotal.Inc()
				slog.Warn("delegation denied",
					"authenticated", acting.AuthenticatedID,
					"target", targetID,
					"path", req.URL.Path,
				)
				transport.WriteAPIError(w, api.NewForbiddenError("you do not have permission to act on behalf of this user"))
				return
			}
			slog.Error("delegation check failed",
				"authenticated", acting.AuthenticatedID,
				"target", targetID,
				"error", err,
			)
			transport.WriteAPIError(w, api.NewServerError("internal error during delegation check"))
			return
		}

		slog.Info("acting on behalf of user",
			"authenticated", acting.AuthenticatedID,
			"effective", targetID,
		)

		ctx := auth.SetActing(req.Context(), auth.Acting{
			AuthenticatedID: acting.AuthenticatedID,
			EffectiveID:     targetID,
		})
		ctx = storage.SetTenant(ctx, targetID)

		next.ServeHTTP(w, req.WithContext(ctx))
	})
}
