package access

import (
	"context"
	"time"

	"github.com/stridefit/stride/pkg/api"
)

// Grant authorizes the grantee to act on behalf of the grantor for the
// named permission types. Grants are explicitly created and revoked by
// the grantor and have no expiry beyond revocation.
type Grant struct {
	ID          string                  `json:"id"`
	GrantorID   string                  `json:"grantor_id"`
	GranteeID   string                  `json:"grantee_id"`
	Permissions map[api.Permission]bool `json:"permissions"`
	Active      bool                    `json:"active"`
	CreatedAt   time.Time               `json:"created_at"`
}

// Allows reports whether the grant covers any of the given permissions.
func (g *Grant) Allows(perms ...api.Permission) bool {
	if !g.Active {
		return false
	}
	for _, p := range perms {
		if g.Permissions[p] {
			return true
		}
	}
	return false
}

// GrantStore persists delegation grants. Permission checks are
// read-only queries and may run concurrently; writes are single-row
// operations.
type GrantStore interface {
	// HasPermission reports whether an active grant from grantor to
	// grantee covers any of the given permission types.
	HasPermission(ctx context.Context, grantorID, granteeID string, perms ...api.Permission) (bool, error)

	CreateGrant(ctx context.Context, g *Grant) error
	ListGrantsByGrantor(ctx context.Context, grantorID string) ([]Grant, error)
	ListGrantsForGrantee(ctx context.Context, granteeID string) ([]Grant, error)

	// DeleteGrant revokes a grant. The grantor id guards against a
	// grantee revoking someone else's grant by id.
	DeleteGrant(ctx context.Context, id, grantorID string) error
}
