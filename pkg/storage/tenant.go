package storage

import (
	"context"
	"errors"
)

// ErrNoTenant is returned when a principal-scoped operation is attempted
// without an effective principal id in the context.
var ErrNoTenant = errors.New("no effective principal in context")

// tenantKey is a private type for the tenant context key, preventing
// collisions with other packages.
type tenantKey struct{}

// SetTenant injects the effective principal id into the context. Under
// delegation this is the target principal, not the authenticated one.
func SetTenant(ctx context.Context, principalID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, principalID)
}

// GetTenant extracts the effective principal id from the context.
// Returns an empty string if none is set.
func GetTenant(ctx context.Context) string {
	if v, ok := ctx.Value(tenantKey{}).(string); ok {
		return v
	}
	return ""
}

// RequireTenant extracts the effective principal id or fails with
// ErrNoTenant. Principal-scoped connection leases call this before
// touching the pool so an unscoped query can never run on the
// application pool.
func RequireTenant(ctx context.Context) (string, error) {
	id := GetTenant(ctx)
	if id == "" {
		return "", ErrNoTenant
	}
	return id, nil
}
