package auth

import "context"

// identityKey is a private type for the identity context key.
type identityKey struct{}

// actingKey is a private type for the acting-identity context key.
type actingKey struct{}

// Acting is the immutable per-request identity pair threaded through the
// handling chain. When delegation is active the two ids differ and the
// authenticated id is retained for audit logging and permission
// re-checks; otherwise they are equal.
type Acting struct {
	// AuthenticatedID is the principal the credential resolved to.
	AuthenticatedID string

	// EffectiveID is the principal whose data the request operates on.
	EffectiveID string
}

// Delegated reports whether the request is acting on behalf of another
// principal.
func (a Acting) Delegated() bool {
	return a.AuthenticatedID != a.EffectiveID
}

// SetIdentity stores the authenticated identity in the context.
func SetIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext retrieves the authenticated identity.
// Returns nil if no identity is set (public route).
func IdentityFromContext(ctx context.Context) *Identity {
	if v, ok := ctx.Value(identityKey{}).(*Identity); ok {
		return v
	}
	return nil
}

// SetActing stores the acting identity pair in the context.
func SetActing(ctx context.Context, a Acting) context.Context {
	return context.WithValue(ctx, actingKey{}, a)
}

// ActingFromContext retrieves the acting identity pair. The boolean is
// false when the request never passed the gateway.
func ActingFromContext(ctx context.Context) (Acting, bool) {
	v, ok := ctx.Value(actingKey{}).(Acting)
	return v, ok
}
