package auth

import (
	"context"
	"errors"
	"net/http"
)

// Decision represents the four possible outcomes of an authentication attempt.
type Decision int

const (
	// Yes means credentials are valid. The chain stops and the identity is used.
	Yes Decision = iota

	// No means credentials are present but invalid. The failure is recorded
	// and the chain continues to the next authenticator.
	No

	// Deny means the credential must not fall through to other
	// authenticators. The chain stops and the request is rejected.
	Deny

	// Abstain means this authenticator cannot handle the credentials type.
	// The chain continues to the next authenticator.
	Abstain
)

// Result carries the outcome of an authentication attempt.
type Result struct {
	Decision Decision
	Identity *Identity // populated only when Decision == Yes
	Err      error     // populated when Decision is No or Deny
}

// Identity represents an authenticated caller.
type Identity struct {
	// Subject is the principal id (required, non-empty).
	Subject string

	// Method names the credential type that resolved the identity
	// ("api_key", "session_token", "session", "challenge").
	Method string

	// Permissions carries API-key permissions such as health_data_write.
	// These are independent of delegation permissions.
	Permissions map[string]bool
}

// HasPermission reports whether the identity carries the named
// API-key permission. Identities resolved from non-key credentials
// have no permission set and always return false.
func (id *Identity) HasPermission(name string) bool {
	if id == nil || id.Permissions == nil {
		return false
	}
	return id.Permissions[name]
}

// Authenticator examines request credentials and returns a four-outcome vote.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) Result
}

// Sentinel errors.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrSessionExpired  = errors.New("session expired")
)

// Chain evaluates authenticators in fixed precedence order.
type Chain struct {
	// Authenticators are evaluated left to right. The first Yes wins and
	// no later authenticator runs.
	Authenticators []Authenticator
}

// Authenticate runs the chain. It stops on the first Yes or Deny. A No
// is recorded and the chain continues; if no authenticator produces an
// identity the joined failures are returned with a No decision so the
// caller can log them without exposing verifier detail to the client.
func (c *Chain) Authenticate(ctx context.Context, r *http.Request) Result {
	var errs []error
	for _, authn := range c.Authenticators {
		result := authn.Authenticate(ctx, r)
		switch result.Decision {
		case Yes, Deny:
			return result
		case No:
			errs = append(errs, result.Err)
		}
	}

	if len(errs) == 0 {
		errs = append(errs, ErrUnauthenticated)
	}
	return Result{
		Decision: No,
		Err:      errors.Join(errs...),
	}
}

// PublicRoutes is the path-prefix allow-list that bypasses
// authentication entirely. Every other path requires a resolved
// principal. The health-data prefix is exempt from the cookie/session
// gateway only; its handler demands an API key with the
// health_data_write permission.
var PublicRoutes = []string{
	"/auth/login",
	"/auth/register",
	"/auth/settings",
	"/auth/forgot-password",
	"/auth/reset-password",
	"/auth/mfa",
	"/api/health-data",
	"/health",
	"/openid",
	"/version",
}

// IsPublic reports whether the path matches the allow-list by exact
// match or prefix.
func IsPublic(allowlist []string, path string) bool {
	for _, route := range allowlist {
		if path == route {
			return true
		}
		if len(path) > len(route) && path[:len(route)] == route && path[len(route)] == '/' {
			return true
		}
	}
	return false
}
