// Package sessiontoken provides a stateless signed session token:
// an HS256 JWT carrying the principal id, issued at login and verified
// on every request. Tokens are invalidated by expiry only; there is no
// server-side revocation list.
package sessiontoken

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/stridefit/stride/pkg/auth"
)

// CookieName is the cookie carrying the signed session token.
const CookieName = "stride_token"

// Config holds the session token settings.
type Config struct {
	// Secret is the HMAC signing secret. Required.
	Secret []byte

	// TTL is the token lifetime. Default: 30 days.
	TTL time.Duration

	// CookieName overrides the default cookie name.
	CookieName string
}

func (c *Config) applyDefaults() {
	if c.TTL == 0 {
		c.TTL = 30 * 24 * time.Hour
	}
	if c.CookieName == "" {
		c.CookieName = CookieName
	}
}

// Authenticator verifies signed session tokens and issues new ones.
type Authenticator struct {
	config Config
}

// New creates a session token authenticator. The secret must be
// non-empty; enforcing that is the config loader's job so a missing
// secret fails at boot, not per request.
func New(cfg Config) *Authenticator {
	cfg.applyDefaults()
	return &Authenticator{config: cfg}
}

// Issue signs a session token for the principal.
func (a *Authenticator) Issue(principalID string) (string, error) {
	now := time.Now()
	claims := jwtlib.RegisteredClaims{
		Subject:   principalID,
		IssuedAt:  jwtlib.NewNumericDate(now),
		ExpiresAt: jwtlib.NewNumericDate(now.Add(a.config.TTL)),
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.config.Secret)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

// Cookie builds the session cookie for a signed token. A negative
// maxAge produces the clearing cookie used at logout.
func (a *Authenticator) Cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     a.config.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// Authenticate reads the token from the session cookie, or from the
// Authorization bearer header when it carries a JWT-shaped value, and
// verifies signature and expiry.
//
// Decision outcomes:
//   - Abstain: no token material present
//   - No: token present but expired (ErrSessionExpired) or invalid;
//     the gateway falls through to other verifiers since the request
//     may carry further credential types
//   - Yes: valid token with the principal id from the subject claim
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Result {
	tokenStr := ""
	if c, err := r.Cookie(a.config.CookieName); err == nil {
		tokenStr = c.Value
	}
	if tokenStr == "" {
		if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			bearer := strings.TrimPrefix(header, "Bearer ")
			// Only claim JWT-shaped bearer values; opaque keys belong
			// to the API key verifier.
			if strings.Count(bearer, ".") == 2 {
				tokenStr = bearer
			}
		}
	}
	if tokenStr == "" {
		return auth.Result{Decision: auth.Abstain}
	}

	claims := &jwtlib.RegisteredClaims{}
	_, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		return a.config.Secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return auth.Result{Decision: auth.No, Err: fmt.Errorf("session token: %w", auth.ErrSessionExpired)}
		}
		return auth.Result{Decision: auth.No, Err: fmt.Errorf("invalid session token: %w", err)}
	}

	if claims.Subject == "" {
		return auth.Result{Decision: auth.No, Err: errors.New("session token missing subject")}
	}

	return auth.Result{
		Decision: auth.Yes,
		Identity: &auth.Identity{
			Subject: claims.Subject,
			Method:  "session_token",
		},
	}
}
