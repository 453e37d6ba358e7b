// Package challenge provides the short-lived single-purpose challenge
// token used for step-up flows such as multi-factor verification. A
// challenge token authenticates only on a narrow allow-list of route
// prefixes and only when its purpose claim exactly matches the expected
// value; it is not a general session.
package challenge

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/stridefit/stride/pkg/auth"
)

// HeaderName is the custom header carrying the challenge token.
const HeaderName = "X-Challenge-Token"

// PurposeMFA is the purpose tag for multi-factor challenge tokens.
const PurposeMFA = "mfa_challenge"

// Config holds the challenge token settings.
type Config struct {
	// Secret is the HMAC signing secret, shared with the session token
	// issuer. Required.
	Secret []byte

	// Purpose is the expected purpose claim. Default: mfa_challenge.
	Purpose string

	// RoutePrefixes lists the path prefixes on which the token is
	// honored. Default: /auth/mfa/.
	RoutePrefixes []string

	// TTL is the token lifetime. Default: 5 minutes.
	TTL time.Duration
}

func (c *Config) applyDefaults() {
	if c.Purpose == "" {
		c.Purpose = PurposeMFA
	}
	if len(c.RoutePrefixes) == 0 {
		c.RoutePrefixes = []string{"/auth/mfa/"}
	}
	if c.TTL == 0 {
		c.TTL = 5 * time.Minute
	}
}

// claims is the challenge token payload: a principal plus the single
// purpose the token may be spent on.
type claims struct {
	Purpose string `json:"purpose"`
	jwtlib.RegisteredClaims
}

// Authenticator verifies challenge tokens and issues new ones.
type Authenticator struct {
	config Config
}

// New creates a challenge token authenticator.
func New(cfg Config) *Authenticator {
	cfg.applyDefaults()
	return &Authenticator{config: cfg}
}

// Issue signs a challenge token for the principal with the configured
// purpose and TTL.
func (a *Authenticator) Issue(principalID string) (string, error) {
	now := time.Now()
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims{
		Purpose: a.config.Purpose,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   principalID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(a.config.TTL)),
		},
	})
	signed, err := token.SignedString(a.config.Secret)
	if err != nil {
		return "", fmt.Errorf("signing challenge token: %w", err)
	}
	return signed, nil
}

// Verify validates a raw challenge token outside the request path and
// returns its subject. Used by handlers that receive the token in the
// request body, such as password reset.
func (a *Authenticator) Verify(tokenStr string) (string, error) {
	parsed := &claims{}
	_, err := jwtlib.ParseWithClaims(tokenStr, parsed, func(t *jwtlib.Token) (interface{}, error) {
		return a.config.Secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", fmt.Errorf("invalid challenge token: %w", err)
	}
	if parsed.Purpose != a.config.Purpose {
		return "", fmt.Errorf("challenge token purpose %q not valid here", parsed.Purpose)
	}
	if parsed.Subject == "" {
		return "", fmt.Errorf("challenge token missing subject")
	}
	return parsed.Subject, nil
}

// Authenticate honors the challenge header only on the reserved route
// prefixes.
//
// Decision outcomes:
//   - Abstain: no header, or the route is outside the reserved subset
//     (off-route the token is never honored, so a request carrying only
//     a challenge token fails at the end of the chain)
//   - No: token present on a reserved route but expired or invalid
//   - Deny: token valid but its purpose claim does not match; a
//     narrowly-scoped token must not be replayable against other
//     purposes, so this never falls through
//   - Yes: valid token with matching purpose
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Result {
	tokenStr := r.Header.Get(HeaderName)
	if tokenStr == "" {
		return auth.Result{Decision: auth.Abstain}
	}

	if !a.routeReserved(r.URL.Path) {
		return auth.Result{Decision: auth.Abstain}
	}

	parsed := &claims{}
	_, err := jwtlib.ParseWithClaims(tokenStr, parsed, func(t *jwtlib.Token) (interface{}, error) {
		return a.config.Secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return auth.Result{Decision: auth.No, Err: fmt.Errorf("invalid challenge token: %w", err)}
	}

	if parsed.Purpose != a.config.Purpose {
		return auth.Result{
			Decision: auth.Deny,
			Err:      fmt.Errorf("challenge token purpose %q not valid here", parsed.Purpose),
		}
	}

	if parsed.Subject == "" {
		return auth.Result{Decision: auth.No, Err: fmt.Errorf("challenge token missing subject")}
	}

	return auth.Result{
		Decision: auth.Yes,
		Identity: &auth.Identity{
			Subject: parsed.Subject,
			Method:  "challenge",
		},
	}
}

func (a *Authenticator) routeReserved(path string) bool {
	for _, prefix := range a.config.RoutePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
