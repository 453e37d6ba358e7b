// Package serversession provides the authenticator backed by
// server-side session records. The principal id is read from stored
// claims rather than re-verified cryptographically, since the server
// controls the storage.
package serversession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/stridefit/stride/pkg/auth"
	"github.com/stridefit/stride/pkg/session"
)

// Authenticator resolves the opaque session cookie to a stored record.
type Authenticator struct {
	sessions *session.Manager
}

// New creates a server session authenticator over the session manager.
func New(sessions *session.Manager) *Authenticator {
	return &Authenticator{sessions: sessions}
}

// Authenticate loads the session record for the request's cookie.
//
// Decision outcomes:
//   - Abstain: no session cookie, unknown/expired session, or a
//     claims-only record without a resolvable principal id (the OIDC
//     fallback for unmatched identities) -- such a session never
//     authenticates, letting the request fail normally at the end of
//     the chain
//   - Yes: session with a principal id; the record's expiry slides
//     forward on use
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.Result {
	rec, err := a.sessions.Load(ctx, r)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return auth.Result{Decision: auth.Abstain}
		}
		return auth.Result{Decision: auth.No, Err: fmt.Errorf("session lookup: %w", err)}
	}

	if rec.PrincipalID == "" {
		return auth.Result{Decision: auth.Abstain}
	}

	// Sliding expiration. A failed touch is not fatal to the request;
	// the session simply expires on its old schedule.
	if err := a.sessions.Touch(ctx, rec); err != nil {
		slog.Warn("failed to extend session", "session_id", rec.ID, "error", err)
	}

	return auth.Result{
		Decision: auth.Yes,
		Identity: &auth.Identity{
			Subject: rec.PrincipalID,
			Method:  "session",
		},
	}
}
