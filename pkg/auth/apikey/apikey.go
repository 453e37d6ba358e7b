// Package apikey provides an API key authenticator that validates
// bearer keys against a key store. Keys carry an active flag and a
// permission set independent of delegation permissions, so a key can be
// revoked without touching the owner's sessions.
package apikey

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stridefit/stride/pkg/auth"
	"github.com/stridefit/stride/pkg/storage"
)

// HeaderName is the custom header accepted alongside the Authorization
// bearer form.
const HeaderName = "X-API-Key"

// Key is a stored API key record.
type Key struct {
	ID          string          `json:"id"`
	PrincipalID string          `json:"principal_id"`
	Description string          `json:"description,omitempty"`
	Active      bool            `json:"active"`
	Permissions map[string]bool `json:"permissions"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Store resolves a raw API key to its record. Lookups run outside any
// tenant context (the key is what establishes identity), so
// implementations use the system pool. Returns storage.ErrNotFound for
// unknown keys.
type Store interface {
	GetAPIKey(ctx context.Context, rawKey string) (*Key, error)
}

// Authenticator validates API keys against a Store.
type Authenticator struct {
	store Store
}

// New creates an API key authenticator backed by the given store.
func New(store Store) *Authenticator {
	return &Authenticator{store: store}
}

// Authenticate extracts the API key from the Authorization bearer header
// or the X-API-Key header and validates it.
//
// Decision outcomes:
//   - Abstain: no key material present
//   - No: key present but unknown, inactive, or the store failed
//   - Yes: active key with the owning principal and its permission set
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.Result {
	rawKey := ""
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		rawKey = strings.TrimPrefix(header, "Bearer ")
	}
	if rawKey == "" {
		rawKey = r.Header.Get(HeaderName)
	}
	if rawKey == "" {
		return auth.Result{Decision: auth.Abstain}
	}

	key, err := a.store.GetAPIKey(ctx, rawKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
		}
		return auth.Result{Decision: auth.No, Err: fmt.Errorf("api key lookup: %w", err)}
	}

	// Inactive keys are indistinguishable from unknown ones to the
	// caller. Revocation must not leak through the error shape.
	if !key.Active {
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	perms := make(map[string]bool, len(key.Permissions))
	for name, ok := range key.Permissions {
		perms[name] = ok
	}

	return auth.Result{
		Decision: auth.Yes,
		Identity: &auth.Identity{
			Subject:     key.PrincipalID,
			Method:      "api_key",
			Permissions: perms,
		},
	}
}
