// Package session provides the server-side session record: an opaque
// id in a cookie pointing at stored claims. It backs externally
// authenticated identities (OIDC) and the in-flight state of their
// login handshakes. Sessions are explicitly deletable (logout) and use
// sliding expiration.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// CookieName is the cookie carrying the opaque session id.
const CookieName = "stride_session"

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// Record is a stored server-side session.
type Record struct {
	ID          string         `json:"id"`
	PrincipalID string         `json:"principal_id,omitempty"`
	Claims      map[string]any `json:"claims,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// Expired reports whether the record is past its expiry.
func (r *Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Store persists session records. Implementations must treat expired
// records as absent.
type Store interface {
	GetSession(ctx context.Context, id string) (*Record, error)
	PutSession(ctx context.Context, rec *Record) error
	DeleteSession(ctx context.Context, id string) error
}

// Config holds session manager settings.
type Config struct {
	// TTL is the sliding session lifetime. Default: 24 hours.
	TTL time.Duration

	// CookieName overrides the default cookie name.
	CookieName string
}

func (c *Config) applyDefaults() {
	if c.TTL == 0 {
		c.TTL = 24 * time.Hour
	}
	if c.CookieName == "" {
		c.CookieName = CookieName
	}
}

// Manager ties the session store to its cookie.
type Manager struct {
	store  Store
	config Config
}

// NewManager creates a session manager over the given store.
func NewManager(store Store, cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{store: store, config: cfg}
}

// Start creates a fresh session record and sets its cookie.
func (m *Manager) Start(ctx context.Context, w http.ResponseWriter) (*Record, error) {
	id, err := randomID()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	rec := &Record{
		ID:        id,
		Claims:    make(map[string]any),
		CreatedAt: now,
		ExpiresAt: now.Add(m.config.TTL),
	}
	if err := m.store.PutSession(ctx, rec); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}
	http.SetCookie(w, m.cookie(id, int(m.config.TTL.Seconds())))
	return rec, nil
}

// Load resolves the request's session cookie to its record. Expired or
// unknown sessions return ErrNotFound.
func (m *Manager) Load(ctx context.Context, r *http.Request) (*Record, error) {
	c, err := r.Cookie(m.config.CookieName)
	if err != nil || c.Value == "" {
		return nil, ErrNotFound
	}
	rec, err := m.store.GetSession(ctx, c.Value)
	if err != nil {
		return nil, err
	}
	if rec.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Save persists updated claims on an existing record.
func (m *Manager) Save(ctx context.Context, rec *Record) error {
	return m.store.PutSession(ctx, rec)
}

// Touch extends the session's expiry, implementing sliding expiration.
func (m *Manager) Touch(ctx context.Context, rec *Record) error {
	rec.ExpiresAt = time.Now().Add(m.config.TTL)
	return m.store.PutSession(ctx, rec)
}

// End deletes the session record and clears its cookie.
func (m *Manager) End(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	c, err := r.Cookie(m.config.CookieName)
	if err != nil || c.Value == "" {
		return nil
	}
	if err := m.store.DeleteSession(ctx, c.Value); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	http.SetCookie(w, m.cookie("", -1))
	return nil
}

func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     m.config.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func randomID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
