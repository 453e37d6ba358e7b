package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stridefit/stride/pkg/session"
)

// SessionStore persists server sessions on the system pool: a session
// lookup is part of establishing identity, before any tenant context.
type SessionStore struct {
	db *DB
}

var _ session.Store = (*SessionStore)(nil)

// NewSessionStore creates a session store over the database.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// GetSession loads a session record. Expired rows are treated as absent
// and deleted opportunistically.
func (s *SessionStore) GetSession(ctx context.Context, id string) (*session.Record, error) {
	var (
		rec         session.Record
		principalID *string
		claimsJSON  []byte
	)
	err := s.db.owner.QueryRow(ctx, `
		SELECT id, principal_id, claims, created_at, expires_at
		FROM server_sessions WHERE id = $1
	`, id).Scan(&rec.ID, &principalID, &claimsJSON, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if principalID != nil {
		rec.PrincipalID = *principalID
	}
	if rec.Expired(time.Now()) {
		_, _ = s.db.owner.Exec(ctx, "DELETE FROM server_sessions WHERE id = $1", id)
		return nil, session.ErrNotFound
	}
	if len(claimsJSON) > 0 {
		if err := json.Unmarshal(claimsJSON, &rec.Claims); err != nil {
			return nil, fmt.Errorf("decoding session claims: %w", err)
		}
	}
	return &rec, nil
}

// PutSession creates or replaces a session record.
func (s *SessionStore) PutSession(ctx context.Context, rec *session.Record) error {
	claimsJSON, err := json.Marshal(rec.Claims)
	if err != nil {
		return fmt.Errorf("encoding session claims: %w", err)
	}
	var principalID *string
	if rec.PrincipalID != "" {
		principalID = &rec.PrincipalID
	}
	_, err = s.db.owner.Exec(ctx, `
		INSERT INTO server_sessions (id, principal_id, claims, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			principal_id = EXCLUDED.principal_id,
			claims = EXCLUDED.claims,
			expires_at = EXCLUDED.expires_at
	`, rec.ID, principalID, claimsJSON, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

// DeleteSession removes a session record. Deleting an unknown session
// is not an error.
func (s *SessionStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.owner.Exec(ctx, "DELETE FROM server_sessions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// SweepExpiredSessions deletes all expired rows and reports how many
// were removed. Intended for a periodic background cleanup.
func (s *SessionStore) SweepExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := s.db.owner.Exec(ctx, "DELETE FROM server_sessions WHERE expires_at < now()")
	if err != nil {
		return 0, fmt.Errorf("sweeping sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
