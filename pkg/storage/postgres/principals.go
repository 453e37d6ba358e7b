package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/stridefit/stride/pkg/api"
	"github.com/stridefit/stride/pkg/storage"
)

// PrincipalStore is the PostgreSQL principal store. Lookups run on the
// owner pool: they happen before a tenant context exists (login, API
// key checks) or on behalf of administrative operations.
type PrincipalStore struct {
	db *DB
}

// Ensure PrincipalStore implements storage.PrincipalStore at compile time.
var _ storage.PrincipalStore = (*PrincipalStore)(nil)

// NewPrincipalStore creates a principal store over the database.
func NewPrincipalStore(db *DB) *PrincipalStore {
	return &PrincipalStore{db: db}
}

const principalColumns = "id, email, full_name, role, active, mfa_enabled, mfa_secret, password_hash, created_at"

func (s *PrincipalStore) scanPrincipal(row interface{ Scan(...any) error }) (*api.Principal, error) {
	var p api.Principal
	err := row.Scan(&p.ID, &p.Email, &p.FullName, &p.Role, &p.Active, &p.MFAEnabled, &p.MFASecret, &p.PasswordHash, &p.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &p, nil
}

// GetPrincipal retrieves a principal by id.
func (s *PrincipalStore) GetPrincipal(ctx context.Context, id string) (*api.Principal, error) {
	row := s.db.owner.QueryRow(ctx,
		"SELECT "+principalColumns+" FROM principals WHERE id = $1", id)
	return s.scanPrincipal(row)
}

// GetPrincipalByEmail retrieves a principal by email.
func (s *PrincipalStore) GetPrincipalByEmail(ctx context.Context, email string) (*api.Principal, error) {
	row := s.db.owner.QueryRow(ctx,
		"SELECT "+principalColumns+" FROM principals WHERE lower(email) = lower($1)", email)
	return s.scanPrincipal(row)
}

// CreatePrincipal inserts a new principal. A missing id is generated.
func (s *PrincipalStore) CreatePrincipal(ctx context.Context, p *api.Principal) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Role == "" {
		p.Role = api.RoleUser
	}
	_, err := s.db.owner.Exec(ctx, `
		INSERT INTO principals (id, email, full_name, role, active, mfa_enabled, mfa_secret, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID, p.Email, p.FullName, p.Role, p.Active, p.MFAEnabled, p.MFASecret, p.PasswordHash)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting principal: %w", err)
	}
	return nil
}

// SetRole updates the mutable role of a principal.
func (s *PrincipalStore) SetRole(ctx context.Context, id string, role api.Role) error {
	tag, err := s.db.owner.Exec(ctx, "UPDATE principals SET role = $1 WHERE id = $2", role, id)
	if err != nil {
		return fmt.Errorf("updating role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdatePassword replaces a principal's password hash.
func (s *PrincipalStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	tag, err := s.db.owner.Exec(ctx, "UPDATE principals SET password_hash = $1 WHERE id = $2", passwordHash, id)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Deactivate marks a principal inactive. Principals are never deleted.
func (s *PrincipalStore) Deactivate(ctx context.Context, id string) error {
	tag, err := s.db.owner.Exec(ctx, "UPDATE principals SET active = FALSE WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deactivating principal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetPrincipalByOIDCSubject resolves a principal through its provider link.
func (s *PrincipalStore) GetPrincipalByOIDCSubject(ctx context.Context, providerID, subject string) (*api.Principal, error) {
	row := s.db.owner.QueryRow(ctx, `
		SELECT `+principalColumns+` FROM principals p
		JOIN oidc_links l ON l.principal_id = p.id
		WHERE l.provider_id = $1 AND l.subject = $2
	`, providerID, subject)
	return s.scanPrincipal(row)
}

// LinkOIDCSubject records the (provider, subject) pair for a principal,
// updating the subject if the pair was already linked.
func (s *PrincipalStore) LinkOIDCSubject(ctx context.Context, principalID, providerID, subject string) error {
	_, err := s.db.owner.Exec(ctx, `
		INSERT INTO oidc_links (id, principal_id, provider_id, subject)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider_id, subject) DO UPDATE SET principal_id = EXCLUDED.principal_id
	`, uuid.NewString(), principalID, providerID, subject)
	if err != nil {
		return fmt.Errorf("linking oidc subject: %w", err)
	}
	return nil
}
