package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/stridefit/stride/pkg/oidc"
	"github.com/stridefit/stride/pkg/storage"
)

// ProviderStore persists OIDC provider configurations on the system
// pool. Providers are administrative records, not tenant data.
type ProviderStore struct {
	db *DB
}

var _ oidc.ProviderStore = (*ProviderStore)(nil)

// NewProviderStore creates a provider store over the database.
func NewProviderStore(db *DB) *ProviderStore {
	return &ProviderStore{db: db}
}

const providerColumns = "id, display_name, issuer_url, client_id, client_secret, redirect_uri, scopes, signing_algorithm, auto_register, is_active, created_at, updated_at"

func scanProvider(row interface{ Scan(...any) error }) (*oidc.Provider, error) {
	var p oidc.Provider
	err := row.Scan(&p.ID, &p.DisplayName, &p.IssuerURL, &p.ClientID, &p.ClientSecret,
		&p.RedirectURI, &p.Scopes, &p.SigningAlgorithm, &p.AutoRegister, &p.Active,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &p, nil
}

// GetProvider retrieves a provider by id.
func (s *ProviderStore) GetProvider(ctx context.Context, id string) (*oidc.Provider, error) {
	row := s.db.owner.QueryRow(ctx,
		"SELECT "+providerColumns+" FROM oidc_providers WHERE id = $1", id)
	return scanProvider(row)
}

// ListProviders lists configured providers, optionally only active ones.
func (s *ProviderStore) ListProviders(ctx context.Context, activeOnly bool) ([]oidc.Provider, error) {
	query := "SELECT " + providerColumns + " FROM oidc_providers"
	if activeOnly {
		query += " WHERE is_active"
	}
	query += " ORDER BY display_name"

	rows, err := s.db.owner.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing providers: %w", err)
	}
	defer rows.Close()

	var providers []oidc.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning provider: %w", err)
		}
		providers = append(providers, *p)
	}
	return providers, rows.Err()
}

// CreateProvider inserts a provider configuration.
func (s *ProviderStore) CreateProvider(ctx context.Context, p *oidc.Provider) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	err := s.db.owner.QueryRow(ctx, `
		INSERT INTO oidc_providers (id, display_name, issuer_url, client_id, client_secret,
			redirect_uri, scopes, signing_algorithm, auto_register, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, p.ID, p.DisplayName, p.IssuerURL, p.ClientID, p.ClientSecret,
		p.RedirectURI, p.Scopes, p.SigningAlgorithm, p.AutoRegister, p.Active).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting provider: %w", err)
	}
	return nil
}

// UpdateProvider replaces a provider's mutable configuration.
func (s *ProviderStore) UpdateProvider(ctx context.Context, p *oidc.Provider) error {
	tag, err := s.db.owner.Exec(ctx, `
		UPDATE oidc_providers SET
			display_name = $2, issuer_url = $3, client_id = $4, client_secret = $5,
			redirect_uri = $6, scopes = $7, signing_algorithm = $8,
			auto_register = $9, is_active = $10, updated_at = now()
		WHERE id = $1
	`, p.ID, p.DisplayName, p.IssuerURL, p.ClientID, p.ClientSecret,
		p.RedirectURI, p.Scopes, p.SigningAlgorithm, p.AutoRegister, p.Active)
	if err != nil {
		return fmt.Errorf("updating provider: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteProvider removes a provider configuration.
func (s *ProviderStore) DeleteProvider(ctx context.Context, id string) error {
	tag, err := s.db.owner.Exec(ctx, "DELETE FROM oidc_providers WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting provider: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
