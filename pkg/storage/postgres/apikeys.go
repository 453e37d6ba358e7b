package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/stridefit/stride/pkg/auth/apikey"
	"github.com/stridefit/stride/pkg/storage"
)

// APIKeyStore resolves raw API keys on the system pool. Key lookup is
// what establishes identity, so no tenant context exists yet.
type APIKeyStore struct {
	db *DB
}

var _ apikey.Store = (*APIKeyStore)(nil)

// NewAPIKeyStore creates an API key store over the database.
func NewAPIKeyStore(db *DB) *APIKeyStore {
	return &APIKeyStore{db: db}
}

// GetAPIKey resolves a raw key value to its record.
func (s *APIKeyStore) GetAPIKey(ctx context.Context, rawKey string) (*apikey.Key, error) {
	var (
		key       apikey.Key
		permsJSON []byte
	)
	err := s.db.owner.QueryRow(ctx, `
		SELECT id, principal_id, description, is_active, permissions, created_at
		FROM user_api_keys WHERE api_key = $1
	`, rawKey).Scan(&key.ID, &key.PrincipalID, &key.Description, &key.Active, &permsJSON, &key.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if len(permsJSON) > 0 {
		if err := json.Unmarshal(permsJSON, &key.Permissions); err != nil {
			return nil, fmt.Errorf("decoding key permissions: %w", err)
		}
	}
	return &key, nil
}

// CreateAPIKey stores a new key for a principal. The raw key value is
// generated by the caller and stored as-is.
func (s *APIKeyStore) CreateAPIKey(ctx context.Context, principalID, rawKey, description string, permissions map[string]bool) (*apikey.Key, error) {
	permsJSON, err := json.Marshal(permissions)
	if err != nil {
		return nil, fmt.Errorf("encoding key permissions: %w", err)
	}
	key := &apikey.Key{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		Description: description,
		Active:      true,
		Permissions: permissions,
	}
	err = s.db.owner.QueryRow(ctx, `
		INSERT INTO user_api_keys (id, principal_id, api_key, description, is_active, permissions)
		VALUES ($1, $2, $3, $4, TRUE, $5)
		RETURNING created_at
	`, key.ID, principalID, rawKey, description, permsJSON).Scan(&key.CreatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, storage.ErrConflict
		}
		return nil, fmt.Errorf("inserting api key: %w", err)
	}
	return key, nil
}

// SetAPIKeyActive toggles a key without deleting it, so revocation is
// reversible and auditable.
func (s *APIKeyStore) SetAPIKeyActive(ctx context.Context, id string, active bool) error {
	tag, err := s.db.owner.Exec(ctx, "UPDATE user_api_keys SET is_active = $1 WHERE id = $2", active, id)
	if err != nil {
		return fmt.Errorf("updating api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
