package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stridefit/stride/pkg/access"
	"github.com/stridefit/stride/pkg/api"
	"github.com/stridefit/stride/pkg/storage"
)

// GrantStore persists delegation grants. All queries lease from the
// application pool: the access_grants row level security policy makes a
// grant visible to both its grantor and its grantee, whichever of the
// two owns the current tenant context.
type GrantStore struct {
	db *DB
}

var _ access.GrantStore = (*GrantStore)(nil)

// NewGrantStore creates a grant store over the database.
func NewGrantStore(db *DB) *GrantStore {
	return &GrantStore{db: db}
}

// HasPermission reports whether an active grant from grantor to grantee
// covers any of the given permission types.
func (s *GrantStore) HasPermission(ctx context.Context, grantorID, granteeID string, perms ...api.Permission) (bool, error) {
	conn, err := s.db.AcquireApp(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Release()

	var permsJSON []byte
	err = conn.QueryRow(ctx, `
		SELECT permissions FROM access_grants
		WHERE grantor_id = $1 AND grantee_id = $2 AND is_active
	`, grantorID, granteeID).Scan(&permsJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("querying grant: %w", err)
	}

	var granted map[api.Permission]bool
	if err := json.Unmarshal(permsJSON, &granted); err != nil {
		return false, fmt.Errorf("decoding grant permissions: %w", err)
	}
	for _, p := range perms {
		if granted[p] {
			return true, nil
		}
	}
	return false, nil
}

// CreateGrant inserts a grant from the current principal. The RLS write
// policy rejects rows whose grantor is not the tenant principal.
func (s *GrantStore) CreateGrant(ctx context.Context, g *access.Grant) error {
	conn, err := s.db.AcquireApp(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	permsJSON, err := json.Marshal(g.Permissions)
	if err != nil {
		return fmt.Errorf("encoding grant permissions: %w", err)
	}
	err = conn.QueryRow(ctx, `
		INSERT INTO access_grants (id, grantor_id, grantee_id, permissions, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, g.ID, g.GrantorID, g.GranteeID, permsJSON, g.Active).Scan(&g.CreatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting grant: %w", err)
	}
	return nil
}

// ListGrantsByGrantor lists the grants a principal has issued.
func (s *GrantStore) ListGrantsByGrantor(ctx context.Context, grantorID string) ([]access.Grant, error) {
	return s.listGrants(ctx, "grantor_id", grantorID)
}

// ListGrantsForGrantee lists the grants issued to a principal.
func (s *GrantStore) ListGrantsForGrantee(ctx context.Context, granteeID string) ([]access.Grant, error) {
	return s.listGrants(ctx, "grantee_id", granteeID)
}

func (s *GrantStore) listGrants(ctx context.Context, column, id string) ([]access.Grant, error) {
	conn, err := s.db.AcquireApp(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
		SELECT id, grantor_id, grantee_id, permissions, is_active, created_at
		FROM access_grants WHERE `+column+` = $1
		ORDER BY created_at
	`, id)
	if err != nil {
		return nil, fmt.Errorf("listing grants: %w", err)
	}
	defer rows.Close()

	var grants []access.Grant
	for rows.Next() {
		var (
			g         access.Grant
			permsJSON []byte
		)
		if err := rows.Scan(&g.ID, &g.GrantorID, &g.GranteeID, &permsJSON, &g.Active, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning grant: %w", err)
		}
		if err := json.Unmarshal(permsJSON, &g.Permissions); err != nil {
			return nil, fmt.Errorf("decoding grant permissions: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// DeleteGrant revokes a grant. The grantor id guards against revoking
// someone else's grant by id; RLS additionally restricts the delete to
// rows the tenant principal is party to.
func (s *GrantStore) DeleteGrant(ctx context.Context, id, grantorID string) error {
	conn, err := s.db.AcquireApp(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx,
		"DELETE FROM access_grants WHERE id = $1 AND grantor_id = $2", id, grantorID)
	if err != nil {
		return fmt.Errorf("deleting grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
