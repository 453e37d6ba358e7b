// Package postgres provides the PostgreSQL storage layer for stride.
// It maintains two pgx/v5 connection pools: an owner/system pool for
// migrations, privilege grants, and administrative operations, and an
// application pool for all principal-scoped work. Application
// connections carry a session-local principal id consumed by row level
// security policies, so row visibility is enforced by the database
// rather than by WHERE clauses in handler code.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stridefit/stride/pkg/observability"
	"github.com/stridefit/stride/pkg/storage"
)

// DB owns the two connection pools.
type DB struct {
	owner *pgxpool.Pool
	app   *pgxpool.Pool
	cfg   Config
}

// New creates the owner and application pools and verifies connectivity.
// If MigrateOnStart is set, schema migrations and app-role privilege
// grants are applied through the owner pool before returning.
func New(ctx context.Context, cfg Config) (*DB, error) {
	cfg.defaults()

	owner, err := newPool(ctx, cfg.OwnerDSN, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("creating owner pool: %w", err)
	}

	// Clearing the session variable on release guarantees a recycled
	// connection never carries the previous borrower's principal id.
	app, err := newPool(ctx, cfg.AppDSN, cfg, func(conn *pgx.Conn) bool {
		_, err := conn.Exec(context.Background(), "SELECT set_config('app.current_user_id', '', false)")
		return err == nil
	})
	if err != nil {
		owner.Close()
		return nil, fmt.Errorf("creating application pool: %w", err)
	}

	db := &DB{owner: owner, app: app, cfg: cfg}

	if cfg.MigrateOnStart {
		if err := db.migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		if cfg.AppRole != "" {
			if err := db.EnsurePrivileges(ctx, cfg.AppRole); err != nil {
				db.Close()
				return nil, fmt.Errorf("granting app role privileges: %w", err)
			}
		}
	}

	return db, nil
}

func newPool(ctx context.Context, dsn string, cfg Config, afterRelease func(*pgx.Conn) bool) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	if afterRelease != nil {
		poolCfg.AfterRelease = afterRelease
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return pool, nil
}

// System returns the owner pool for migrations, privilege grants, and
// cross-tenant administrative operations. It must never serve a
// principal-scoped read or write.
func (db *DB) System() *pgxpool.Pool {
	return db.owner
}

// AcquireApp leases an application connection bound to the effective
// principal from the context. The session-local principal id is set
// before the connection is handed out, so every query on it is subject
// to row level security for that principal. The caller must Release the
// connection before the request ends; it never crosses request
// boundaries.
//
// Lease waits are bounded; on pool exhaustion the lease is retried
// within a small budget and the failure bubbles up afterwards rather
// than being swallowed.
func (db *DB) AcquireApp(ctx context.Context) (*pgxpool.Conn, error) {
	principalID, err := storage.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}

	var conn *pgxpool.Conn
	for attempt := 0; ; attempt++ {
		leaseCtx, cancel := context.WithTimeout(ctx, db.cfg.LeaseTimeout)
		conn, err = db.app.Acquire(leaseCtx)
		cancel()
		if err == nil {
			break
		}
		if attempt+1 >= db.cfg.LeaseRetries || ctx.Err() != nil {
			observability.PoolLeaseFailuresTotal.Inc()
			slog.Error("application pool lease failed", "attempts", attempt+1, "error", err)
			return nil, fmt.Errorf("%w: %v", storage.ErrLeaseExhausted, err)
		}
		observability.PoolLeaseRetriesTotal.Inc()
		slog.Warn("application pool exhausted, retrying lease", "attempt", attempt+1)
	}

	if _, err := conn.Exec(ctx, "SELECT set_user_id($1)", principalID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("setting tenant context: %w", err)
	}

	return conn, nil
}

// Close shuts down both pools.
func (db *DB) Close() {
	if db.app != nil {
		db.app.Close()
	}
	if db.owner != nil {
		db.owner.Close()
	}
}

// EnsurePrivileges grants the application role the table privileges it
// needs. Rows remain protected by row level security; the grants only
// open the tables themselves. Retried a few times since the role may be
// provisioned concurrently on first boot.
func (db *DB) EnsurePrivileges(ctx context.Context, appRole string) error {
	statements := []string{
		fmt.Sprintf("GRANT USAGE ON SCHEMA public TO %s", pgx.Identifier{appRole}.Sanitize()),
		fmt.Sprintf("GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA public TO %s", pgx.Identifier{appRole}.Sanitize()),
		fmt.Sprintf("ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT SELECT, INSERT, UPDATE, DELETE ON TABLES TO %s", pgx.Identifier{appRole}.Sanitize()),
		fmt.Sprintf("GRANT USAGE, SELECT ON ALL SEQUENCES IN SCHEMA public TO %s", pgx.Identifier{appRole}.Sanitize()),
		fmt.Sprintf("GRANT EXECUTE ON FUNCTION set_user_id(text) TO %s", pgx.Identifier{appRole}.Sanitize()),
	}

	const maxRetries = 3
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		lastErr = nil
		for _, stmt := range statements {
			if _, err := db.owner.Exec(ctx, stmt); err != nil {
				lastErr = fmt.Errorf("executing %q: %w", stmt, err)
				break
			}
		}
		if lastErr == nil {
			slog.Info("application role privileges ensured", "role", appRole)
			return nil
		}
		slog.Warn("granting privileges failed", "attempt", attempt, "error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return lastErr
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// mapNoRows converts pgx.ErrNoRows to the storage sentinel.
func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}
