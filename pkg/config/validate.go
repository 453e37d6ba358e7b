package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	// auth.jwt_secret is required: it signs session and challenge tokens.
	if c.Auth.JWTSecret == "" && c.Auth.JWTSecretFile == "" {
		errs = append(errs, fmt.Errorf("auth.jwt_secret or auth.jwt_secret_file is required"))
	}

	// server.port must be positive.
	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("auth.token_ttl must be > 0, got %s", c.Auth.TokenTTL))
	}
	if c.Auth.ChallengeTTL <= 0 {
		errs = append(errs, fmt.Errorf("auth.challenge_ttl must be > 0, got %s", c.Auth.ChallengeTTL))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, fmt.Errorf("session.ttl must be > 0, got %s", c.Session.TTL))
	}

	// storage.type must be a known value.
	switch c.Storage.Type {
	case "memory", "postgres":
		// valid
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\" or \"postgres\", got %q", c.Storage.Type))
	}

	// Postgres needs both DSNs: the owner pool and the RLS app pool.
	if c.Storage.Type == "postgres" {
		if c.Storage.Postgres.OwnerDSN == "" && c.Storage.Postgres.OwnerDSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.owner_dsn is required when storage.type is \"postgres\""))
		}
		if c.Storage.Postgres.AppDSN == "" && c.Storage.Postgres.AppDSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.app_dsn is required when storage.type is \"postgres\""))
		}
		if c.Storage.Postgres.LeaseRetries < 0 {
			errs = append(errs, fmt.Errorf("storage.postgres.lease_retries must be >= 0, got %d", c.Storage.Postgres.LeaseRetries))
		}
	}

	return errors.Join(errs...)
}
