// Package config provides unified configuration for the stride server.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (STRIDE_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the stride server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Session       SessionConfig       `yaml:"session"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`          // default: 8080
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default: 30s
}

// AuthConfig holds credential verification settings.
type AuthConfig struct {
	// JWTSecret signs session and challenge tokens. Required.
	JWTSecret     string `yaml:"jwt_secret"`
	JWTSecretFile string `yaml:"jwt_secret_file"` // _file variant for jwt_secret

	// TokenTTL is the signed session-token lifetime. Default: 720h (30 days).
	TokenTTL time.Duration `yaml:"token_ttl"`

	// ChallengeTTL is the MFA challenge-token lifetime. Default: 5m.
	ChallengeTTL time.Duration `yaml:"challenge_ttl"`

	// SuperAdminEmail names a principal granted admin surfaces
	// regardless of its stored role. Optional.
	SuperAdminEmail string `yaml:"super_admin_email"`

	// LoginRatePerMinute bounds credential-carrying requests per client
	// address on the auth routes. Default: 30.
	LoginRatePerMinute int `yaml:"login_rate_per_minute"`
}

// SessionConfig holds server-side session settings.
type SessionConfig struct {
	// TTL is the sliding session lifetime. Default: 24h.
	TTL time.Duration `yaml:"ttl"`
}

// StorageConfig holds state management settings.
type StorageConfig struct {
	Type     string         `yaml:"type"` // "memory" or "postgres", default: "memory"
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings. The server keeps
// two pools: the owner DSN for migrations and identity lookups, and the
// app DSN for tenant-scoped queries under row level security.
type PostgresConfig struct {
	OwnerDSN        string        `yaml:"owner_dsn"`
	OwnerDSNFile    string        `yaml:"owner_dsn_file"` // _file variant for owner_dsn
	AppDSN          string        `yaml:"app_dsn"`
	AppDSNFile      string        `yaml:"app_dsn_file"` // _file variant for app_dsn
	AppRole         string        `yaml:"app_role"`
	MaxConns        int32         `yaml:"max_conns"`     // default: 25
	MinConns        int32         `yaml:"min_conns"`     // default: 5
	LeaseTimeout    time.Duration `yaml:"lease_timeout"` // default: 5s
	LeaseRetries    int           `yaml:"lease_retries"` // default: 3
	MigrateOnStart  bool          `yaml:"migrate_on_start"`
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL:           720 * time.Hour,
			ChallengeTTL:       5 * time.Minute,
			LoginRatePerMinute: 30,
		},
		Session: SessionConfig{
			TTL: 24 * time.Hour,
		},
		Storage: StorageConfig{
			Type: "memory",
			Postgres: PostgresConfig{
				MaxConns:     25,
				MinConns:     5,
				LeaseTimeout: 5 * time.Second,
				LeaseRetries: 3,
			},
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}
