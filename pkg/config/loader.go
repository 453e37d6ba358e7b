package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, STRIDE_CONFIG env, ./config.yaml, /etc/stride/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. STRIDE_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/stride/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("STRIDE_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/stride/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps STRIDE_* environment variables to config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STRIDE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("STRIDE_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("STRIDE_SUPER_ADMIN_EMAIL"); v != "" {
		cfg.Auth.SuperAdminEmail = v
	}
	if v := os.Getenv("STRIDE_LOGIN_RATE"); v != "" {
		if rate, err := strconv.Atoi(v); err == nil {
			cfg.Auth.LoginRatePerMinute = rate
		}
	}
	if v := os.Getenv("STRIDE_SESSION_TTL"); v != "" {
		if ttl, err := time.ParseDuration(v); err == nil {
			cfg.Session.TTL = ttl
		}
	}
	if v := os.Getenv("STRIDE_STORAGE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("STRIDE_OWNER_DSN"); v != "" {
		cfg.Storage.Postgres.OwnerDSN = v
	}
	if v := os.Getenv("STRIDE_APP_DSN"); v != "" {
		cfg.Storage.Postgres.AppDSN = v
	}
	if v := os.Getenv("STRIDE_APP_ROLE"); v != "" {
		cfg.Storage.Postgres.AppRole = v
	}
	if v := os.Getenv("STRIDE_MIGRATE_ON_START"); v != "" {
		cfg.Storage.Postgres.MigrateOnStart = v == "true" || v == "1"
	}
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	// auth.jwt_secret_file -> auth.jwt_secret
	if cfg.Auth.JWTSecretFile != "" && cfg.Auth.JWTSecret == "" {
		val, err := readSecretFile(cfg.Auth.JWTSecretFile)
		if err != nil {
			return fmt.Errorf("auth.jwt_secret_file: %w", err)
		}
		cfg.Auth.JWTSecret = val
	}

	// storage.postgres.owner_dsn_file -> storage.postgres.owner_dsn
	if cfg.Storage.Postgres.OwnerDSNFile != "" && cfg.Storage.Postgres.OwnerDSN == "" {
		val, err := readSecretFile(cfg.Storage.Postgres.OwnerDSNFile)
		if err != nil {
			return fmt.Errorf("storage.postgres.owner_dsn_file: %w", err)
		}
		cfg.Storage.Postgres.OwnerDSN = val
	}

	// storage.postgres.app_dsn_file -> storage.postgres.app_dsn
	if cfg.Storage.Postgres.AppDSNFile != "" && cfg.Storage.Postgres.AppDSN == "" {
		val, err := readSecretFile(cfg.Storage.Postgres.AppDSNFile)
		if err != nil {
			return fmt.Errorf("storage.postgres.app_dsn_file: %w", err)
		}
		cfg.Storage.Postgres.AppDSN = val
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
