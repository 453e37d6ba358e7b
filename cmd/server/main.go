// Command server runs the stride identity and delegated-access gateway.
//
// Configuration is layered: built-in defaults, then an optional YAML
// config file (STRIDE_CONFIG, ./config.yaml, /etc/stride/config.yaml),
// then STRIDE_* environment overrides. See pkg/config for the full
// reference.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/stridefit/stride/pkg/access"
	"github.com/stridefit/stride/pkg/auth"
	"github.com/stridefit/stride/pkg/auth/apikey"
	"github.com/stridefit/stride/pkg/auth/challenge"
	"github.com/stridefit/stride/pkg/auth/serversession"
	"github.com/stridefit/stride/pkg/auth/sessiontoken"
	"github.com/stridefit/stride/pkg/config"
	"github.com/stridefit/stride/pkg/oidc"
	"github.com/stridefit/stride/pkg/session"
	"github.com/stridefit/stride/pkg/storage"
	"github.com/stridefit/stride/pkg/storage/memory"
	"github.com/stridefit/stride/pkg/storage/postgres"
	transporthttp "github.com/stridefit/stride/pkg/transport/http"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// stores bundles the storage backends picked at startup.
type stores struct {
	principals storage.PrincipalStore
	diary      storage.DiaryStore
	grants     access.GrantStore
	providers  oidc.ProviderStore
	sessions   session.Store
	apikeys    apikey.Store

	close func()
	sweep func(ctx context.Context) (int64, error)
}

func run() error {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx := context.Background()
	st, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if st.close != nil {
		defer st.close()
	}

	secret := []byte(cfg.Auth.JWTSecret)

	sessions := session.NewManager(st.sessions, session.Config{TTL: cfg.Session.TTL})
	sessionTokens := sessiontoken.New(sessiontoken.Config{
		Secret: secret,
		TTL:    cfg.Auth.TokenTTL,
	})
	challenges := challenge.New(challenge.Config{
		Secret: secret,
		TTL:    cfg.Auth.ChallengeTTL,
	})
	resets := transporthttp.NewResetVerifier(secret)

	// Verifier precedence: challenge token, signed session token, server
	// session record, API key.
	chain := &auth.Chain{Authenticators: []auth.Authenticator{
		challenges,
		sessionTokens,
		serversession.New(sessions),
		apikey.New(st.apikeys),
	}}

	gate := access.NewGate(st.grants, st.principals)
	gate.SuperAdminEmail = cfg.Auth.SuperAdminEmail

	oidcMgr := oidc.NewManager(st.providers, st.principals, sessions, logger)

	adapterCfg := transporthttp.DefaultConfig()
	adapterCfg.Version = version
	if cfg.Observability.Metrics.Enabled {
		adapterCfg.MetricsPath = cfg.Observability.Metrics.Path
	} else {
		adapterCfg.MetricsPath = ""
	}

	adapter := transporthttp.NewAdapter(adapterCfg, transporthttp.Deps{
		Principals:    st.principals,
		Diary:         st.diary,
		Grants:        st.grants,
		Providers:     st.providers,
		Sessions:      sessions,
		SessionTokens: sessionTokens,
		Challenges:    challenges,
		Resets:        resets,
		APIKeys:       st.apikeys,
		OIDC:          oidcMgr,
		Chain:         chain,
		Limiter:       auth.NewInProcessLimiter(cfg.Auth.LoginRatePerMinute, time.Minute),
		Logger:        logger,
	}, gate)

	if st.sweep != nil {
		go sweepSessions(ctx, st.sweep, logger)
	}

	srv := transporthttp.NewServer(adapter, transporthttp.ServerConfig{
		Addr:   fmt.Sprintf(":%d", cfg.Server.Port),
		Logger: logger,
	})

	logger.Info("stride starting",
		"version", version,
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Type,
	)
	return srv.ListenAndServe()
}

func buildStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	switch cfg.Storage.Type {
	case "postgres":
		db, err := postgres.New(ctx, postgres.Config{
			OwnerDSN:       cfg.Storage.Postgres.OwnerDSN,
			AppDSN:         cfg.Storage.Postgres.AppDSN,
			AppRole:        cfg.Storage.Postgres.AppRole,
			MaxConns:       cfg.Storage.Postgres.MaxConns,
			MinConns:       cfg.Storage.Postgres.MinConns,
			LeaseTimeout:   cfg.Storage.Postgres.LeaseTimeout,
			LeaseRetries:   cfg.Storage.Postgres.LeaseRetries,
			MigrateOnStart: cfg.Storage.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		sessionStore := postgres.NewSessionStore(db)
		logger.Info("storage ready", "type", "postgres")
		return &stores{
			principals: postgres.NewPrincipalStore(db),
			diary:      postgres.NewDiaryStore(db),
			grants:     postgres.NewGrantStore(db),
			providers:  postgres.NewProviderStore(db),
			sessions:   sessionStore,
			apikeys:    postgres.NewAPIKeyStore(db),
			close:      db.Close,
			sweep:      sessionStore.SweepExpiredSessions,
		}, nil

	case "memory":
		logger.Info("storage ready", "type", "memory")
		return &stores{
			principals: memory.NewPrincipalStore(),
			diary:      memory.NewDiaryStore(),
			grants:     memory.NewGrantStore(),
			providers:  memory.NewProviderStore(),
			sessions:   session.NewMemoryStore(),
			apikeys:    memory.NewAPIKeyStore(),
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

// sweepSessions periodically deletes expired server session rows so the
// table does not grow without bound. Expired rows are already invisible
// to lookups; this is housekeeping only.
func sweepSessions(ctx context.Context, sweep func(context.Context) (int64, error), logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sweep(ctx)
			if err != nil {
				logger.Warn("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("expired sessions removed", "count", n)
			}
		}
	}
}
