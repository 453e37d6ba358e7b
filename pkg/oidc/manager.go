// Package oidc implements OpenID Connect login against admin-configured
// external providers. Providers are discovered lazily and the resulting
// relying-party clients cached per provider; the login handshake keeps
// its state, nonce, and PKCE verifier in the server-side session.
package oidc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/zitadel/oidc/v3/pkg/client/rp"
	zoidc "github.com/zitadel/oidc/v3/pkg/oidc"

	"github.com/stridefit/stride/pkg/api"
	"github.com/stridefit/stride/pkg/observability"
	"github.com/stridefit/stride/pkg/session"
	"github.com/stridefit/stride/pkg/storage"
)

var (
	// ErrProviderUnavailable indicates discovery or token exchange with
	// the external provider failed.
	ErrProviderUnavailable = errors.New("identity provider unavailable")

	// ErrStateMismatch indicates the callback state did not match the
	// handshake state stored in the session.
	ErrStateMismatch = errors.New("oidc state mismatch")

	// ErrNoHandshake indicates a callback arrived without a pending
	// login handshake in the session.
	ErrNoHandshake = errors.New("no pending oidc handshake")
)

// Session claim keys used during the login handshake.
const (
	claimState    = "oidc_state"
	claimNonce    = "oidc_nonce"
	claimVerifier = "oidc_verifier"
	claimProvider = "oidc_provider"
)

// Manager coordinates provider configuration, relying-party clients,
// and the login handshake.
type Manager struct {
	providers  ProviderStore
	principals storage.PrincipalStore
	sessions   *session.Manager
	logger     *slog.Logger

	mu      sync.RWMutex
	clients map[string]rp.RelyingParty
}

// NewManager creates an OIDC manager.
func NewManager(providers ProviderStore, principals storage.PrincipalStore, sessions *session.Manager, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		providers:  providers,
		principals: principals,
		sessions:   sessions,
		logger:     logger,
		clients:    make(map[string]rp.RelyingParty),
	}
}

// client returns the cached relying party for the provider, running
// discovery on first use. Discovery happens outside the lock so a slow
// provider does not block lookups for the others.
func (m *Manager) client(ctx context.Context, p *Provider) (rp.RelyingParty, error) {
	m.mu.RLock()
	client, ok := m.clients[p.ID]
	m.mu.RUnlock()
	if ok {
		return client, nil
	}

	client, err := rp.NewRelyingPartyOIDC(ctx, p.IssuerURL, p.ClientID, p.ClientSecret, p.RedirectURI, p.Scopes)
	if err != nil {
		observability.OIDCDiscoveryFailuresTotal.WithLabelValues(p.ID).Inc()
		m.logger.Warn("oidc discovery failed", "provider", p.DisplayName, "issuer", p.IssuerURL, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	m.mu.Lock()
	if existing, ok := m.clients[p.ID]; ok {
		// Lost the race to another request; keep the first client.
		client = existing
	} else {
		m.clients[p.ID] = client
		observability.OIDCClientsCached.Set(float64(len(m.clients)))
	}
	m.mu.Unlock()
	return client, nil
}

// Invalidate drops the cached client for a provider. Called after an
// admin edits the provider's configuration.
func (m *Manager) Invalidate(providerID string) {
	m.mu.Lock()
	delete(m.clients, providerID)
	observability.OIDCClientsCached.Set(float64(len(m.clients)))
	m.mu.Unlock()
}

// InvalidateAll drops every cached client.
func (m *Manager) InvalidateAll() {
	m.mu.Lock()
	m.clients = make(map[string]rp.RelyingParty)
	observability.OIDCClientsCached.Set(0)
	m.mu.Unlock()
}

// Begin starts the login handshake for the given provider: it stores
// state, nonce, and the PKCE verifier in the server session and returns
// the provider's authorization URL to redirect to.
func (m *Manager) Begin(ctx context.Context, w http.ResponseWriter, r *http.Request, providerID string) (string, error) {
	provider, err := m.providers.GetProvider(ctx, providerID)
	if err != nil {
		return "", err
	}
	if !provider.Active {
		return "", storage.ErrNotFound
	}

	client, err := m.client(ctx, provider)
	if err != nil {
		return "", err
	}

	state, err := randomToken()
	if err != nil {
		return "", err
	}
	nonce, err := randomToken()
	if err != nil {
		return "", err
	}
	verifier, err := randomToken()
	if err != nil {
		return "", err
	}

	rec, err := m.sessions.Load(ctx, r)
	if err != nil {
		rec, err = m.sessions.Start(ctx, w)
		if err != nil {
			return "", err
		}
	}
	rec.Claims[claimState] = state
	rec.Claims[claimNonce] = nonce
	rec.Claims[claimVerifier] = verifier
	rec.Claims[claimProvider] = provider.ID
	if err := m.sessions.Save(ctx, rec); err != nil {
		return "", err
	}

	authURL := rp.AuthURL(state, client,
		rp.WithCodeChallenge(zoidc.NewSHACodeChallenge(verifier)),
		rp.AuthURLOpt(rp.WithURLParam("nonce", nonce)),
	)
	return authURL, nil
}

// CallbackResult is the outcome of a completed login handshake.
type CallbackResult struct {
	// Principal is the resolved local principal, nil when the external
	// identity could not be matched and auto-registration is off.
	Principal *api.Principal

	// Session is the authenticated (or claims-only) session record.
	Session *session.Record
}

// Callback completes the handshake: it verifies the state against the
// session before touching the provider, exchanges the code with the
// PKCE verifier, checks the nonce, merges userinfo over the ID token
// claims, and resolves the external identity to a local principal.
func (m *Manager) Callback(ctx context.Context, w http.ResponseWriter, r *http.Request) (*CallbackResult, error) {
	rec, err := m.sessions.Load(ctx, r)
	if err != nil {
		return nil, ErrNoHandshake
	}
	state, _ := rec.Claims[claimState].(string)
	nonce, _ := rec.Claims[claimNonce].(string)
	verifier, _ := rec.Claims[claimVerifier].(string)
	providerID, _ := rec.Claims[claimProvider].(string)
	if state == "" || providerID == "" {
		return nil, ErrNoHandshake
	}

	// State is checked before any call to the provider so a forged
	// callback cannot trigger a code exchange.
	if got := r.URL.Query().Get("state"); got != state {
		return nil, ErrStateMismatch
	}

	provider, err := m.providers.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	client, err := m.client(ctx, provider)
	if err != nil {
		return nil, err
	}

	code := r.URL.Query().Get("code")
	tokens, err := rp.CodeExchange[*zoidc.IDTokenClaims](ctx, code, client,
		rp.WithCodeVerifier(verifier))
	if err != nil {
		m.logger.Warn("oidc code exchange failed", "provider", provider.DisplayName, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	idClaims := tokens.IDTokenClaims
	if nonce != "" && idClaims.Nonce != nonce {
		return nil, ErrStateMismatch
	}

	subject := idClaims.Subject
	email := idClaims.Email
	name := idClaims.Name

	// Userinfo is authoritative over the ID token when both carry a
	// claim.
	info, err := rp.Userinfo[*zoidc.UserInfo](ctx, tokens.AccessToken, tokens.TokenType, subject, client)
	if err != nil {
		m.logger.Debug("oidc userinfo fetch failed, using id token claims", "provider", provider.DisplayName, "error", err)
	} else {
		if info.Email != "" {
			email = info.Email
		}
		if info.Name != "" {
			name = info.Name
		}
	}

	principal, err := m.resolvePrincipal(ctx, provider, subject, email, name)
	if err != nil {
		return nil, err
	}

	// Clear the handshake and persist the outcome on the session. A
	// claims-only session records who the provider says this is but
	// never authenticates.
	delete(rec.Claims, claimState)
	delete(rec.Claims, claimNonce)
	delete(rec.Claims, claimVerifier)
	delete(rec.Claims, claimProvider)
	rec.Claims["subject"] = subject
	rec.Claims["email"] = email
	rec.Claims["name"] = name
	rec.Claims["provider"] = provider.ID
	if principal != nil {
		rec.PrincipalID = principal.ID
	}
	if err := m.sessions.Save(ctx, rec); err != nil {
		return nil, err
	}

	return &CallbackResult{Principal: principal, Session: rec}, nil
}

// resolvePrincipal maps an external identity to a local principal:
// first through the stored (provider, subject) link, then by email
// match which creates the link, then by auto-registration when the
// provider allows it. Returns nil when no mapping exists.
func (m *Manager) resolvePrincipal(ctx context.Context, provider *Provider, subject, email, name string) (*api.Principal, error) {
	p, err := m.principals.GetPrincipalByOIDCSubject(ctx, provider.ID, subject)
	if err == nil {
		if !p.Active {
			return nil, nil
		}
		return p, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	if email != "" {
		p, err = m.principals.GetPrincipalByEmail(ctx, email)
		if err == nil {
			if !p.Active {
				return nil, nil
			}
			if err := m.principals.LinkOIDCSubject(ctx, p.ID, provider.ID, subject); err != nil {
				return nil, err
			}
			return p, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}

	if !provider.AutoRegister || email == "" {
		m.logger.Info("oidc identity without local principal",
			"provider", provider.DisplayName, "subject", subject)
		return nil, nil
	}

	p = &api.Principal{
		Email:    email,
		FullName: name,
		Role:     api.RoleUser,
		Active:   true,
	}
	if err := m.principals.CreatePrincipal(ctx, p); err != nil {
		return nil, err
	}
	if err := m.principals.LinkOIDCSubject(ctx, p.ID, provider.ID, subject); err != nil {
		return nil, err
	}
	m.logger.Info("auto-registered principal from oidc login",
		"provider", provider.DisplayName, "principal", p.ID)
	return p, nil
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
