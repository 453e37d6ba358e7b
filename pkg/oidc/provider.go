package oidc

import (
	"context"
	"time"
)

// Provider is an admin-configured OpenID Connect provider.
type Provider struct {
	ID               string    `json:"id"`
	DisplayName      string    `json:"display_name"`
	IssuerURL        string    `json:"issuer_url"`
	ClientID         string    `json:"client_id"`
	ClientSecret     string    `json:"-"`
	RedirectURI      string    `json:"redirect_uri,omitempty"`
	Scopes           []string  `json:"scopes"`
	SigningAlgorithm string    `json:"signing_algorithm"`
	AutoRegister     bool      `json:"auto_register"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ProviderStore persists provider configurations. Providers are
// administrative records and live outside any tenant context.
type ProviderStore interface {
	GetProvider(ctx context.Context, id string) (*Provider, error)
	ListProviders(ctx context.Context, activeOnly bool) ([]Provider, error)
	CreateProvider(ctx context.Context, p *Provider) error
	UpdateProvider(ctx context.Context, p *Provider) error
	DeleteProvider(ctx context.Context, id string) error
}
