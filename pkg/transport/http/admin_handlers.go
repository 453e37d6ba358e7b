package http

import (
	"net/http"
	"strings"

	"github.com/stridefit/stride/pkg/api"
	"github.com/stridefit/stride/pkg/oidc"
	"github.com/stridefit/stride/pkg/transport"
)

// handleAdminListProviders handles GET /admin/oidc-providers: the full
// provider list including inactive entries. Client secrets never leave
// the server regardless of role.
func (a *Adapter) handleAdminListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := a.deps.Providers.ListProviders(r.Context(), false)
	if err != nil {
		a.logger.Error("listing providers", "error", err)
		transport.WriteAPIError(w, api.NewServerError("internal error"))
		return
	}
	transport.WriteJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

type providerRequest struct {
	DisplayName      string   `json:"display_name"`
	IssuerURL        string   `json:"issuer_url"`
	ClientID         string   `json:"client_id"`
	ClientSecret     string   `json:"client_secret"`
	RedirectURI      string   `json:"redirect_uri"`
	Scopes           []string `json:"scopes"`
	SigningAlgorithm string   `json:"signing_algorithm"`
	AutoRegister     bool     `json:"auto_register"`
	Active           bool     `json:"active"`
}

func (req *providerRequest) validate() *api.APIError {
	if req.DisplayName == "" {
		return api.NewInvalidRequestError("display_name is required")
	}
	if !strings.HasPrefix(req.IssuerURL, "https://") && !strings.HasPrefix(req.IssuerURL, "http://") {
		return api.NewInvalidRequestError("issuer_url must be an absolute URL")
	}
	if req.ClientID == "" {
		return api.NewInvalidRequestError("client_id is required")
	}
	return nil
}

// handleAdminCreateProvider handles POST /admin/oidc-providers.
func (a *Adapter) handleAdminCreateProvider(w http.ResponseWriter, r *http.Request) {
	var req providerRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	if apiErr := req.validate(); apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	p := &oidc.Provider{
		DisplayName:      req.DisplayName,
		IssuerURL:        req.IssuerURL,
		ClientID:         req.ClientID,
		ClientSecret:     req.ClientSecret,
		RedirectURI:      req.RedirectURI,
		Scopes:           req.Scopes,
		SigningAlgorithm: req.SigningAlgorithm,
		AutoRegister:     req.AutoRegister,
		Active:           req.Active,
	}
	if err := a.deps.Providers.CreateProvider(r.Context(), p); err != nil {
		a.logger.Error("creating provider", "error", err)
		writeStoreError(w, err, "provider not found")
		return
	}

	a.logger.Info("provider created", "provider", p.ID, "issuer", p.IssuerURL)
	transport.WriteJSON(w, http.StatusCreated, p)
}

// handleAdminUpdateProvider handles PUT /admin/oidc-providers/{id}. The
// cached relying-party client is invalidated so the next login
// rediscovers with the new settings. An empty client_secret keeps the
// stored one.
func (a *Adapter) handleAdminUpdateProvider(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := a.deps.Providers.GetProvider(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "provider not found")
		return
	}

	var req providerRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	if apiErr := req.validate(); apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	existing.DisplayName = req.DisplayName
	existing.IssuerURL = req.IssuerURL
	existing.ClientID = req.ClientID
	if req.ClientSecret != "" {
		existing.ClientSecret = req.ClientSecret
	}
	existing.RedirectURI = req.RedirectURI
	existing.Scopes = req.Scopes
	existing.SigningAlgorithm = req.SigningAlgorithm
	existing.AutoRegister = req.AutoRegister
	existing.Active = req.Active

	if err := a.deps.Providers.UpdateProvider(r.Context(), existing); err != nil {
		a.logger.Error("updating provider", "error", err)
		writeStoreError(w, err, "provider not found")
		return
	}
	a.deps.OIDC.Invalidate(id)

	a.logger.Info("provider updated", "provider", id)
	transport.WriteJSON(w, http.StatusOK, existing)
}

// handleAdminDeleteProvider handles DELETE /admin/oidc-providers/{id}.
func (a *Adapter) handleAdminDeleteProvider(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.deps.Providers.DeleteProvider(r.Context(), id); err != nil {
		writeStoreError(w, err, "provider not found")
		return
	}
	a.deps.OIDC.Invalidate(id)

	a.logger.Info("provider deleted", "provider", id)
	w.WriteHeader(http.StatusNoContent)
}

type setRoleRequest struct {
	Role api.Role `json:"role"`
}

// handleAdminSetRole handles PUT /admin/principals/{id}/role.
func (a *Adapter) handleAdminSetRole(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req setRoleRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	if !req.Role.Valid() {
		transport.WriteAPIError(w, api.NewInvalidRequestError("role must be user or admin"))
		return
	}

	if err := a.deps.Principals.SetRole(r.Context(), id, req.Role); err != nil {
		writeStoreError(w, err, "account not found")
		return
	}

	a.logger.Info("role changed", "principal", id, "role", req.Role)
	transport.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "role": req.Role})
}
