package http

import (
	"errors"
	"net/http"

	"github.com/stridefit/stride/pkg/api"
	"github.com/stridefit/stride/pkg/oidc"
	"github.com/stridefit/stride/pkg/storage"
	"github.com/stridefit/stride/pkg/transport"
)

// handleListActiveProviders handles GET /openid/providers: the public
// provider list, without client credentials.
func (a *Adapter) handleListActiveProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := a.deps.Providers.ListProviders(r.Context(), true)
	if err != nil {
		a.logger.Error("listing active providers", "error", err)
		transport.WriteAPIError(w, api.NewServerError("internal error"))
		return
	}
	type publicProvider struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
		LoginURL    string `json:"login_url"`
	}
	out := make([]publicProvider, 0, len(providers))
	for _, p := range providers {
		out = append(out, publicProvider{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			LoginURL:    "/openid/login/" + p.ID,
		})
	}
	transport.WriteJSON(w, http.StatusOK, map[string]any{"providers": out})
}

// handleOIDCLogin handles GET /openid/login/{providerID}: it starts the
// handshake and redirects the browser to the provider.
func (a *Adapter) handleOIDCLogin(w http.ResponseWriter, r *http.Request) {
	providerID := r.PathValue("providerID")
	authURL, err := a.deps.OIDC.Begin(r.Context(), w, r, providerID)
	if err != nil {
		a.writeOIDCError(w, err, "starting login")
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleOIDCCallback handles GET /openid/callback. A resolved principal
// gets the signed session token; an unmatched identity keeps a
// claims-only session that authorizes nothing.
func (a *Adapter) handleOIDCCallback(w http.ResponseWriter, r *http.Request) {
	result, err := a.deps.OIDC.Callback(r.Context(), w, r)
	if err != nil {
		a.writeOIDCError(w, err, "completing login")
		return
	}

	if result.Principal != nil {
		token, err := a.deps.SessionTokens.Issue(result.Principal.ID)
		if err != nil {
			a.logger.Error("issuing session token after callback", "error", err)
			transport.WriteAPIError(w, api.NewServerError("internal error"))
			return
		}
		http.SetCookie(w, a.deps.SessionTokens.Cookie(token, 0))
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

// handleOIDCMe handles GET /openid/api/me: the external identity claims
// held by the current session, resolved or not. Unlike /api/me this
// route works for claims-only sessions, so the login page can show who
// the provider says the visitor is before an account exists.
func (a *Adapter) handleOIDCMe(w http.ResponseWriter, r *http.Request) {
	rec, err := a.deps.Sessions.Load(r.Context(), r)
	if err != nil {
		transport.WriteAPIError(w, api.NewUnauthorizedError())
		return
	}
	transport.WriteJSON(w, http.StatusOK, map[string]any{
		"principal_id": rec.PrincipalID,
		"claims":       rec.Claims,
	})
}

// writeOIDCError maps handshake errors onto the API taxonomy.
func (a *Adapter) writeOIDCError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		transport.WriteAPIError(w, api.NewNotFoundError("unknown or inactive provider"))
	case errors.Is(err, oidc.ErrProviderUnavailable):
		a.logger.Error(op, "error", err)
		transport.WriteAPIError(w, api.NewProviderUnavailableError("identity provider unavailable"))
	case errors.Is(err, oidc.ErrStateMismatch), errors.Is(err, oidc.ErrNoHandshake):
		a.logger.Warn(op, "error", err)
		transport.WriteAPIError(w, api.NewInvalidRequestError("login handshake invalid or expired"))
	default:
		a.logger.Error(op, "error", err)
		transport.WriteAPIError(w, api.NewServerError("internal error"))
	}
}
