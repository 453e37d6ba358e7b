package http

import (
	"errors"
	"net/http"

	"github.com/stridefit/stride/pkg/access"
	"github.com/stridefit/stride/pkg/api"
	"github.com/stridefit/stride/pkg/auth"
	"github.com/stridefit/stride/pkg/storage"
	"github.com/stridefit/stride/pkg/transport"
)

// handleListGrants handles GET /access/grants: grants the caller has
// given, plus grants given to the caller.
func (a *Adapter) handleListGrants(w http.ResponseWriter, r *http.Request) {
	acting, ok := auth.ActingFromContext(r.Context())
	if !ok {
		transport.WriteAPIError(w, api.NewUnauthorizedError())
		return
	}

	given, err := a.deps.Grants.ListGrantsByGrantor(r.Context(), acting.AuthenticatedID)
	if err != nil {
		a.logger.Error("listing grants by grantor", "error", err)
		transport.WriteAPIError(w, api.NewServerError("internal error"))
		return
	}
	received, err := a.deps.Grants.ListGrantsForGrantee(r.Context(), acting.AuthenticatedID)
	if err != nil {
		a.logger.Error("listing grants for grantee", "error", err)
		transport.WriteAPIError(w, api.NewServerError("internal error"))
		return
	}

	transport.WriteJSON(w, http.StatusOK, map[string]any{
		"given":    given,
		"received": received,
	})
}

type createGrantRequest struct {
	GranteeID    string   `json:"grantee_id"`
	GranteeEmail string   `json:"grantee_email"`
	Permissions  []string `json:"permissions"`
}

// handleCreateGrant handles POST /access/grants. The grantor is always
// the authenticated principal; a grant can only ever be created for
// one's own data.
func (a *Adapter) handleCreateGrant(w http.ResponseWriter, r *http.Request) {
	acting, ok := auth.ActingFromContext(r.Context())
	if !ok {
		transport.WriteAPIError(w, api.NewUnauthorizedError())
		return
	}

	var req createGrantRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	if len(req.Permissions) == 0 {
		transport.WriteAPIError(w, api.NewInvalidRequestError("permissions must not be empty"))
		return
	}

	perms := make(map[api.Permission]bool, len(req.Permissions))
	for _, p := range req.Permissions {
		perms[api.Permission(p)] = true
	}

	granteeID := req.GranteeID
	if granteeID == "" && req.GranteeEmail != "" {
		p, err := a.deps.Principals.GetPrincipalByEmail(r.Context(), req.GranteeEmail)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				transport.WriteAPIError(w, api.NewNotFoundError("no account with that email"))
				return
			}
			transport.WriteAPIError(w, api.NewServerError("internal error"))
			return
		}
		granteeID = p.ID
	}
	if granteeID == "" {
		transport.WriteAPIError(w, api.NewInvalidRequestError("grantee_id or grantee_email is required"))
		return
	}
	if granteeID == acting.AuthenticatedID {
		transport.WriteAPIError(w, api.NewInvalidRequestError("cannot grant access to yourself"))
		return
	}

	g := &access.Grant{
		GrantorID:   acting.AuthenticatedID,
		GranteeID:   granteeID,
		Permissions: perms,
		Active:      true,
	}
	if err := a.deps.Grants.CreateGrant(r.Context(), g); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("a grant for this principal already exists"),
				http.StatusConflict)
			return
		}
		a.logger.Error("creating grant", "error", err)
		transport.WriteAPIError(w, api.NewServerError("internal error"))
		return
	}

	a.logger.Info("grant created",
		"grantor", g.GrantorID,
		"grantee", g.GranteeID,
	)
	transport.WriteJSON(w, http.StatusCreated, g)
}

// handleDeleteGrant handles DELETE /access/grants/{id}. Revocation is
// scoped to the authenticated principal's own grants; an unknown or
// foreign id reads as not found.
func (a *Adapter) handleDeleteGrant(w http.ResponseWriter, r *http.Request) {
	acting, ok := auth.ActingFromContext(r.Context())
	if !ok {
		transport.WriteAPIError(w, api.NewUnauthorizedError())
		return
	}

	id := r.PathValue("id")
	if err := a.deps.Grants.DeleteGrant(r.Context(), id, acting.AuthenticatedID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			transport.WriteAPIError(w, api.NewNotFoundError("grant not found"))
			return
		}
		a.logger.Error("deleting grant", "error", err)
		transport.WriteAPIError(w, api.NewServerError("internal error"))
		return
	}

	a.logger.Info("grant revoked", "grant", id, "grantor", acting.AuthenticatedID)
	w.WriteHeader(http.StatusNoContent)
}
