package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/stridefit/stride/pkg/api"
	"github.com/stridefit/stride/pkg/auth"
	"github.com/stridefit/stride/pkg/auth/challenge"
	"github.com/stridefit/stride/pkg/storage"
	"github.com/stridefit/stride/pkg/transport"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string         `json:"token,omitempty"`
	Principal *api.Principal `json:"principal,omitempty"`

	MFARequired    bool   `json:"mfa_required,omitempty"`
	ChallengeToken string `json:"challenge_token,omitempty"`
}

// handleLogin handles POST /auth/login. A principal with MFA enabled
// gets a short-lived challenge token instead of the session token; the
// real token is issued by the verify endpoint. All credential failures
// collapse into the same generic unauthorized response.
func (a *Adapter) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		transport.WriteAPIError(w, api.NewInvalidRequestError("email and password are required"))
		return
	}

	p, err := a.deps.Principals.GetPrincipalByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Burn a comparison anyway so unknown emails cost the same
			// as wrong passwords.
			bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000000000000000000000000000000000"), []byte(req.Password))
			transport.WriteAPIError(w, api.NewUnauthorizedError())
			return
		}
		transport.WriteAPIError(w, api.NewServerError("internal error"))
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(req.Password)); err != nil {
		transport.WriteAPIError(w, api.NewUnauthorizedError())
		return
	}
	if !p.Active {
		transport.WriteAPIError(w, api.NewUnauthorizedError())
		return
	}

	if p.MFAEnabled {
		token, err := a.deps.Challenges.Issue(p.ID)
		if err != nil {
			a.logger.Error("issuing challenge token", "error", err)
			transport.WriteAPIError(w, api.NewServerError("internal error"))
			return
		}
		transport.WriteJSON(w, http.StatusOK, loginResponse{
			MFARequired:    true,
			ChallengeToken: token,
		})
		return
	}

	a.completeLogin(w, r, p)
}

// completeLogin issues the signed session token and starts the server
// session for a verified principal.
func (a *Adapter) completeLogin(w http.ResponseWriter, r *http.Request, p *api.Principal) {
	token, err := a.deps.SessionTokens.Issue(p.ID)
	if err != nil {
		a.logger.Error("issuing session token", "error", err)
		transport.WriteAPIError(w, api.NewServerError("internal error"))
		return
	}
	http.SetCookie(w, a.deps.SessionTokens.Cookie(token, 0))

	rec, err := a.deps.Sessions.Start(r.Context(), w)
	if err != nil {
		a.logger.Error("starting server session", "error", err)
		transport.WriteAPIError(w, api.NewServerError("internal error"))
		return
	}
	rec.PrincipalID = p.ID
	rec.Claims["email"] = p.Email
	if err := a.deps.Sessions.Save(r.Context(), rec); err != nil {
		a.logger.Error("saving server session", "error", err)
		transport.WriteAPIError(w, api.NewServerError("internal error"))
		return
	}

	a.logger.Info("login succeeded", "principal", p.ID)
	transport.WriteJSON(w, http.StatusOK, loginResponse{Token: token, Principal: p})
}

type mfaVerifyRequest struct {
	Code string `json:"code"`
}

// handleMFAVerify handles POST /auth/mfa/verify. The caller presents
// the challenge token from login in the X-Challenge-Token header plus
// the one-time code; success issues the real session token.
func (a *Adapter) handleMFAVerify(w http.ResponseWriter, r *http.Request) {
	result := a.deps.Challenges.Authenticate(r.Context(), r)
	if result.Decision != auth.Yes {
		transport.WriteAPIError(w, api.NewUnauthorizedError())
		return
	}

	var req mfaVerifyRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}

	p, err := a.deps.Principals.GetPrincipal(r.Context(), result.Identity.Subject)
	if err != nil || !p.Active {
		transport.WriteAPIError(w, api.NewUnauthorizedError())
		return
	}

	if p.MFASecret == "" || !totp.Validate(req.Code, p.MFASecret) {
		a.logger.Warn("mfa verification failed", "principal", p.ID)
		transport.WriteAPIError(w, api.NewUnauthorizedError())
		return
	}

	a.completeLogin(w, r, p)
}

// handleLogout handles POST /auth/logout: the server session is deleted
// and both cookies cleared. The signed token itself stays valid until
// expiry; clearing the cookie is what ends the browser session.
func (a *Adapter) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Sessions.End(r.Context(), w, r); err != nil {
		a.logger.Error("ending session", "error", err)
	}
	http.SetCookie(w, a.deps.SessionTokens.Cookie("", -1))
	w.WriteHeader(http.StatusNoContent)
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// handleRegister handles POST /auth/register.
func (a *Adapter) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		transport.WriteAPIError(w, api.NewInvalidRequestError("a valid email is required"))
		return
	}
	if len(req.Password) < 8 {
		transport.WriteAPIError(w, api.NewInvalidRequestError("password must be at least 8 characters"))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		transport.WriteAPIError(w, api.NewServerError("internal error"))
		return
	}

	p := &api.Principal{
		Email:        req.Email,
		FullName:     req.FullName,
		Role:         api.RoleUser,
		Active:       true,
		PasswordHash: string(hash),
	}
	if err := a.deps.Principals.CreatePrincipal(r.Context(), p); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("an account with this email already exists"),
				http.StatusConflict)
			return
		}
		a.logger.Error("creating principal", "error", err)
		transport.WriteAPIError(w, api.NewServerError("internal error"))
		return
	}

	a.logger.Info("principal registered", "principal", p.ID)
	transport.WriteJSON(w, http.StatusCreated, p)
}

// handleAuthSettings handles GET /auth/settings: the public description
// of available login methods, consumed by the login page before any
// authentication.
func (a *Adapter) handleAuthSettings(w http.ResponseWriter, r *http.Request) {
	type providerSummary struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	}
	providers, err := a.deps.Providers.ListProviders(r.Context(), true)
	if err != nil {
		a.logger.Error("listing providers for settings", "error", err)
		transport.WriteAPIError(w, api.NewServerError("internal error"))
		return
	}
	summaries := make([]providerSummary, 0, len(providers))
	for _, p := range providers {
		summaries = append(summaries, providerSummary{ID: p.ID, DisplayName: p.DisplayName})
	}
	transport.WriteJSON(w, http.StatusOK, map[string]any{
		"email_login_enabled": true,
		"oidc_providers":      summaries,
	})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// handleForgotPassword handles POST /auth/forgot-password. The response
// is identical whether or not the email is known, so the endpoint
// cannot be used to enumerate accounts.
func (a *Adapter) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}

	p, err := a.deps.Principals.GetPrincipalByEmail(r.Context(), req.Email)
	if err == nil && p.Active {
		token, issueErr := a.deps.Resets.Issue(p.ID)
		if issueErr != nil {
			a.logger.Error("issuing reset token", "error", issueErr)
		} else if a.deps.ResetDelivery != nil {
			a.deps.ResetDelivery(p.Email, token)
		} else {
			a.logger.Warn("password reset requested but no delivery configured", "principal", p.ID)
		}
	}

	transport.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "if the account exists, a reset link has been sent",
	})
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// handleResetPassword handles POST /auth/reset-password.
func (a *Adapter) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	if len(req.NewPassword) < 8 {
		transport.WriteAPIError(w, api.NewInvalidRequestError("password must be at least 8 characters"))
		return
	}

	principalID, err := a.deps.Resets.Verify(req.Token)
	if err != nil {
		transport.WriteAPIError(w, api.NewUnauthorizedError())
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		transport.WriteAPIError(w, api.NewServerError("internal error"))
		return
	}
	if err := a.deps.Principals.UpdatePassword(r.Context(), principalID, string(hash)); err != nil {
		writeStoreError(w, err, "account not found")
		return
	}

	a.logger.Info("password reset", "principal", principalID)
	transport.WriteJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

// handleMe handles GET /api/me for gateway-authenticated requests.
func (a *Adapter) handleMe(w http.ResponseWriter, r *http.Request) {
	acting, ok := auth.ActingFromContext(r.Context())
	if !ok {
		transport.WriteAPIError(w, api.NewUnauthorizedError())
		return
	}
	p, err := a.deps.Principals.GetPrincipal(r.Context(), acting.AuthenticatedID)
	if err != nil {
		writeStoreError(w, err, "account not found")
		return
	}
	transport.WriteJSON(w, http.StatusOK, map[string]any{
		"principal": p,
		"acting":    acting,
	})
}

// ChallengePurposeReset is the purpose tag for password reset tokens.
// It lives here so both the adapter wiring and tests construct the
// reset verifier identically.
const ChallengePurposeReset = "password_reset"

// NewResetVerifier builds the challenge verifier for password reset
// tokens: same signing secret, distinct purpose, honored only on the
// reset route.
func NewResetVerifier(secret []byte) *challenge.Authenticator {
	return challenge.New(challenge.Config{
		Secret:        secret,
		Purpose:       ChallengePurposeReset,
		RoutePrefixes: []string{"/auth/reset-password"},
	})
}
