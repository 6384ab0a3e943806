package rest

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/dmitrijs2005/leadcrm/internal/common"
	"github.com/dmitrijs2005/leadcrm/internal/server/metrics"
)

type signupRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=6,maxbytes=72"`
	Name     string `json:"name" validate:"omitempty,max=100"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=6,maxbytes=72"`
}

type revokedResponse struct {
	Revoked int64 `json:"revoked"`
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	user, linked, err := h.users.CreateUser(r.Context(), req.Email, req.Password, req.Name)
	h.metrics.AuthEvent(metrics.EventSignup, err)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if !linked && user.VerificationToken != nil {
		if err := h.notifier.SendVerification(r.Context(), user.Email, user.Name, *user.VerificationToken); err != nil {
			h.logger.Error(r.Context(), "failed to send verification email", "user_id", user.ID, "err", err)
		}
	}

	pair, err := h.tokens.GenerateTokens(r.Context(), user.ID, user.Email)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.setRefreshCookie(w, pair.RefreshToken)

	message := "User registered successfully"
	if linked {
		message = "Password added to existing account"
	}
	respondOK(w, http.StatusCreated, message, authResponse{User: newUserResponse(user), AccessToken: pair.AccessToken})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	user, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	h.metrics.AuthEvent(metrics.EventLogin, err)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	pair, err := h.tokens.GenerateTokens(r.Context(), user.ID, user.Email)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.setRefreshCookie(w, pair.RefreshToken)

	respondOK(w, http.StatusOK, "Login successful", authResponse{User: newUserResponse(user), AccessToken: pair.AccessToken})
}

// presentedRefreshToken reads the refresh token from the cookie, falling back
// to a JSON body for non-browser clients.
func presentedRefreshToken(r *http.Request) string {
	if token := cookieValue(r, common.RefreshTokenCookieName); token != "" {
		return token
	}
	if r.Body == nil || r.ContentLength == 0 {
		return ""
	}
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		return ""
	}
	return req.RefreshToken
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := presentedRefreshToken(r)
	if token == "" {
		h.metrics.AuthEvent(metrics.EventRefresh, common.ErrAuthentication)
		h.clearRefreshCookie(w)
		h.respondError(w, r, common.AuthenticationError("Refresh token required"))
		return
	}

	pair, err := h.tokens.RotateRefreshToken(r.Context(), token)
	h.metrics.AuthEvent(metrics.EventRefresh, err)
	if err != nil {
		h.clearRefreshCookie(w)
		h.respondError(w, r, err)
		return
	}
	h.setRefreshCookie(w, pair.RefreshToken)

	respondOK(w, http.StatusOK, "Token refreshed", map[string]string{"accessToken": pair.AccessToken})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := presentedRefreshToken(r)

	err := h.tokens.RevokeRefreshToken(r.Context(), token)
	h.metrics.AuthEvent(metrics.EventLogout, err)
	h.clearRefreshCookie(w)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondOK(w, http.StatusOK, "Logged out successfully", nil)
}

func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := mustClaims(r.Context())

	n, err := h.tokens.RevokeAllUserTokens(r.Context(), claims.UserID)
	h.metrics.AuthEvent(metrics.EventRevokeSessions, err)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.clearRefreshCookie(w)

	respondOK(w, http.StatusOK, "Logged out from all devices", revokedResponse{Revoked: n})
}

func (h *Handler) LogoutOtherDevices(w http.ResponseWriter, r *http.Request) {
	claims := mustClaims(r.Context())

	keep := presentedRefreshToken(r)
	if keep == "" {
		h.respondError(w, r, common.ValidationError("Refresh token required"))
		return
	}

	n, err := h.tokens.RevokeOtherUserTokens(r.Context(), claims.UserID, keep)
	h.metrics.AuthEvent(metrics.EventRevokeSessions, err)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondOK(w, http.StatusOK, "Logged out from other devices", revokedResponse{Revoked: n})
}

func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.UpdateUserVerification(r.Context(), r.URL.Query().Get("token"))
	h.metrics.AuthEvent(metrics.EventVerifyEmail, err)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondOK(w, http.StatusOK, "Email verified successfully", newUserResponse(user))
}

func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	claims := mustClaims(r.Context())

	user, token, err := h.users.RegenerateVerificationToken(r.Context(), claims.UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if err := h.notifier.SendVerification(r.Context(), user.Email, user.Name, token); err != nil {
		h.respondError(w, r, err)
		return
	}

	respondOK(w, http.StatusOK, "Verification email sent", nil)
}

// RequestPasswordReset answers the same way whether or not the account exists.
func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	const message = "If an account with that email exists, a password reset link has been sent"

	user, token, err := h.users.SetResetToken(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			respondOK(w, http.StatusOK, message, nil)
			return
		}
		h.respondError(w, r, err)
		return
	}

	if err := h.notifier.SendPasswordReset(r.Context(), user.Email, user.Name, token); err != nil {
		h.logger.Error(r.Context(), "failed to send password reset email", "user_id", user.ID, "err", err)
	}

	respondOK(w, http.StatusOK, message, nil)
}

// ResetPassword sets a new password and ends every session of the account.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	user, err := h.users.ResetUserPassword(r.Context(), req.Token, req.Password)
	h.metrics.AuthEvent(metrics.EventPasswordReset, err)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if _, err := h.tokens.RevokeAllUserTokens(r.Context(), user.ID); err != nil {
		h.logger.Error(r.Context(), "failed to revoke sessions after password reset", "user_id", user.ID, "err", err)
	}
	h.clearRefreshCookie(w)

	respondOK(w, http.StatusOK, "Password reset successfully", nil)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claims := mustClaims(r.Context())

	user, err := h.users.GetUser(r.Context(), claims.UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondOK(w, http.StatusOK, "", newUserResponse(user))
}

func (h *Handler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := common.MakeRandHexString(16)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.setOAuthStateCookie(w, state)

	http.Redirect(w, r, h.oauth.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallback finishes the OAuth flow and sends the browser back to the
// frontend, which then obtains an access token through /auth/refresh.
func (h *Handler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	expected := cookieValue(r, oauthStateCookieName)
	h.clearOAuthStateCookie(w)

	if q.Get("error") != "" {
		h.redirectToFrontend(w, r, "oauth_denied")
		return
	}
	if expected == "" || q.Get("state") != expected {
		h.metrics.AuthEvent(metrics.EventOAuthLogin, common.ErrAuthentication)
		h.logger.Warn(r.Context(), "oauth state mismatch")
		h.redirectToFrontend(w, r, "oauth_state")
		return
	}

	user, pair, err := h.oauth.Login(r.Context(), q.Get("code"))
	h.metrics.AuthEvent(metrics.EventOAuthLogin, err)
	if err != nil {
		h.logger.Warn(r.Context(), "oauth login failed", "err", err)
		h.redirectToFrontend(w, r, "oauth_failed")
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken)
	h.logger.Info(r.Context(), "oauth login", "user_id", user.ID)
	h.redirectToFrontend(w, r, "")
}

func (h *Handler) redirectToFrontend(w http.ResponseWriter, r *http.Request, errCode string) {
	target := h.config.FrontendURL + "/auth/callback"
	if errCode != "" {
		target += "?error=" + url.QueryEscape(errCode)
	}
	http.Redirect(w, r, target, http.StatusFound)
}
