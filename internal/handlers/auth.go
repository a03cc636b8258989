package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/BradenHooton/authcore/internal/auth"
	"github.com/BradenHooton/authcore/internal/models"
	"github.com/BradenHooton/authcore/internal/services"
	pkghttp "github.com/BradenHooton/authcore/pkg/http"
)

// FingerprintHeader carries the optional client device fingerprint
const FingerprintHeader = "X-Device-Fingerprint"

const maxBodyBytes = 16 << 10

// AuthFacade is the auth core as seen by the HTTP layer
type AuthFacade interface {
	Register(ctx context.Context, in services.RegisterInput, meta services.RequestMeta) (*services.AuthResult, error)
	Login(ctx context.Context, in services.LoginInput, meta services.RequestMeta) (*services.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string, meta services.RequestMeta) (*services.SessionBundle, error)
	Logout(ctx context.Context, caller services.Caller, meta services.RequestMeta) error
	LogoutAllDevices(ctx context.Context, caller services.Caller, meta services.RequestMeta) (int, error)
	GetCurrentUser(ctx context.Context, caller services.Caller, meta services.RequestMeta) (*models.AccountProfile, error)
	RequestPasswordReset(ctx context.Context, email string, meta services.RequestMeta) error
	ConfirmPasswordReset(ctx context.Context, token, newPassword string, meta services.RequestMeta) error
	ChangePassword(ctx context.Context, caller services.Caller, currentPassword, newPassword string, meta services.RequestMeta) error
	VerifyEmail(ctx context.Context, token string, meta services.RequestMeta) (*models.AccountProfile, error)
	ResendVerification(ctx context.Context, email string, meta services.RequestMeta) error
	ListSessions(ctx context.Context, caller services.Caller, meta services.RequestMeta) ([]models.SessionInfo, error)
	RevokeSession(ctx context.Context, caller services.Caller, sessionID string, meta services.RequestMeta) error
	IssueCSRFToken(ctx context.Context, caller services.Caller, meta services.RequestMeta) (string, time.Time, error)
	AdminRevokeAccountSessions(ctx context.Context, caller services.Caller, accountID string, meta services.RequestMeta) (int, error)
	AdminSoftDeleteAccount(ctx context.Context, caller services.Caller, accountID string, meta services.RequestMeta) (int, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service AuthFacade
	cookies auth.CookieConfig
	ips     *pkghttp.IPExtractor
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthFacade, cookies auth.CookieConfig, ips *pkghttp.IPExtractor) *AuthHandler {
	return &AuthHandler{
		service: service,
		cookies: cookies,
		ips:     ips,
	}
}

// Request DTOs

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email      string `json:"email" validate:"required,email,max=254"`
	Password   string `json:"password" validate:"required,max=1024"`
	RememberMe bool   `json:"remember_me"`
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email      string `json:"email" validate:"required,max=254"`
	Password   string `json:"password" validate:"required,max=1024"`
	RememberMe bool   `json:"remember_me"`
}

// RefreshRequest lets non-browser clients send the refresh token in the body
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"max=4096"`
}

// EmailRequest is the body of reset requests and verification resends
type EmailRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// ConfirmResetRequest represents the request body for completing a reset
type ConfirmResetRequest struct {
	Token       string `json:"token" validate:"required,max=512"`
	NewPassword string `json:"new_password" validate:"required,max=1024"`
}

// ChangePasswordRequest represents the request body for a password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required,max=1024"`
	NewPassword     string `json:"new_password" validate:"required,max=1024"`
}

// VerifyEmailRequest represents the request body for email verification
type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required,max=512"`
}

// Response DTOs

// SessionResponse is returned whenever a session is opened or rotated
type SessionResponse struct {
	Account         *models.AccountProfile `json:"account,omitempty"`
	AccessToken     string                 `json:"access_token"`
	TokenType       string                 `json:"token_type"`
	AccessExpiresAt time.Time              `json:"access_expires_at"`
	SessionID       string                 `json:"session_id"`
	SessionExpires  time.Time              `json:"session_expires_at"`
	CSRFToken       string                 `json:"csrf_token"`
}

// SecondFactorResponse is returned when the password was right but a second
// factor is still required
type SecondFactorResponse struct {
	RequiresSecondFactor bool   `json:"requires_second_factor"`
	AccountID            string `json:"account_id"`
}

// MessageResponse carries a fixed, non-revealing message
type MessageResponse struct {
	Message string `json:"message"`
}

// RevokedResponse reports how many sessions were revoked
type RevokedResponse struct {
	Revoked int `json:"revoked"`
}

// CSRFTokenResponse carries a freshly issued CSRF token
type CSRFTokenResponse struct {
	CSRFToken string    `json:"csrf_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// meta collects the transport metadata every facade call records
func (h *AuthHandler) meta(r *http.Request) services.RequestMeta {
	return services.RequestMeta{
		IPAddress:   h.ips.ClientIP(r),
		UserAgent:   pkghttp.UserAgent(r),
		Fingerprint: strings.TrimSpace(r.Header.Get(FingerprintHeader)),
	}
}

// caller builds the principal from access-token claims set by AuthMiddleware
func caller(r *http.Request) (services.Caller, bool) {
	claims := auth.GetClaimsFromContext(r)
	if claims == nil {
		return services.Caller{}, false
	}
	return services.Caller{AccountID: claims.AccountID, SessionID: claims.SessionID, Role: claims.Role}, true
}

// decode reads and validates a JSON body, writing the error response itself
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := pkghttp.DecodeJSON(w, r, dst, maxBodyBytes); err != nil {
		if errors.Is(err, pkghttp.ErrBodyTooLarge) {
			pkghttp.WriteError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
			return false
		}
		pkghttp.WriteBadRequest(w, "invalid request body")
		return false
	}
	if err := ValidateRequest(dst); err != nil {
		pkghttp.WriteAuthError(w, err)
		return false
	}
	return true
}

// writeSession sets the session cookies and writes the token response
func (h *AuthHandler) writeSession(w http.ResponseWriter, status int, account *models.AccountProfile, b *services.SessionBundle) {
	auth.SetRefreshTokenCookie(w, b.RefreshToken, b.Session.ExpiresAt, h.cookies)
	auth.SetCSRFTokenCookie(w, b.CSRFToken, b.CSRFExpiresAt, h.cookies)
	w.Header().Set(auth.CSRFTokenHeader, b.CSRFToken)

	pkghttp.WriteJSON(w, status, SessionResponse{
		Account:         account,
		AccessToken:     b.AccessToken,
		TokenType:       "Bearer",
		AccessExpiresAt: b.AccessExpiresAt,
		SessionID:       b.Session.ID,
		SessionExpires:  b.Session.ExpiresAt,
		CSRFToken:       b.CSRFToken,
	})
}

// Register handles account registration
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.service.Register(r.Context(), services.RegisterInput{
		Email:      req.Email,
		Password:   req.Password,
		RememberMe: req.RememberMe,
	}, h.meta(r))
	if err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}

	h.writeSession(w, http.StatusCreated, res.Account, res.Session)
}

// Login handles email and password login
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.service.Login(r.Context(), services.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		RememberMe: req.RememberMe,
	}, h.meta(r))
	if err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}

	if res.RequiresSecondFactor {
		pkghttp.WriteJSON(w, http.StatusAccepted, SecondFactorResponse{RequiresSecondFactor: true, AccountID: res.AccountID})
		return
	}
	h.writeSession(w, http.StatusOK, res.Account, res.Session)
}

// Refresh rotates the session named by the refresh cookie or body
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token, _ := auth.GetRefreshTokenCookie(r)
	if token == "" && r.ContentLength != 0 {
		var req RefreshRequest
		if !decode(w, r, &req) {
			return
		}
		token = req.RefreshToken
	}

	bundle, err := h.service.Refresh(r.Context(), token, h.meta(r))
	if err != nil {
		if errors.Is(err, models.ErrAuthentication) {
			auth.ClearSessionCookies(w, h.cookies)
		}
		pkghttp.WriteAuthError(w, err)
		return
	}

	h.writeSession(w, http.StatusOK, nil, bundle)
}

// Logout revokes the current session
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(r)
	if !ok {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	err := h.service.Logout(r.Context(), c, h.meta(r))
	auth.ClearSessionCookies(w, h.cookies)
	w.Header().Del(auth.CSRFTokenHeader)
	if err != nil && !errors.Is(err, models.ErrSessionInvalid) {
		pkghttp.WriteAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll revokes every session of the caller
// @Router /auth/logout-all [post]
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(r)
	if !ok {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	n, err := h.service.LogoutAllDevices(r.Context(), c, h.meta(r))
	if err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}
	auth.ClearSessionCookies(w, h.cookies)
	w.Header().Del(auth.CSRFTokenHeader)
	pkghttp.WriteJSON(w, http.StatusOK, RevokedResponse{Revoked: n})
}

// Me returns the caller's profile
// @Router /auth/me [get]
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(r)
	if !ok {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	profile, err := h.service.GetCurrentUser(r.Context(), c, h.meta(r))
	if err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, profile)
}

// RequestPasswordReset always answers 202 so it cannot reveal accounts
// @Router /auth/password-reset/request [post]
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), req.Email, h.meta(r)); err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{
		Message: "If an account exists for that email, a reset link has been sent.",
	})
}

// ConfirmPasswordReset sets a new password from an emailed token
// @Router /auth/password-reset/confirm [post]
func (h *AuthHandler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req ConfirmResetRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.service.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword, h.meta(r)); err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}
	auth.ClearSessionCookies(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}

// ChangePassword changes the caller's password and revokes their other sessions
// @Router /auth/password/change [post]
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(r)
	if !ok {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}
	var req ChangePasswordRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), c, req.CurrentPassword, req.NewPassword, h.meta(r)); err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// VerifyEmail consumes an emailed verification token
// @Router /auth/verify-email [post]
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if !decode(w, r, &req) {
		return
	}

	profile, err := h.service.VerifyEmail(r.Context(), req.Token, h.meta(r))
	if err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, profile)
}

// ResendVerification always answers 202 so it cannot reveal accounts
// @Router /auth/resend-verification [post]
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.service.ResendVerification(r.Context(), req.Email, h.meta(r)); err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{
		Message: "If the account exists and is unverified, a new link has been sent.",
	})
}

// CSRFToken issues a fresh CSRF token for the caller's session
// @Router /auth/csrf-token [get]
func (h *AuthHandler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(r)
	if !ok {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	token, expiresAt, err := h.service.IssueCSRFToken(r.Context(), c, h.meta(r))
	if err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}
	auth.SetCSRFTokenCookie(w, token, expiresAt, h.cookies)
	w.Header().Set(auth.CSRFTokenHeader, token)
	pkghttp.WriteJSON(w, http.StatusOK, CSRFTokenResponse{CSRFToken: token, ExpiresAt: expiresAt})
}
