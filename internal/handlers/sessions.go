package handlers

import (
	"net/http"

	"github.com/BradenHooton/authcore/internal/auth"
	"github.com/BradenHooton/authcore/internal/models"
	pkghttp "github.com/BradenHooton/authcore/pkg/http"
	"github.com/go-chi/chi/v5"
)

// SessionListResponse wraps the caller's sessions
type SessionListResponse struct {
	Sessions []models.SessionInfo `json:"sessions"`
}

// ListSessions returns every session of the caller
// @Router /auth/sessions [get]
func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(r)
	if !ok {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	list, err := h.service.ListSessions(r.Context(), c, h.meta(r))
	if err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, SessionListResponse{Sessions: list})
}

// RevokeSession revokes one of the caller's sessions
// @Router /auth/sessions/{id} [delete]
func (h *AuthHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(r)
	if !ok {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	sessionID := chi.URLParam(r, "id")
	if err := h.service.RevokeSession(r.Context(), c, sessionID, h.meta(r)); err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}
	if sessionID == c.SessionID {
		auth.ClearSessionCookies(w, h.cookies)
		w.Header().Del(auth.CSRFTokenHeader)
	}
	w.WriteHeader(http.StatusNoContent)
}

// AdminRevokeSessions revokes every session of the account in the path
// @Router /admin/accounts/{id}/revoke-sessions [post]
func (h *AuthHandler) AdminRevokeSessions(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(r)
	if !ok {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	n, err := h.service.AdminRevokeAccountSessions(r.Context(), c, chi.URLParam(r, "id"), h.meta(r))
	if err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, RevokedResponse{Revoked: n})
}

// AdminDeleteAccount soft-deletes the account in the path and revokes its sessions
// @Router /admin/accounts/{id} [delete]
func (h *AuthHandler) AdminDeleteAccount(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(r)
	if !ok {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	if _, err := h.service.AdminSoftDeleteAccount(r.Context(), c, chi.URLParam(r, "id"), h.meta(r)); err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
