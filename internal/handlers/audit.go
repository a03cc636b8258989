package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/BradenHooton/authcore/internal/models"
	pkghttp "github.com/BradenHooton/authcore/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// AuditTrail reads stored audit events of one account
type AuditTrail interface {
	AccountTrail(ctx context.Context, accountID string, limit int) ([]*models.AuditEvent, error)
}

// AuditHandler handles audit log HTTP requests
type AuditHandler struct {
	trail AuditTrail
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(trail AuditTrail) *AuditHandler {
	return &AuditHandler{trail: trail}
}

// AuditTrailResponse is one page of an account's audit events, newest first
type AuditTrailResponse struct {
	Events []*models.AuditEvent `json:"events"`
	Limit  int                  `json:"limit"`
}

// GetAccountAuditTrail returns recent audit events of an account (admin only)
// @Router /admin/accounts/{id}/audit [get]
func (h *AuditHandler) GetAccountAuditTrail(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(accountID); err != nil {
		pkghttp.WriteBadRequest(w, "invalid account id")
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	events, err := h.trail.AccountTrail(r.Context(), accountID, limit)
	if err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, AuditTrailResponse{Events: events, Limit: limit})
}
