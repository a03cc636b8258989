package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/authcore/internal/models"
	pkgauth "github.com/BradenHooton/authcore/pkg/auth"
)

// CSRFStore persists CSRF token hashes. ConsumeCSRFToken must flip the used
// flag in the same operation that reports success.
type CSRFStore interface {
	CreateCSRFToken(ctx context.Context, token *models.CSRFToken) error
	ConsumeCSRFToken(ctx context.Context, tokenHash, sessionID string, now time.Time) (bool, error)
	DeleteCSRFTokensForSessions(ctx context.Context, sessionIDs []string) error
	DeleteExpiredCSRFTokens(ctx context.Context, before time.Time) (int64, error)
}

// CSRFTokenManager issues and consumes single-use tokens bound to a session
type CSRFTokenManager struct {
	store    CSRFStore
	tokenTTL time.Duration
	now      func() time.Time
}

// NewCSRFTokenManager creates a new CSRF token manager
func NewCSRFTokenManager(store CSRFStore, tokenTTL time.Duration) *CSRFTokenManager {
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	return &CSRFTokenManager{
		store:    store,
		tokenTTL: tokenTTL,
		now:      time.Now,
	}
}

// Issue creates a token for sessionID. Its expiry never outlives the session.
func (m *CSRFTokenManager) Issue(ctx context.Context, sessionID string, sessionExpiresAt time.Time) (string, time.Time, error) {
	if sessionID == "" {
		return "", time.Time{}, errors.New("session id is required")
	}

	raw, err := pkgauth.GenerateToken()
	if err != nil {
		return "", time.Time{}, err
	}

	now := m.now()
	expiresAt := now.Add(m.tokenTTL)
	if !sessionExpiresAt.IsZero() && sessionExpiresAt.Before(expiresAt) {
		expiresAt = sessionExpiresAt
	}

	token := &models.CSRFToken{
		TokenHash: pkgauth.HashToken(raw),
		SessionID: sessionID,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
	if err := m.store.CreateCSRFToken(ctx, token); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to store csrf token: %w", err)
	}

	return raw, expiresAt, nil
}

// Consume reports true at most once per token, even under concurrent calls
func (m *CSRFTokenManager) Consume(ctx context.Context, token, sessionID string) (bool, error) {
	if token == "" || sessionID == "" {
		return false, nil
	}
	return m.store.ConsumeCSRFToken(ctx, pkgauth.HashToken(token), sessionID, m.now())
}

// RevokeForSessions deletes every outstanding token bound to sessionIDs
func (m *CSRFTokenManager) RevokeForSessions(ctx context.Context, sessionIDs []string) error {
	if len(sessionIDs) == 0 {
		return nil
	}
	return m.store.DeleteCSRFTokensForSessions(ctx, sessionIDs)
}

// Sweep removes expired tokens; storage hygiene only
func (m *CSRFTokenManager) Sweep(ctx context.Context) (int64, error) {
	return m.store.DeleteExpiredCSRFTokens(ctx, m.now())
}
