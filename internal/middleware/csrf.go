package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/authcore/internal/auth"
	"github.com/BradenHooton/authcore/internal/models"
	pkghttp "github.com/BradenHooton/authcore/pkg/http"
)

// CSRFSessions consumes and issues session-bound CSRF tokens
type CSRFSessions interface {
	ConsumeCSRFToken(ctx context.Context, token, sessionID string) (bool, error)
	IssueCSRFToken(ctx context.Context, sessionID string) (string, time.Time, error)
}

// SessionResolver names the session a request acts for when no access token
// is present. enforce=false lets the request through unchecked.
type SessionResolver func(r *http.Request) (sessionID string, enforce bool)

// CSRFProtection requires a valid, unconsumed CSRF token on state-changing
// requests. Each token is spent on use and a fresh one is returned in the
// X-CSRF-Token header and cookie.
func CSRFProtection(sessions CSRFSessions, resolve SessionResolver, cookies auth.CookieConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isStateChangingMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			var sessionID string
			if claims := auth.GetClaimsFromContext(r); claims != nil {
				sessionID = claims.SessionID
			} else if resolve != nil {
				sid, enforce := resolve(r)
				if !enforce {
					next.ServeHTTP(w, r)
					return
				}
				sessionID = sid
			}
			if sessionID == "" {
				pkghttp.WriteForbidden(w, "CSRF token invalid")
				return
			}

			token := auth.CSRFTokenFromRequest(r)
			if token == "" {
				logger.Warn("CSRF token missing",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("session_id", sessionID))
				pkghttp.WriteForbidden(w, "CSRF token missing")
				return
			}

			ok, err := sessions.ConsumeCSRFToken(r.Context(), token, sessionID)
			if err != nil {
				logger.Error("CSRF token check failed", slog.Any("error", err))
				pkghttp.WriteServiceUnavailable(w, "service temporarily unavailable")
				return
			}
			if !ok {
				logger.Warn("CSRF token rejected",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("session_id", sessionID))
				pkghttp.WriteForbidden(w, "CSRF token invalid")
				return
			}

			// Handlers that change the session (refresh, logout) overwrite this.
			if fresh, expiresAt, err := sessions.IssueCSRFToken(r.Context(), sessionID); err == nil {
				w.Header().Set(auth.CSRFTokenHeader, fresh)
				auth.SetCSRFTokenCookie(w, fresh, expiresAt, cookies)
			} else if !errors.Is(err, models.ErrSessionInvalid) {
				logger.Warn("failed to reissue CSRF token", slog.Any("error", err))
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RefreshSessionResolver binds the refresh endpoint to the session of the
// refresh cookie. Requests without the cookie carry no ambient credential and
// are not checked. Rotated or revoked sessions are not checked either, so
// that a replayed token still reaches reuse detection.
func RefreshSessionResolver(tm *auth.TokenManager, sessions auth.SessionChecker) SessionResolver {
	return func(r *http.Request) (string, bool) {
		token, err := auth.GetRefreshTokenCookie(r)
		if err != nil || token == "" {
			return "", false
		}
		result := tm.Verify(token, models.TokenTypeRefresh)
		if !result.Valid {
			return "", false
		}
		if _, err := sessions.ActiveSession(r.Context(), result.Claims.SessionID); err != nil {
			if errors.Is(err, models.ErrStorage) {
				return result.Claims.SessionID, true
			}
			return "", false
		}
		return result.Claims.SessionID, true
	}
}

// isStateChangingMethod checks if the HTTP method modifies state
func isStateChangingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	default:
		return false
	}
}
