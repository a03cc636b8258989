package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/BradenHooton/authcore/internal/models"
	pkghttp "github.com/BradenHooton/authcore/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// ClaimsContextKey is the key for storing access-token claims in context
	ClaimsContextKey contextKey = "claims"
)

// SessionChecker confirms the session behind an access token is still active
type SessionChecker interface {
	ActiveSession(ctx context.Context, sessionID string) (*models.Session, error)
}

// SessionCheckConfig holds configuration for session lookups in the middleware
type SessionCheckConfig struct {
	FailClosed bool // If true, deny access when the session store is unreachable
}

// AuthMiddleware validates access tokens and injects claims into context.
// With a SessionChecker, revoked or expired sessions lose access immediately.
func AuthMiddleware(tm *TokenManager, sessions SessionChecker, cfg SessionCheckConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				pkghttp.WriteUnauthorized(w, "missing or malformed authorization header")
				return
			}

			result := tm.Verify(tokenString, models.TokenTypeAccess)
			if result.Expired {
				pkghttp.WriteError(w, http.StatusUnauthorized, "token_expired", "access token expired")
				return
			}
			if !result.Valid {
				pkghttp.WriteUnauthorized(w, "invalid token")
				return
			}

			if sessions != nil {
				_, err := sessions.ActiveSession(r.Context(), result.Claims.SessionID)
				switch {
				case err == nil:
				case errors.Is(err, models.ErrStorage) && !cfg.FailClosed:
					// fail open: token signature and expiry already verified
				case errors.Is(err, models.ErrStorage):
					pkghttp.WriteError(w, http.StatusServiceUnavailable, "service_unavailable", "unable to verify session")
					return
				default:
					pkghttp.WriteUnauthorized(w, models.ErrSessionInvalid.Error())
					return
				}
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey, result.Claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// AccountFetcher loads the current account for role checks
type AccountFetcher interface {
	GetAccountByID(ctx context.Context, id string) (*models.Account, error)
}

// RequireRole enforces that the caller's current role equals role. The role
// is read from storage, not from the token, so demotions apply immediately.
func RequireRole(accounts AccountFetcher, role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromContext(r)
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}

			account, err := accounts.GetAccountByID(r.Context(), claims.AccountID)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					pkghttp.WriteUnauthorized(w, "unauthorized")
					return
				}
				pkghttp.WriteInternalError(w, "internal server error")
				return
			}

			if account.Role != role {
				pkghttp.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetClaimsFromContext extracts access-token claims from request context
func GetClaimsFromContext(r *http.Request) *models.TokenClaims {
	return ClaimsFromContext(r.Context())
}

// ClaimsFromContext is GetClaimsFromContext for code holding only a context
func ClaimsFromContext(ctx context.Context) *models.TokenClaims {
	claims, ok := ctx.Value(ClaimsContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}

// WithClaims returns a context carrying claims; used by tests and internal callers
func WithClaims(ctx context.Context, claims *models.TokenClaims) context.Context {
	return context.WithValue(ctx, ClaimsContextKey, claims)
}
