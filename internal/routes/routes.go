package routes

import (
	"log/slog"
	"net/http"

	"github.com/BradenHooton/authcore/internal/auth"
	"github.com/BradenHooton/authcore/internal/handlers"
	"github.com/BradenHooton/authcore/internal/middleware"
	"github.com/BradenHooton/authcore/internal/models"
	"github.com/BradenHooton/authcore/internal/services"
	pkghttp "github.com/BradenHooton/authcore/pkg/http"
	"github.com/go-chi/chi/v5"
)

// Deps are the shared pieces the route middleware needs
type Deps struct {
	Tokens        *auth.TokenManager
	Sessions      *services.SessionService
	Accounts      auth.AccountFetcher
	IPs           *pkghttp.IPExtractor
	Cookies       auth.CookieConfig
	SessionCheck  auth.SessionCheckConfig
	RateLimit     middleware.RateLimitConfig
	AuthRateLimit middleware.RateLimitConfig
	Logger        *slog.Logger
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, authHandler *handlers.AuthHandler, auditHandler *handlers.AuditHandler, deps Deps) {
	requireAccess := auth.AuthMiddleware(deps.Tokens, deps.Sessions, deps.SessionCheck)
	csrf := middleware.CSRFProtection(deps.Sessions, nil, deps.Cookies, deps.Logger)

	// Set before mounting so /auth and /admin subrouters inherit it
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		pkghttp.WriteNotFound(w, "resource not found")
	})

	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByOrigin(deps.RateLimit, deps.IPs))

		r.Route("/auth", func(r chi.Router) {
			// Credential-accepting endpoints get the narrower budget
			r.Group(func(r chi.Router) {
				r.Use(middleware.RateLimitByOrigin(deps.AuthRateLimit, deps.IPs))

				r.Post("/register", authHandler.Register)
				r.Post("/login", authHandler.Login)
				r.Post("/password-reset/request", authHandler.RequestPasswordReset)
				r.Post("/password-reset/confirm", authHandler.ConfirmPasswordReset)
				r.Post("/verify-email", authHandler.VerifyEmail)
				r.Post("/resend-verification", authHandler.ResendVerification)

				r.With(middleware.CSRFProtection(
					deps.Sessions,
					middleware.RefreshSessionResolver(deps.Tokens, deps.Sessions),
					deps.Cookies,
					deps.Logger,
				)).Post("/refresh", authHandler.Refresh)
			})

			// Protected routes - access token required
			r.Group(func(r chi.Router) {
				r.Use(requireAccess)
				r.Use(csrf)

				r.Get("/me", authHandler.Me)
				r.Get("/csrf-token", authHandler.CSRFToken)
				r.Get("/sessions", authHandler.ListSessions)
				r.Delete("/sessions/{id}", authHandler.RevokeSession)
				r.Post("/logout", authHandler.Logout)
				r.Post("/logout-all", authHandler.LogoutAll)
				r.Post("/password/change", authHandler.ChangePassword)
			})
		})

		// Admin-only routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAccess)
			r.Use(auth.RequireRole(deps.Accounts, models.RoleAdmin))
			r.Use(csrf)

			r.Post("/accounts/{id}/revoke-sessions", authHandler.AdminRevokeSessions)
			r.Delete("/accounts/{id}", authHandler.AdminDeleteAccount)
			r.Get("/accounts/{id}/audit", auditHandler.GetAccountAuditTrail)
		})
	})
}
