package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/authcore/internal/auth"
	"github.com/BradenHooton/authcore/internal/background"
	"github.com/BradenHooton/authcore/internal/config"
	"github.com/BradenHooton/authcore/internal/database"
	"github.com/BradenHooton/authcore/internal/handlers"
	middlewareCustom "github.com/BradenHooton/authcore/internal/middleware"
	"github.com/BradenHooton/authcore/internal/models"
	"github.com/BradenHooton/authcore/internal/repositories"
	"github.com/BradenHooton/authcore/internal/repositories/memory"
	"github.com/BradenHooton/authcore/internal/routes"
	"github.com/BradenHooton/authcore/internal/services"
	pkgauth "github.com/BradenHooton/authcore/pkg/auth"
	pkghttp "github.com/BradenHooton/authcore/pkg/http"
	pkglogger "github.com/BradenHooton/authcore/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

// healthCheck reports whether one backing service is reachable
type healthCheck struct {
	name  string
	check func(ctx context.Context) error
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("storage", cfg.Storage.Backend),
		slog.String("csrf_backend", cfg.Storage.CSRFBackend),
	)

	ips, err := pkghttp.NewIPExtractor(cfg.Server.TrustedProxies)
	if err != nil {
		logger.Error("invalid trusted proxy list", slog.Any("error", err))
		os.Exit(1)
	}

	// Storage backend
	var store services.Store
	var checks []healthCheck
	switch cfg.Storage.Backend {
	case config.StorageMemory:
		logger.Warn("using in-memory storage; all state is lost on restart")
		store = memory.NewStore()
	default:
		connCtx, connCancel := context.WithTimeout(context.Background(), 10*time.Second)
		db, err := database.NewConnection(connCtx, &cfg.Database, logger)
		connCancel()
		if err != nil {
			logger.Error("failed to connect to database", slog.Any("error", err))
			os.Exit(1)
		}
		defer db.Close()

		if cfg.Database.AutoMigrate {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			err := db.Migrate(ctx)
			cancel()
			if err != nil {
				logger.Error("failed to apply migrations", slog.Any("error", err))
				os.Exit(1)
			}
		}

		store = repositories.NewPostgresStore(db)
		checks = append(checks, healthCheck{name: "database", check: db.HealthCheck})
	}

	// CSRF token storage
	var csrfStore auth.CSRFStore = store
	if cfg.Storage.CSRFBackend == config.CSRFBackendRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			logger.Error("failed to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}

		csrfStore = repositories.NewRedisCSRFStore(client)
		checks = append(checks, healthCheck{name: "redis", check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}})
	}

	// Initialize token manager
	tokenManager, err := auth.NewTokenManager(auth.TokenConfig{
		AccessSecret:  cfg.Tokens.AccessSecret,
		RefreshSecret: cfg.Tokens.RefreshSecret,
		Issuer:        cfg.Tokens.Issuer,
		Audience:      cfg.Tokens.Audience,
		AccessExpiry:  cfg.Tokens.AccessExpiry,
		RefreshExpiry: cfg.Tokens.RefreshExpiry,
	})
	if err != nil {
		logger.Error("failed to initialize token manager", slog.Any("error", err))
		os.Exit(1)
	}

	hasher, err := pkgauth.NewHasher(pkgauth.HasherConfig{
		Algorithm:  cfg.Password.Algorithm,
		BcryptCost: cfg.Password.BcryptCost,
		Argon2: pkgauth.Argon2Params{
			Memory:      cfg.Password.Argon2Memory,
			Time:        cfg.Password.Argon2Time,
			Parallelism: cfg.Password.Argon2Parallelism,
			SaltLength:  16,
			KeyLength:   32,
		},
	})
	if err != nil {
		logger.Error("invalid password hashing configuration", slog.Any("error", err))
		os.Exit(1)
	}

	policy := pkgauth.PolicyFromConfig(pkgauth.PolicyConfig{
		Algorithm:     cfg.Password.Algorithm,
		MinLength:     cfg.Password.MinLength,
		MaxLength:     cfg.Password.MaxLength,
		RequireUpper:  cfg.Password.RequireUpper,
		RequireLower:  cfg.Password.RequireLower,
		RequireDigit:  cfg.Password.RequireDigit,
		RequireSymbol: cfg.Password.RequireSymbol,
		RejectCommon:  cfg.Password.RejectCommon,
	})

	var breach pkgauth.BreachChecker = pkgauth.NoopBreachChecker{}
	if cfg.Password.BreachCheck {
		breach = pkgauth.NewHIBPChecker(pkgauth.HIBPConfig{
			Endpoint: cfg.Password.BreachEndpoint,
			Timeout:  cfg.Password.BreachTimeout,
		}, nil, logger)
	}

	// Email delivery
	var mailer services.Mailer
	switch cfg.Email.Provider {
	case "ses":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		sesMailer, err := services.NewSESMailer(ctx, cfg.Email.AWSRegion, cfg.Email.From, cfg.Email.BaseURL, logger)
		cancel()
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
		mailer = sesMailer
	default:
		mailer = services.NewLogMailer(logger)
	}

	// Initialize services
	csrfManager := auth.NewCSRFTokenManager(csrfStore, cfg.Auth.CSRFTokenExpiry)
	sessionService := services.NewSessionService(store, store, tokenManager, csrfManager, services.SessionConfig{
		SessionDuration:    cfg.Auth.SessionDuration,
		RememberMeDuration: cfg.Auth.RememberMeDuration,
		IdleTimeout:        cfg.Auth.SessionIdleTimeout,
	}, logger)
	attemptGuard := services.NewAttemptGuard(store, store, services.AttemptGuardConfig{
		MaxLoginAttempts:     cfg.Auth.MaxLoginAttempts,
		LockoutDuration:      cfg.Auth.LockoutDuration,
		Window:               cfg.Auth.AttemptWindow,
		MaxAttemptsPerOrigin: cfg.Auth.MaxAttemptsPerOrigin,
		Retention:            cfg.Auth.AttemptRetention,
	}, logger)
	auditService := services.NewAuditService(store, logger)

	authService := services.NewAuthService(services.AuthDeps{
		Accounts: store,
		Sessions: sessionService,
		Guard:    attemptGuard,
		Audit:    auditService,
		Policy:   policy,
		Hasher:   hasher,
		Breach:   breach,
		Mailer:   mailer,
		Timing: auth.NewTimingDelay(auth.TimingConfig{
			BaseDelay: cfg.Auth.TimingBaseDelay,
			Jitter:    cfg.Auth.TimingJitter,
		}),
	}, services.AuthConfig{
		RequireEmailVerification:   cfg.Auth.RequireEmailVerification,
		VerificationTokenExpiry:    cfg.Auth.VerificationTokenExpiry,
		VerificationResendCooldown: cfg.Auth.VerificationResendCooldown,
		ResetTokenExpiry:           cfg.Auth.ResetTokenExpiry,
		BreachCheckTimeout:         cfg.Password.BreachTimeout,
	}, logger)

	// Bootstrap first admin account if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminAccount(ctx, store, hasher, logger); err != nil {
		logger.Error("failed to ensure admin account", slog.Any("error", err))
	}
	cancel()

	// Initialize handlers
	cookies := auth.CookieConfig{
		Domain:   cfg.Cookie.Domain,
		Secure:   cfg.Cookie.Secure,
		SameSite: cfg.Cookie.SameSite,
	}
	authHandler := handlers.NewAuthHandler(authService, cookies, ips)
	auditHandler := handlers.NewAuditHandler(auditService)

	// Setup router. Client addresses come from the IP extractor, which only
	// honours forwarding headers set by trusted proxies.
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ips))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, authHandler, auditHandler, routes.Deps{
		Tokens:        tokenManager,
		Sessions:      sessionService,
		Accounts:      store,
		IPs:           ips,
		Cookies:       cookies,
		SessionCheck:  auth.SessionCheckConfig{FailClosed: cfg.Auth.SessionCheckFailClosed},
		RateLimit:     middlewareCustom.RateLimitConfig{Requests: cfg.RateLimit.Requests, Window: cfg.RateLimit.Window},
		AuthRateLimit: middlewareCustom.RateLimitConfig{Requests: cfg.RateLimit.AuthRequests, Window: cfg.RateLimit.AuthWindow},
		Logger:        logger,
	})

	// Health check covering every backing service
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"status": "healthy", "storage": cfg.Storage.Backend}
		code := http.StatusOK
		for _, hc := range checks {
			if err := hc.check(ctx); err != nil {
				logger.Warn("health check failed", slog.String("component", hc.name), slog.Any("error", err))
				status[hc.name] = "down"
				status["status"] = "unhealthy"
				code = http.StatusServiceUnavailable
				continue
			}
			status[hc.name] = "up"
		}
		pkghttp.WriteJSON(w, code, status)
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(sessionService, attemptGuard, logger, cfg.Server.CleanupInterval)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("server error", slog.Any("error", err))
	}

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		return
	}

	logger.Info("server stopped gracefully")
}

// ensureAdminAccount creates the first admin account if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminAccount(ctx context.Context, store services.Store, hasher *pkgauth.Hasher, logger *slog.Logger) error {
	adminEmail := strings.ToLower(strings.TrimSpace(os.Getenv("ADMIN_EMAIL")))
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin account creation")
		return nil
	}

	// Check if admin already exists
	_, err := store.GetAccountByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin account already exists", pkglogger.EmailAttr(adminEmail))
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	// Hash password
	digest, err := hasher.Hash(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	// Create admin account
	now := time.Now()
	admin := &models.Account{
		Email:             adminEmail,
		PasswordHash:      digest,
		Role:              models.RoleAdmin,
		EmailVerified:     true,
		PasswordChangedAt: &now,
	}
	if err := store.CreateAccount(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin account: %w", err)
	}

	logger.Info("admin account created", pkglogger.EmailAttr(adminEmail))
	return nil
}
