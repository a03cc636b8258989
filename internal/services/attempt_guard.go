package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/authcore/internal/models"
	pkglogger "github.com/BradenHooton/authcore/pkg/logger"
)

// AttemptGuardConfig holds the lockout and throttling thresholds
type AttemptGuardConfig struct {
	MaxLoginAttempts     int           // failures before the account locks
	LockoutDuration      time.Duration // how long the account stays locked
	Window               time.Duration // rolling window for per-origin counting
	MaxAttemptsPerOrigin int           // failures per (email, origin) before throttling
	Retention            time.Duration // how long attempt records are kept
}

// AttemptGuard combines the origin-centric attempt log with the
// account-centric lock stored on the account.
type AttemptGuard struct {
	attempts LoginAttemptRepository
	accounts AccountRepository
	config   AttemptGuardConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewAttemptGuard creates a new AttemptGuard
func NewAttemptGuard(attempts LoginAttemptRepository, accounts AccountRepository, config AttemptGuardConfig, logger *slog.Logger) *AttemptGuard {
	if config.Retention < config.Window*2 {
		config.Retention = config.Window * 2
	}
	return &AttemptGuard{
		attempts: attempts,
		accounts: accounts,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// CheckAllowed fails fast when the (email, origin) pair has used up its
// failure budget. Store errors fail open: availability over a transient
// throttling signal, the account lock still applies.
func (g *AttemptGuard) CheckAllowed(ctx context.Context, email, origin string) error {
	now := g.now()
	since := now.Add(-g.config.Window)

	failed, oldest, err := g.attempts.FailedAttemptsSince(ctx, email, origin, since)
	if err != nil {
		g.logger.Error("failed to check attempt budget", slog.Any("error", err))
		return nil
	}

	if failed < g.config.MaxAttemptsPerOrigin {
		return nil
	}

	retryAfter := g.config.Window
	if oldest != nil {
		retryAfter = oldest.Add(g.config.Window).Sub(now)
	}
	if retryAfter < time.Second {
		retryAfter = time.Second
	}

	g.logger.Warn("login attempts throttled",
		pkglogger.EmailAttr(email),
		slog.String("ip_address", origin),
		slog.Int("failed_attempts", failed),
		slog.Duration("retry_after", retryAfter))
	return models.NewRateLimitedError("origin_attempt_budget_exhausted", retryAfter)
}

// RecordAttempt appends an attempt fact. Errors are logged and dropped.
func (g *AttemptGuard) RecordAttempt(ctx context.Context, email, origin, userAgent string, success bool, reason string) {
	now := g.now()
	attempt := &models.LoginAttempt{
		Email:       email,
		IPAddress:   origin,
		UserAgent:   userAgent,
		AttemptTime: now,
		Success:     success,
		ExpiresAt:   now.Add(g.config.Retention),
	}
	if reason != "" {
		attempt.FailureReason = &reason
	}

	if err := g.attempts.RecordAttempt(context.WithoutCancel(ctx), attempt); err != nil {
		g.logger.Error("failed to record login attempt", slog.Any("error", err))
	}
}

// IncrementFailures counts a verified wrong password. Crossing the threshold
// sets the lock in the same atomic store update.
func (g *AttemptGuard) IncrementFailures(ctx context.Context, accountID string) (*models.Account, error) {
	now := g.now()
	account, err := g.accounts.IncrementFailedLogins(ctx, accountID, g.config.MaxLoginAttempts, now, now.Add(g.config.LockoutDuration))
	if err != nil {
		return nil, err
	}

	if account.IsLocked(now) {
		g.logger.Warn("account locked",
			slog.String("account_id", accountID),
			slog.Int("failed_attempts", account.FailedLoginAttempts),
			slog.Duration("lockout", account.LockRemaining(now)))
	}
	return account, nil
}

// LockRemaining returns the lockout left on account, or zero
func (g *AttemptGuard) LockRemaining(account *models.Account) time.Duration {
	return account.LockRemaining(g.now())
}

// Sweep drops attempt records past their retention
func (g *AttemptGuard) Sweep(ctx context.Context) (int64, error) {
	return g.attempts.DeleteExpiredAttempts(ctx, g.now())
}
