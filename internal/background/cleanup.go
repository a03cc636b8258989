package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SessionSweeper deletes expired sessions and CSRF tokens
type SessionSweeper interface {
	Sweep(ctx context.Context) (sessions int64, csrfTokens int64, err error)
}

// AttemptSweeper deletes login attempts past their retention
type AttemptSweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// CleanupManager periodically removes expired rows. Expiry is always checked
// on read as well, so this only bounds storage growth.
type CleanupManager struct {
	sessions SessionSweeper
	attempts AttemptSweeper
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(sessions SessionSweeper, attempts AttemptSweeper, logger *slog.Logger, interval time.Duration) *CleanupManager {
	if interval <= 0 {
		interval = time.Hour
	}
	return &CleanupManager{
		sessions: sessions,
		attempts: attempts,
		logger:   logger,
		interval: interval,
		timeout:  30 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// runCleanup sweeps each store once; a failure in one does not skip the other
func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, cm.timeout)
	defer cancel()

	sessions, csrfTokens, err := cm.sessions.Sweep(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to cleanup expired sessions", slog.Any("error", err))
	}

	attempts, attemptErr := cm.attempts.Sweep(cleanupCtx)
	if attemptErr != nil {
		cm.logger.Error("failed to cleanup login attempts", slog.Any("error", attemptErr))
	}

	if sessions+csrfTokens+attempts > 0 {
		cm.logger.Info("expired record cleanup completed",
			slog.Int64("sessions_deleted", sessions),
			slog.Int64("csrf_tokens_deleted", csrfTokens),
			slog.Int64("attempts_deleted", attempts),
		)
	}
}

// Stop signals the cleanup manager to stop. It is safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
