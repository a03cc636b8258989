package services

import (
	"context"
	"time"

	"github.com/BradenHooton/authcore/internal/auth"
	"github.com/BradenHooton/authcore/internal/models"
)

// AccountRepository is the credential store. Implementations return
// models.ErrNotFound for missing or soft-deleted accounts, models.ErrConflict
// for duplicate emails and wrap anything else with models.ErrStorage.
type AccountRepository interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccountByID(ctx context.Context, id string) (*models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	UpdatePasswordHash(ctx context.Context, id, passwordHash string, changedAt time.Time) error

	// IncrementFailedLogins adds one failure and, when the counter reaches
	// threshold, sets locked_until in the same atomic step. A lock that has
	// expired by now is cleared first, so counting restarts from one.
	IncrementFailedLogins(ctx context.Context, id string, threshold int, now, lockUntil time.Time) (*models.Account, error)
	// RecordSuccessfulLogin resets the failure counter and lock and stores last-login metadata.
	RecordSuccessfulLogin(ctx context.Context, id, ipAddress string, at time.Time) error

	SetVerificationToken(ctx context.Context, id, tokenHash string, expiresAt, sentAt time.Time) error
	// ConsumeVerificationToken marks the matching unexpired token used and the account verified.
	ConsumeVerificationToken(ctx context.Context, tokenHash string, now time.Time) (*models.Account, error)

	SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	// ConsumeResetToken clears the matching unexpired token, sets the new
	// password and clears any lockout in one step.
	ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (*models.Account, error)

	// SoftDeleteAccount sets deleted_at; the account then behaves as missing.
	SoftDeleteAccount(ctx context.Context, id string, at time.Time) error
}

// SessionRepository persists sessions and their rotation lineage
type SessionRepository interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSessionByID(ctx context.Context, id string) (*models.Session, error)
	// GetValidSessionByHash only returns sessions with is_valid = true
	GetValidSessionByHash(ctx context.Context, tokenHash string) (*models.Session, error)
	// RotateSession invalidates oldID only if it is still valid with oldHash,
	// and inserts next in the same atomic operation. Otherwise it returns
	// models.ErrRefreshHashMismatch and changes nothing.
	RotateSession(ctx context.Context, oldID, oldHash string, next *models.Session, now time.Time) error
	// RevokeSession returns models.ErrNotFound if the session does not exist
	RevokeSession(ctx context.Context, id, reason string, now time.Time) error
	// RevokeFamily marks every not yet revoked member of the family revoked,
	// rotated ones included. It and RevokeAccountSessions return the IDs they changed.
	RevokeFamily(ctx context.Context, familyID, reason string, now time.Time) ([]string, error)
	RevokeAccountSessions(ctx context.Context, accountID, reason, exceptSessionID string, now time.Time) ([]string, error)
	ListSessionsByAccount(ctx context.Context, accountID string) ([]*models.Session, error)
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}

// CSRFTokenRepository is the store behind auth.CSRFTokenManager
type CSRFTokenRepository = auth.CSRFStore

// LoginAttemptRepository is the append-only attempt log
type LoginAttemptRepository interface {
	RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error
	// FailedAttemptsSince returns the failure count for (email, ip) and the
	// oldest failure time in the window.
	FailedAttemptsSince(ctx context.Context, email, ipAddress string, since time.Time) (int, *time.Time, error)
	DeleteExpiredAttempts(ctx context.Context, before time.Time) (int64, error)
}

// AuditLogRepository is write-only for every component except audit readers
type AuditLogRepository interface {
	CreateAuditEvent(ctx context.Context, event *models.AuditEvent) error
	ListAuditEventsByAccount(ctx context.Context, accountID string, limit int) ([]*models.AuditEvent, error)
}

// Store bundles every repository; the backend is chosen once at startup
type Store interface {
	AccountRepository
	SessionRepository
	CSRFTokenRepository
	LoginAttemptRepository
	AuditLogRepository
}
