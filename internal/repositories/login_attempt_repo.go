package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/authcore/internal/database"
	"github.com/BradenHooton/authcore/internal/models"
)

// LoginAttemptRepository handles database operations for login attempts
type LoginAttemptRepository struct {
	db *database.DB
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// RecordAttempt records a login attempt in the database
func (r *LoginAttemptRepository) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	query := `
		INSERT INTO login_attempts (email, ip_address, user_agent, attempt_time, success, failure_reason, expires_at)
		VALUES ($1, $2, $3, COALESCE($4, NOW()), $5, $6, $7)
	`

	var attemptTime *time.Time
	if !attempt.AttemptTime.IsZero() {
		attemptTime = &attempt.AttemptTime
	}

	_, err := r.db.Pool.Exec(ctx, query,
		attempt.Email,
		attempt.IPAddress,
		attempt.UserAgent,
		attemptTime,
		attempt.Success,
		attempt.FailureReason,
		attempt.ExpiresAt,
	)
	return database.MapPostgresError(err)
}

// FailedAttemptsSince returns the failure count for an (email, ip) pair within
// the window and the oldest failure in it
func (r *LoginAttemptRepository) FailedAttemptsSince(ctx context.Context, email, ipAddress string, since time.Time) (int, *time.Time, error) {
	query := `
		SELECT COUNT(*), MIN(attempt_time) FROM login_attempts
		WHERE email = $1 AND ip_address = $2 AND success = false AND attempt_time >= $3
	`

	var count int
	var oldest *time.Time
	if err := r.db.Pool.QueryRow(ctx, query, email, ipAddress, since).Scan(&count, &oldest); err != nil {
		return 0, nil, database.MapPostgresError(err)
	}
	return count, oldest, nil
}

// DeleteExpiredAttempts removes login attempts past their retention time
func (r *LoginAttemptRepository) DeleteExpiredAttempts(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM login_attempts WHERE expires_at < $1`, before)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
