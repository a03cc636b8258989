package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/authcore/internal/database"
	"github.com/BradenHooton/authcore/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AccountRepository struct {
	pool *pgxpool.Pool
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{pool: db.Pool}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const accountColumns = `id, email, password_hash, role, email_verified,
	verification_token_hash, verification_expires_at, verification_sent_at,
	reset_token_hash, reset_expires_at, failed_login_attempts, locked_until,
	last_login_at, last_login_ip, two_factor_enabled, password_changed_at,
	deleted_at, created_at, updated_at`

// scanAccountRow populates an Account from a database row
func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var a models.Account
	err := scanner.Scan(
		&a.ID, &a.Email, &a.PasswordHash, &a.Role, &a.EmailVerified,
		&a.VerificationTokenHash, &a.VerificationExpiresAt, &a.VerificationSentAt,
		&a.ResetTokenHash, &a.ResetExpiresAt, &a.FailedLoginAttempts, &a.LockedUntil,
		&a.LastLoginAt, &a.LastLoginIP, &a.TwoFactorEnabled, &a.PasswordChangedAt,
		&a.DeletedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &a, nil
}

func (r *AccountRepository) CreateAccount(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (email, password_hash, role, email_verified, two_factor_enabled)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + accountColumns

	created, err := scanAccountRow(r.pool.QueryRow(ctx, query,
		strings.ToLower(strings.TrimSpace(account.Email)),
		account.PasswordHash,
		account.Role,
		account.EmailVerified,
		account.TwoFactorEnabled,
	))
	if err != nil {
		return err
	}

	*account = *created
	return nil
}

func (r *AccountRepository) GetAccountByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 AND deleted_at IS NULL`
	return scanAccountRow(r.pool.QueryRow(ctx, query, id))
}

func (r *AccountRepository) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE lower(email) = lower($1) AND deleted_at IS NULL`
	return scanAccountRow(r.pool.QueryRow(ctx, query, strings.TrimSpace(email)))
}

func (r *AccountRepository) UpdatePasswordHash(ctx context.Context, id, passwordHash string, changedAt time.Time) error {
	query := `
		UPDATE accounts
		SET password_hash = $2, password_changed_at = $3, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL
	`
	return r.execOne(ctx, query, id, passwordHash, changedAt)
}

// IncrementFailedLogins is a single statement so concurrent failures can
// never skip the threshold crossing. An expired lock restarts the count.
func (r *AccountRepository) IncrementFailedLogins(ctx context.Context, id string, threshold int, now, lockUntil time.Time) (*models.Account, error) {
	query := `
		UPDATE accounts
		SET failed_login_attempts = CASE
		        WHEN locked_until <= $3::timestamptz THEN 1
		        ELSE failed_login_attempts + 1
		    END,
		    locked_until = CASE
		        WHEN locked_until <= $3::timestamptz THEN
		            CASE WHEN $2::int <= 1 THEN $4::timestamptz ELSE NULL END
		        WHEN failed_login_attempts + 1 >= $2::int THEN $4::timestamptz
		        ELSE locked_until
		    END,
		    updated_at = $3::timestamptz
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING ` + accountColumns

	return scanAccountRow(r.pool.QueryRow(ctx, query, id, threshold, now, lockUntil))
}

func (r *AccountRepository) RecordSuccessfulLogin(ctx context.Context, id, ipAddress string, at time.Time) error {
	query := `
		UPDATE accounts
		SET failed_login_attempts = 0, locked_until = NULL,
		    last_login_at = $2, last_login_ip = NULLIF($3, ''), updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`
	return r.execOne(ctx, query, id, at, ipAddress)
}

func (r *AccountRepository) SetVerificationToken(ctx context.Context, id, tokenHash string, expiresAt, sentAt time.Time) error {
	query := `
		UPDATE accounts
		SET verification_token_hash = $2, verification_expires_at = $3,
		    verification_sent_at = $4, updated_at = $4
		WHERE id = $1 AND deleted_at IS NULL
	`
	return r.execOne(ctx, query, id, tokenHash, expiresAt, sentAt)
}

func (r *AccountRepository) ConsumeVerificationToken(ctx context.Context, tokenHash string, now time.Time) (*models.Account, error) {
	query := `
		UPDATE accounts
		SET email_verified = true, verification_token_hash = NULL,
		    verification_expires_at = NULL, updated_at = $2
		WHERE verification_token_hash = $1 AND verification_expires_at > $2 AND deleted_at IS NULL
		RETURNING ` + accountColumns

	return scanAccountRow(r.pool.QueryRow(ctx, query, tokenHash, now))
}

func (r *AccountRepository) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	query := `
		UPDATE accounts
		SET reset_token_hash = $2, reset_expires_at = $3, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`
	return r.execOne(ctx, query, id, tokenHash, expiresAt)
}

func (r *AccountRepository) ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (*models.Account, error) {
	query := `
		UPDATE accounts
		SET password_hash = $2, password_changed_at = $3,
		    reset_token_hash = NULL, reset_expires_at = NULL,
		    failed_login_attempts = 0, locked_until = NULL, updated_at = $3
		WHERE reset_token_hash = $1 AND reset_expires_at > $3 AND deleted_at IS NULL
		RETURNING ` + accountColumns

	return scanAccountRow(r.pool.QueryRow(ctx, query, tokenHash, passwordHash, now))
}

// SoftDeleteAccount marks an account deleted; it disappears from every lookup
func (r *AccountRepository) SoftDeleteAccount(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE accounts SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	return r.execOne(ctx, query, id, at)
}

func (r *AccountRepository) execOne(ctx context.Context, query string, args ...interface{}) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("account update failed: %w", database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
