package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/authcore/internal/database"
	"github.com/BradenHooton/authcore/internal/models"
	"github.com/jackc/pgx/v5"
)

type SessionRepository struct {
	db *database.DB
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, account_id, refresh_token_hash, family_id, fingerprint_hash,
	ip_address, user_agent, remember_me, is_valid, created_at, last_activity_at,
	expires_at, rotated_at, replaced_by, revoked_at, revoke_reason`

func scanSessionRow(scanner rowScanner) (*models.Session, error) {
	var s models.Session
	err := scanner.Scan(
		&s.ID, &s.AccountID, &s.RefreshTokenHash, &s.FamilyID, &s.FingerprintHash,
		&s.IPAddress, &s.UserAgent, &s.RememberMe, &s.IsValid, &s.CreatedAt, &s.LastActivityAt,
		&s.ExpiresAt, &s.RotatedAt, &s.ReplacedBy, &s.RevokedAt, &s.RevokeReason,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}

func scanSessionRows(rows pgx.Rows) ([]*models.Session, error) {
	defer rows.Close()

	sessions := make([]*models.Session, 0)
	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, database.MapPostgresError(err)
	}
	return sessions, nil
}

func collectIDs(rows pgx.Rows) ([]string, error) {
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return ids, nil
}

const insertSession = `
	INSERT INTO sessions (id, account_id, refresh_token_hash, family_id, fingerprint_hash,
		ip_address, user_agent, remember_me, is_valid, created_at, last_activity_at, expires_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true, $9, $10, $11)
`

func insertSessionArgs(s *models.Session) []interface{} {
	return []interface{}{
		s.ID, s.AccountID, s.RefreshTokenHash, s.FamilyID, s.FingerprintHash,
		s.IPAddress, s.UserAgent, s.RememberMe, s.CreatedAt, s.LastActivityAt, s.ExpiresAt,
	}
}

func (r *SessionRepository) CreateSession(ctx context.Context, session *models.Session) error {
	if _, err := r.db.Pool.Exec(ctx, insertSession, insertSessionArgs(session)...); err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}

func (r *SessionRepository) GetSessionByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSessionRow(r.db.Pool.QueryRow(ctx, query, id))
}

func (r *SessionRepository) GetValidSessionByHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE refresh_token_hash = $1 AND is_valid`
	return scanSessionRow(r.db.Pool.QueryRow(ctx, query, tokenHash))
}

// RotateSession flips the old row with a conditional update and inserts the
// successor in the same transaction. Zero affected rows means another caller
// already rotated or revoked the session.
func (r *SessionRepository) RotateSession(ctx context.Context, oldID, oldHash string, next *models.Session, now time.Time) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE sessions
			SET is_valid = false, rotated_at = $3, replaced_by = $4
			WHERE id = $1 AND refresh_token_hash = $2 AND is_valid
		`, oldID, oldHash, now, next.ID)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if tag.RowsAffected() == 0 {
			return models.ErrRefreshHashMismatch
		}

		if _, err := tx.Exec(ctx, insertSession, insertSessionArgs(next)...); err != nil {
			return database.MapPostgresError(err)
		}
		return nil
	})
}

func (r *SessionRepository) RevokeSession(ctx context.Context, id, reason string, now time.Time) error {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `
		WITH revoked AS (
			UPDATE sessions SET is_valid = false, revoked_at = $3, revoke_reason = $2
			WHERE id = $1 AND is_valid
			RETURNING id
		)
		SELECT EXISTS(SELECT 1 FROM sessions WHERE id = $1)
	`, id, reason, now).Scan(&exists)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if !exists {
		return models.ErrNotFound
	}
	return nil
}

func (r *SessionRepository) RevokeFamily(ctx context.Context, familyID, reason string, now time.Time) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `
		UPDATE sessions SET is_valid = false, revoked_at = $3, revoke_reason = $2
		WHERE family_id = $1 AND revoked_at IS NULL
		RETURNING id::text
	`, familyID, reason, now)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return collectIDs(rows)
}

func (r *SessionRepository) RevokeAccountSessions(ctx context.Context, accountID, reason, exceptSessionID string, now time.Time) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `
		UPDATE sessions SET is_valid = false, revoked_at = $3, revoke_reason = $2
		WHERE account_id = $1 AND is_valid AND ($4 = '' OR id::text <> $4)
		RETURNING id::text
	`, accountID, reason, now, exceptSessionID)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return collectIDs(rows)
}

func (r *SessionRepository) ListSessionsByAccount(ctx context.Context, accountID string) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE account_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.Pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return scanSessionRows(rows)
}

func (r *SessionRepository) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, before)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
