package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/authcore/internal/database"
	"github.com/BradenHooton/authcore/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CSRFTokenRepository stores CSRF token hashes alongside sessions
type CSRFTokenRepository struct {
	pool *pgxpool.Pool
}

func NewCSRFTokenRepository(db *database.DB) *CSRFTokenRepository {
	return &CSRFTokenRepository{pool: db.Pool}
}

func (r *CSRFTokenRepository) CreateCSRFToken(ctx context.Context, token *models.CSRFToken) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO csrf_tokens (token_hash, session_id, used, created_at, expires_at)
		VALUES ($1, $2, false, $3, $4)
	`, token.TokenHash, token.SessionID, token.CreatedAt, token.ExpiresAt)
	return database.MapPostgresError(err)
}

// ConsumeCSRFToken flips used in the same statement that checks it
func (r *CSRFTokenRepository) ConsumeCSRFToken(ctx context.Context, tokenHash, sessionID string, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE csrf_tokens SET used = true, used_at = $3
		WHERE token_hash = $1 AND session_id = $2 AND NOT used AND expires_at > $3
	`, tokenHash, sessionID, now)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *CSRFTokenRepository) DeleteCSRFTokensForSessions(ctx context.Context, sessionIDs []string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM csrf_tokens WHERE session_id::text = ANY($1)`, sessionIDs)
	return database.MapPostgresError(err)
}

func (r *CSRFTokenRepository) DeleteExpiredCSRFTokens(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM csrf_tokens WHERE expires_at < $1 OR used`, before)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
