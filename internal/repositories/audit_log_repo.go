package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/authcore/internal/database"
	"github.com/BradenHooton/authcore/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLogRepository handles audit event data access. Events are append-only.
type AuditLogRepository struct {
	pool *pgxpool.Pool
}

// NewAuditLogRepository creates a new AuditLogRepository
func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{pool: db.Pool}
}

const auditColumns = `id, account_id, event_type, status, reason, ip_address, user_agent, detail, created_at`

// scanAuditEventRow populates an AuditEvent from a database row
func scanAuditEventRow(row rowScanner) (*models.AuditEvent, error) {
	var e models.AuditEvent
	err := row.Scan(
		&e.ID, &e.AccountID, &e.EventType, &e.Status, &e.Reason,
		&e.IPAddress, &e.UserAgent, &e.Detail, &e.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &e, nil
}

func scanAuditEventRows(rows pgx.Rows) ([]*models.AuditEvent, error) {
	defer rows.Close()

	events := make([]*models.AuditEvent, 0)
	for rows.Next() {
		e, err := scanAuditEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, database.MapPostgresError(err)
	}
	return events, nil
}

// CreateAuditEvent appends an event and fills in ID and CreatedAt
func (r *AuditLogRepository) CreateAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	detail := event.Detail
	if detail == nil {
		detail = models.AuditMetadata{}
	}

	query := `
		INSERT INTO audit_events (account_id, event_type, status, reason, ip_address, user_agent, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + auditColumns

	created, err := scanAuditEventRow(r.pool.QueryRow(ctx, query,
		event.AccountID, event.EventType, event.Status, event.Reason,
		event.IPAddress, event.UserAgent, detail,
	))
	if err != nil {
		return fmt.Errorf("failed to create audit event: %w", err)
	}

	*event = *created
	return nil
}

// ListAuditEventsByAccount returns the newest events for an account
func (r *AuditLogRepository) ListAuditEventsByAccount(ctx context.Context, accountID string, limit int) ([]*models.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + auditColumns + ` FROM audit_events WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", database.MapPostgresError(err))
	}
	return scanAuditEventRows(rows)
}
