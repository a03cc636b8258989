package repositories

import (
	"github.com/BradenHooton/authcore/internal/database"
)

// PostgresStore bundles every Postgres repository behind one value
type PostgresStore struct {
	*AccountRepository
	*SessionRepository
	*CSRFTokenRepository
	*LoginAttemptRepository
	*AuditLogRepository
}

func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{
		AccountRepository:      NewAccountRepository(db),
		SessionRepository:      NewSessionRepository(db),
		CSRFTokenRepository:    NewCSRFTokenRepository(db),
		LoginAttemptRepository: NewLoginAttemptRepository(db),
		AuditLogRepository:     NewAuditLogRepository(db),
	}
}
