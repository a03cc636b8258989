package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/authcore/internal/models"
	pkglogger "github.com/BradenHooton/authcore/pkg/logger"
)

// AuditEntry is one security event as produced by the facade
type AuditEntry struct {
	AccountID string
	EventType string
	Status    string
	Reason    string
	IPAddress string
	UserAgent string
	Detail    models.AuditMetadata
}

// AuditService handles audit logging with dual-write pattern (slog + store)
type AuditService struct {
	repo        AuditLogRepository
	auditLogger *pkglogger.AuditLogger
	logger      *slog.Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(repo AuditLogRepository, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:        repo,
		auditLogger: pkglogger.NewAuditLogger(logger),
		logger:      logger,
	}
}

// Record writes entry to the log and the store. A store failure is logged
// and never fails the operation being audited.
func (s *AuditService) Record(ctx context.Context, entry AuditEntry) {
	s.auditLogger.Log(ctx, pkglogger.AuditRecord{
		EventType: entry.EventType,
		AccountID: entry.AccountID,
		Status:    entry.Status,
		Reason:    entry.Reason,
		IPAddress: entry.IPAddress,
		UserAgent: entry.UserAgent,
		Detail:    entry.Detail,
	})

	event := &models.AuditEvent{
		AccountID: optionalString(entry.AccountID),
		EventType: entry.EventType,
		Status:    entry.Status,
		Reason:    optionalString(entry.Reason),
		IPAddress: optionalString(entry.IPAddress),
		UserAgent: optionalString(entry.UserAgent),
		Detail:    entry.Detail,
	}

	// The audited request may already be cancelled; the write must still land.
	if err := s.repo.CreateAuditEvent(context.WithoutCancel(ctx), event); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist audit event",
			slog.String("event_type", entry.EventType),
			slog.Any("error", err),
		)
	}
}

// AccountTrail returns the newest events for an account
func (s *AuditService) AccountTrail(ctx context.Context, accountID string, limit int) ([]*models.AuditEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	events, err := s.repo.ListAuditEventsByAccount(ctx, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get account audit trail: %w", err)
	}
	return events, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
