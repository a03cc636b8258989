package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditRecord is the log-side view of one security event
type AuditRecord struct {
	EventType string
	AccountID string
	Status    string
	Reason    string
	IPAddress string
	UserAgent string
	Detail    map[string]any
}

// AuditLogger writes audit records to a structured logger
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// Log emits record at Info for successes and Warn for everything else
func (al *AuditLogger) Log(ctx context.Context, record AuditRecord) {
	attrs := []slog.Attr{
		slog.String("audit_type", "auth"),
		slog.String("event_type", record.EventType),
		slog.String("status", record.Status),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if record.AccountID != "" {
		attrs = append(attrs, slog.String("account_id", record.AccountID))
	}
	if record.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", record.IPAddress))
	}
	if record.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", record.UserAgent))
	}
	if record.Reason != "" {
		attrs = append(attrs, slog.String("reason", record.Reason))
	}
	if len(record.Detail) > 0 {
		attrs = append(attrs, slog.Any("detail", record.Detail))
	}

	level := slog.LevelWarn
	if record.Status == "success" {
		level = slog.LevelInfo
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}
