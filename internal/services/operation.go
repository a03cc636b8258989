package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/BradenHooton/authcore/internal/models"
)

// RequestMeta is the transport metadata every facade call carries
type RequestMeta struct {
	IPAddress   string
	UserAgent   string
	Fingerprint string
}

// Caller identifies the authenticated principal behind a request
type Caller struct {
	AccountID string
	SessionID string
	Role      string
}

// operation tracks one facade call so that exactly one audit event is
// written when it returns, whatever path it took.
type operation struct {
	s      *AuthService
	ctx    context.Context
	entry  AuditEntry
	reason string
}

func (s *AuthService) begin(ctx context.Context, eventType string, meta RequestMeta) *operation {
	return &operation{
		s:   s,
		ctx: ctx,
		entry: AuditEntry{
			EventType: eventType,
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
			Detail:    models.AuditMetadata{},
		},
	}
}

func (op *operation) account(id string) {
	op.entry.AccountID = id
}

func (op *operation) detail(key string, value any) {
	op.entry.Detail[key] = value
}

// note sets the audit reason for a successful call
func (op *operation) note(reason string) {
	op.reason = reason
}

// finish must be deferred directly. It converts a panic into an internal
// error, normalizes err into the error taxonomy and writes the audit event.
func (op *operation) finish(errp *error) {
	if r := recover(); r != nil {
		op.s.logger.Error("panic in auth operation",
			slog.String("event_type", op.entry.EventType),
			slog.Any("panic", r),
			slog.String("stack", string(debug.Stack())))
		*errp = models.NewInternalError("panic", fmt.Errorf("%v", r))
	}

	entry := op.entry
	err := *errp
	if err == nil {
		entry.Status = models.AuditStatusSuccess
		entry.Reason = op.reason
		op.s.audit.Record(op.ctx, entry)
		return
	}

	err = normalizeError(err)
	*errp = err

	entry.Status = models.AuditStatusFailure
	if errors.Is(err, models.ErrRateLimited) || errors.Is(err, models.ErrAccountLocked) {
		entry.Status = models.AuditStatusBlocked
	}
	entry.Reason = models.ReasonOf(err)

	var family *FamilyRevokedError
	if errors.As(err, &family) {
		entry.Detail["family_id"] = family.FamilyID
		entry.Detail["revoked_sessions"] = len(family.Revoked)
	}
	var ae *models.AuthError
	if errors.As(err, &ae) && ae.Err != nil {
		entry.Detail["cause"] = ae.Err.Error()
	}

	op.s.audit.Record(op.ctx, entry)
}

// normalizeError guarantees every error leaving the facade is an AuthError
func normalizeError(err error) error {
	var ae *models.AuthError
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, models.ErrStorage) {
		return models.NewStorageError("storage_failure", err)
	}
	return models.NewInternalError("unexpected_error", err)
}
