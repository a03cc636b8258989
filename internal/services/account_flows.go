package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/authcore/internal/models"
	pkgauth "github.com/BradenHooton/authcore/pkg/auth"
	pkglogger "github.com/BradenHooton/authcore/pkg/logger"
)

// RequestPasswordReset always succeeds for the caller so that it cannot be
// used to discover which emails have accounts.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string, meta RequestMeta) (err error) {
	op := s.begin(ctx, models.AuditEventPasswordResetRequest, meta)
	defer op.finish(&err)

	email = normalizeEmail(email)
	op.detail("email", pkglogger.SanitizedEmail(email))
	if err := models.ValidateEmail(email); err != nil {
		return err
	}

	account, err := s.accounts.GetAccountByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		op.note("unknown_email")
		return nil
	}
	if err != nil {
		return models.NewStorageError("account_lookup_failed", err)
	}
	op.account(account.ID)

	token, err := pkgauth.GenerateToken()
	if err != nil {
		return models.NewInternalError("token_generation_failed", err)
	}
	expiresAt := s.now().Add(s.config.ResetTokenExpiry)
	if err := s.accounts.SetResetToken(ctx, account.ID, pkgauth.HashToken(token), expiresAt); err != nil {
		return models.NewStorageError("reset_token_store_failed", err)
	}

	if err := s.mailer.SendPasswordResetEmail(ctx, account.Email, token, expiresAt); err != nil {
		s.logger.Error("failed to deliver reset token",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		op.note("delivery_failed")
		return nil
	}
	op.note("reset_token_sent")
	return nil
}

// ConfirmPasswordReset sets a new password from an emailed token. A reset
// crosses a trust boundary, so every session of the account is revoked.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, token, newPassword string, meta RequestMeta) (err error) {
	op := s.begin(ctx, models.AuditEventPasswordResetConfirm, meta)
	defer op.finish(&err)

	if strings.TrimSpace(token) == "" {
		return models.NewValidationError("reset token is required", "reset_token_missing")
	}
	if err := s.checkNewPassword(ctx, newPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return models.NewInternalError("password_hash_failed", err)
	}

	account, err := s.accounts.ConsumeResetToken(ctx, pkgauth.HashToken(token), hash, s.now())
	if errors.Is(err, models.ErrNotFound) {
		return models.NewValidationError("reset token is invalid or expired", "reset_token_invalid")
	}
	if err != nil {
		return models.NewStorageError("reset_consume_failed", err)
	}
	op.account(account.ID)

	revoked, err := s.sessions.InvalidateUserSessions(ctx, account.ID, models.RevokeReasonPasswordReset, "")
	if err != nil {
		return err
	}
	op.detail("revoked_sessions", len(revoked))
	return nil
}

// ChangePassword requires the current password and revokes every other
// session of the account.
func (s *AuthService) ChangePassword(ctx context.Context, caller Caller, currentPassword, newPassword string, meta RequestMeta) (err error) {
	op := s.begin(ctx, models.AuditEventPasswordChange, meta)
	defer op.finish(&err)
	op.account(caller.AccountID)

	if currentPassword == "" || newPassword == "" {
		return models.NewValidationError("current and new password are required", "password_missing")
	}

	account, err := s.accounts.GetAccountByID(ctx, caller.AccountID)
	if errors.Is(err, models.ErrNotFound) {
		return models.NewSessionInvalidError("account_unavailable", err)
	}
	if err != nil {
		return models.NewStorageError("account_lookup_failed", err)
	}

	// The current password is a credential check like login: same
	// origin budget, same lockout counter.
	if err := s.guard.CheckAllowed(ctx, account.Email, meta.IPAddress); err != nil {
		return err
	}
	now := s.now()
	if account.IsLocked(now) {
		s.guard.RecordAttempt(ctx, account.Email, meta.IPAddress, meta.UserAgent, false, "account_locked")
		return models.NewAccountLockedError(account.LockRemaining(now))
	}

	start := time.Now()
	if !s.hasher.Verify(currentPassword, account.PasswordHash) {
		if updated, incErr := s.guard.IncrementFailures(ctx, account.ID); incErr != nil {
			s.logger.Error("failed to increment failed logins",
				slog.String("account_id", account.ID),
				slog.Any("error", incErr))
		} else {
			op.detail("failed_attempts", updated.FailedLoginAttempts)
			op.detail("locked", updated.IsLocked(now))
		}
		s.guard.RecordAttempt(ctx, account.Email, meta.IPAddress, meta.UserAgent, false, "current_password_mismatch")
		s.timing.WaitFrom(ctx, start, false)
		return models.NewAuthenticationError("current_password_mismatch", nil)
	}
	if currentPassword == newPassword {
		return models.NewValidationError("new password must differ from the current one", "password_unchanged")
	}
	if err := s.checkNewPassword(ctx, newPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return models.NewInternalError("password_hash_failed", err)
	}
	if err := s.accounts.UpdatePasswordHash(ctx, account.ID, hash, s.now()); err != nil {
		return models.NewStorageError("password_update_failed", err)
	}

	revoked, err := s.sessions.InvalidateUserSessions(ctx, account.ID, models.RevokeReasonPasswordChange, caller.SessionID)
	if err != nil {
		return err
	}
	op.detail("revoked_sessions", len(revoked))
	return nil
}

// VerifyEmail consumes a verification token
func (s *AuthService) VerifyEmail(ctx context.Context, token string, meta RequestMeta) (profile *models.AccountProfile, err error) {
	op := s.begin(ctx, models.AuditEventEmailVerify, meta)
	defer op.finish(&err)

	if strings.TrimSpace(token) == "" {
		return nil, models.NewValidationError("verification token is required", "verification_token_missing")
	}

	account, err := s.accounts.ConsumeVerificationToken(ctx, pkgauth.HashToken(token), s.now())
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.NewValidationError("verification token is invalid or expired", "verification_token_invalid")
	}
	if err != nil {
		return nil, models.NewStorageError("verification_consume_failed", err)
	}
	op.account(account.ID)
	return account.Profile(), nil
}

// ResendVerification mails a new verification token. It always succeeds for
// the caller; unknown, verified and cooling-down accounts are only
// distinguished in the audit log.
func (s *AuthService) ResendVerification(ctx context.Context, email string, meta RequestMeta) (err error) {
	op := s.begin(ctx, models.AuditEventResendVerification, meta)
	defer op.finish(&err)

	email = normalizeEmail(email)
	op.detail("email", pkglogger.SanitizedEmail(email))
	if err := models.ValidateEmail(email); err != nil {
		return err
	}

	account, err := s.accounts.GetAccountByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		op.note("unknown_email")
		return nil
	}
	if err != nil {
		return models.NewStorageError("account_lookup_failed", err)
	}
	op.account(account.ID)

	if account.EmailVerified {
		op.note("already_verified")
		return nil
	}
	if account.VerificationSentAt != nil && s.now().Sub(*account.VerificationSentAt) < s.config.VerificationResendCooldown {
		op.note("cooldown_active")
		return nil
	}

	if err := s.sendVerification(ctx, account); err != nil {
		s.logger.Error("failed to deliver verification token",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		op.note("delivery_failed")
		return nil
	}
	op.note("verification_sent")
	return nil
}
