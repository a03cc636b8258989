package models

import (
	"errors"
	"time"
)

// Error kinds. Every error leaving the auth facade wraps exactly one of these.
var (
	ErrValidation     = errors.New("validation failed")
	ErrAuthentication = errors.New("authentication failed")
	ErrAuthorization  = errors.New("forbidden")
	ErrReplayDetected = errors.New("refresh token reuse detected")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrStorage        = errors.New("storage failure")
	ErrInternal       = errors.New("internal server error")
)

// Sentinel errors for specific failure conditions
var (
	ErrNotFound = errors.New("resource not found")
	ErrConflict = errors.New("resource already exists")

	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrEmailNotVerified   = errors.New("email address not verified")
	ErrSessionInvalid     = errors.New("session is no longer valid")

	ErrRefreshHashMismatch = errors.New("refresh token hash mismatch")
	ErrFingerprintMismatch = errors.New("device fingerprint mismatch")
	ErrTokenInvalid        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
)

// AuthError carries an error kind, a caller-safe message and the internal
// reason that only reaches the audit log.
type AuthError struct {
	Kind       error
	Message    string
	Reason     string
	RetryAfter time.Duration
	Violations []string
	Err        error
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.Error()
}

// Unwrap exposes both the kind and the underlying cause to errors.Is
func (e *AuthError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewValidationError builds a ValidationError; the message is safe to return verbatim.
func NewValidationError(message, reason string, violations ...string) *AuthError {
	return &AuthError{Kind: ErrValidation, Message: message, Reason: reason, Violations: violations}
}

// NewAuthenticationError builds a uniform authentication failure.
func NewAuthenticationError(reason string, cause error) *AuthError {
	return &AuthError{Kind: ErrAuthentication, Message: ErrInvalidCredentials.Error(), Reason: reason, Err: cause}
}

// NewAuthorizationError builds an AuthorizationFailure.
func NewAuthorizationError(reason string) *AuthError {
	return &AuthError{Kind: ErrAuthorization, Message: "insufficient permissions", Reason: reason}
}

// NewRateLimitedError builds a RateLimited error; retry timing is safe to disclose.
func NewRateLimitedError(reason string, retryAfter time.Duration) *AuthError {
	return &AuthError{Kind: ErrRateLimited, Message: "too many attempts, please try again later", Reason: reason, RetryAfter: retryAfter}
}

// NewAccountLockedError reports the remaining lockout. The account lock is
// authoritative over the per-origin attempt budget.
func NewAccountLockedError(retryAfter time.Duration) *AuthError {
	return &AuthError{Kind: ErrAuthentication, Message: ErrAccountLocked.Error(), Reason: "account_locked", RetryAfter: retryAfter, Err: ErrAccountLocked}
}

// NewSessionInvalidError is what callers see for replay, fingerprint mismatch,
// expired and revoked sessions alike.
func NewSessionInvalidError(reason string, cause error) *AuthError {
	return &AuthError{Kind: ErrAuthentication, Message: ErrSessionInvalid.Error(), Reason: reason, Err: errors.Join(ErrSessionInvalid, cause)}
}

// NewStorageError wraps a transient storage failure.
func NewStorageError(reason string, cause error) *AuthError {
	return &AuthError{Kind: ErrStorage, Message: "service temporarily unavailable", Reason: reason, Err: cause}
}

// NewInternalError hides an unexpected failure behind a generic message.
func NewInternalError(reason string, cause error) *AuthError {
	return &AuthError{Kind: ErrInternal, Message: ErrInternal.Error(), Reason: reason, Err: cause}
}

// ReasonOf extracts the internal reason from err, if any.
func ReasonOf(err error) string {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Reason
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
