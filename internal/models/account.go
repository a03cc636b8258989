package models

import (
	"time"
)

// Default role assigned on registration. Roles are opaque to this service.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Account is the persisted identity record. Verification and reset tokens are
// only ever stored as SHA-256 hashes.
type Account struct {
	ID           string
	Email        string // lower-cased, trimmed
	PasswordHash string
	Role         string

	EmailVerified         bool
	VerificationTokenHash *string
	VerificationExpiresAt *time.Time
	VerificationSentAt    *time.Time

	ResetTokenHash *string
	ResetExpiresAt *time.Time

	FailedLoginAttempts int
	LockedUntil         *time.Time

	LastLoginAt *time.Time
	LastLoginIP *string

	TwoFactorEnabled  bool
	PasswordChangedAt *time.Time

	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsLocked reports whether the account lock is still in force at now.
func (a *Account) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// LockRemaining returns how long the account stays locked, or zero.
func (a *Account) LockRemaining(now time.Time) time.Duration {
	if !a.IsLocked(now) {
		return 0
	}
	return a.LockedUntil.Sub(now)
}

// IsDeleted reports whether the account carries a soft-delete marker.
func (a *Account) IsDeleted() bool {
	return a.DeletedAt != nil
}

// AccountProfile is the caller-safe view of an account.
type AccountProfile struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Role             string     `json:"role"`
	EmailVerified    bool       `json:"email_verified"`
	TwoFactorEnabled bool       `json:"two_factor_enabled"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Profile converts the account into its caller-safe view.
func (a *Account) Profile() *AccountProfile {
	return &AccountProfile{
		ID:               a.ID,
		Email:            a.Email,
		Role:             a.Role,
		EmailVerified:    a.EmailVerified,
		TwoFactorEnabled: a.TwoFactorEnabled,
		LastLoginAt:      a.LastLoginAt,
		CreatedAt:        a.CreatedAt,
	}
}
