package models

import "time"

// SessionState is derived from the stored session fields
type SessionState string

const (
	SessionActive  SessionState = "active"
	SessionRotated SessionState = "rotated"
	SessionRevoked SessionState = "revoked"
	SessionExpired SessionState = "expired"
)

// Revocation reasons recorded on sessions
const (
	RevokeReasonLogout          = "logout"
	RevokeReasonLogoutAll       = "logout_all"
	RevokeReasonReplay          = "refresh_token_reuse"
	RevokeReasonFingerprint     = "fingerprint_mismatch"
	RevokeReasonPasswordReset   = "password_reset"
	RevokeReasonPasswordChange  = "password_change"
	RevokeReasonAdmin           = "admin_action"
	RevokeReasonUserRevoked     = "user_revoked"
	RevokeReasonAccountNotFound = "account_unavailable"
	RevokeReasonAccountDeleted  = "account_deleted"
)

// Session is one authenticated device/browser lineage. Every session created
// by rotation shares the FamilyID of the login that started the lineage.
type Session struct {
	ID               string
	AccountID        string
	RefreshTokenHash string
	FamilyID         string
	FingerprintHash  *string
	IPAddress        *string
	UserAgent        *string
	RememberMe       bool
	IsValid          bool
	CreatedAt        time.Time
	LastActivityAt   time.Time
	ExpiresAt        time.Time
	RotatedAt        *time.Time
	ReplacedBy       *string
	RevokedAt        *time.Time
	RevokeReason     *string
}

// State derives the lifecycle state at now. Expiry is always checked here,
// never left to a background sweep.
func (s *Session) State(now time.Time, idleTimeout time.Duration) SessionState {
	switch {
	case s.RevokedAt != nil:
		return SessionRevoked
	case s.RotatedAt != nil:
		return SessionRotated
	case !s.IsValid:
		return SessionRevoked
	case !now.Before(s.ExpiresAt):
		return SessionExpired
	case idleTimeout > 0 && now.Sub(s.LastActivityAt) > idleTimeout:
		return SessionExpired
	default:
		return SessionActive
	}
}

// IsActive is shorthand for State(...) == SessionActive
func (s *Session) IsActive(now time.Time, idleTimeout time.Duration) bool {
	return s.State(now, idleTimeout) == SessionActive
}

// SessionInfo is the caller-facing view returned by listSessions
type SessionInfo struct {
	ID             string       `json:"id"`
	FamilyID       string       `json:"family_id"`
	State          SessionState `json:"state"`
	Current        bool         `json:"current"`
	IPAddress      string       `json:"ip_address,omitempty"`
	UserAgent      string       `json:"user_agent,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	LastActivityAt time.Time    `json:"last_activity_at"`
	ExpiresAt      time.Time    `json:"expires_at"`
	RevokedAt      *time.Time   `json:"revoked_at,omitempty"`
	RevokeReason   string       `json:"revoke_reason,omitempty"`
}

// CSRFToken is a single-use anti-forgery token bound to one session
type CSRFToken struct {
	TokenHash string
	SessionID string
	Used      bool
	UsedAt    *time.Time
	CreatedAt time.Time
	ExpiresAt time.Time
}
