package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Event types for audit logging, one per public operation
const (
	AuditEventRegister             = "register"
	AuditEventLogin                = "login"
	AuditEventLogout               = "logout"
	AuditEventLogoutAll            = "logout_all"
	AuditEventTokenRefresh         = "token_refresh"
	AuditEventGetCurrentUser       = "get_current_user"
	AuditEventPasswordResetRequest = "password_reset_request"
	AuditEventPasswordResetConfirm = "password_reset_confirm"
	AuditEventPasswordChange       = "password_change"
	AuditEventEmailVerify          = "email_verify"
	AuditEventResendVerification   = "resend_verification"
	AuditEventListSessions         = "list_sessions"
	AuditEventRevokeSession        = "revoke_session"
	AuditEventIssueCSRFToken       = "issue_csrf_token"
	AuditEventAdminRevokeSessions  = "admin_revoke_sessions"
	AuditEventAdminDeleteAccount   = "admin_delete_account"
)

// Outcome statuses
const (
	AuditStatusSuccess = "success"
	AuditStatusFailure = "failure"
	AuditStatusBlocked = "blocked"
)

// AuditEvent is an append-only security event
type AuditEvent struct {
	ID        string        `db:"id" json:"id"`
	AccountID *string       `db:"account_id" json:"account_id,omitempty"`
	EventType string        `db:"event_type" json:"event_type"`
	Status    string        `db:"status" json:"status"`
	Reason    *string       `db:"reason" json:"reason,omitempty"`
	IPAddress *string       `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent *string       `db:"user_agent" json:"user_agent,omitempty"`
	Detail    AuditMetadata `db:"detail" json:"detail,omitempty"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
}

// AuditMetadata holds structured detail for audit events
type AuditMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (am *AuditMetadata) Scan(value interface{}) error {
	if value == nil {
		*am = make(AuditMetadata)
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return ErrValidation
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*am = AuditMetadata(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (am AuditMetadata) Value() (driver.Value, error) {
	if am == nil {
		return nil, nil
	}
	return json.Marshal(map[string]interface{}(am))
}
