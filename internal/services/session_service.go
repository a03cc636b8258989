package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/authcore/internal/auth"
	"github.com/BradenHooton/authcore/internal/models"
	pkgauth "github.com/BradenHooton/authcore/pkg/auth"
	"github.com/google/uuid"
)

// SessionConfig holds session lifetimes
type SessionConfig struct {
	SessionDuration    time.Duration
	RememberMeDuration time.Duration
	IdleTimeout        time.Duration // zero disables the idle check
}

// CreateSessionParams describes the device a session is opened for
type CreateSessionParams struct {
	AccountID   string
	Role        string
	UserAgent   string
	IPAddress   string
	Fingerprint string
	RememberMe  bool
}

// SessionBundle is a session together with the credentials minted for it.
// The raw refresh and CSRF tokens exist only here, never in storage.
type SessionBundle struct {
	Session         *models.Session
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
	CSRFToken       string
	CSRFExpiresAt   time.Time
}

// FamilyRevokedError is attached to a replay failure and carries how much of
// the family was revoked.
type FamilyRevokedError struct {
	FamilyID string
	Revoked  []string
}

func (e *FamilyRevokedError) Error() string {
	return fmt.Sprintf("family %s revoked (%d sessions)", e.FamilyID, len(e.Revoked))
}

func (e *FamilyRevokedError) Unwrap() error { return models.ErrReplayDetected }

// SessionService creates, rotates and revokes sessions. Refresh tokens are
// single use: presenting one twice revokes its whole family.
type SessionService struct {
	sessions SessionRepository
	accounts AccountRepository
	tm       *auth.TokenManager
	csrf     *auth.CSRFTokenManager
	config   SessionConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewSessionService creates a new SessionService
func NewSessionService(sessions SessionRepository, accounts AccountRepository, tm *auth.TokenManager, csrf *auth.CSRFTokenManager, config SessionConfig, logger *slog.Logger) *SessionService {
	if config.RememberMeDuration < config.SessionDuration {
		config.RememberMeDuration = config.SessionDuration
	}
	return &SessionService{
		sessions: sessions,
		accounts: accounts,
		tm:       tm,
		csrf:     csrf,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateSession starts a new family. It also records the login on the
// account, which resets the failure counter and any lock.
func (s *SessionService) CreateSession(ctx context.Context, params CreateSessionParams) (*SessionBundle, error) {
	now := s.now()

	lifetime := s.config.SessionDuration
	if params.RememberMe {
		lifetime = s.config.RememberMeDuration
	}

	session := &models.Session{
		ID:             uuid.NewString(),
		AccountID:      params.AccountID,
		FamilyID:       uuid.NewString(),
		IPAddress:      optionalString(params.IPAddress),
		UserAgent:      optionalString(params.UserAgent),
		RememberMe:     params.RememberMe,
		IsValid:        true,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(lifetime),
	}
	if params.Fingerprint != "" {
		fph := pkgauth.HashToken(params.Fingerprint)
		session.FingerprintHash = &fph
	}

	refreshToken, err := s.tm.IssueRefresh(params.AccountID, params.Role, session.ID, session.FamilyID, params.Fingerprint)
	if err != nil {
		return nil, models.NewInternalError("refresh_token_issue_failed", err)
	}
	session.RefreshTokenHash = pkgauth.HashToken(refreshToken)

	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, models.NewStorageError("session_create_failed", err)
	}

	bundle, err := s.finishBundle(ctx, session, params.Role, refreshToken)
	if err != nil {
		return nil, err
	}

	if err := s.accounts.RecordSuccessfulLogin(ctx, params.AccountID, params.IPAddress, now); err != nil {
		return nil, models.NewStorageError("record_login_failed", err)
	}

	s.logger.Info("session created",
		slog.String("account_id", params.AccountID),
		slog.String("session_id", session.ID),
		slog.String("family_id", session.FamilyID),
		slog.Bool("remember_me", params.RememberMe))
	return bundle, nil
}

// finishBundle mints the access and CSRF tokens for a stored session
func (s *SessionService) finishBundle(ctx context.Context, session *models.Session, role, refreshToken string) (*SessionBundle, error) {
	accessToken, err := s.tm.IssueAccess(session.AccountID, role, session.ID)
	if err != nil {
		return nil, models.NewInternalError("access_token_issue_failed", err)
	}

	csrfToken, csrfExpiresAt, err := s.csrf.Issue(ctx, session.ID, session.ExpiresAt)
	if err != nil {
		return nil, models.NewStorageError("csrf_issue_failed", err)
	}

	return &SessionBundle{
		Session:         session,
		AccessToken:     accessToken,
		AccessExpiresAt: s.now().Add(s.tm.AccessExpiry()),
		RefreshToken:    refreshToken,
		CSRFToken:       csrfToken,
		CSRFExpiresAt:   csrfExpiresAt,
	}, nil
}

// RefreshSession rotates the session behind refreshToken into a new session
// of the same family. A token that no longer matches a valid session but
// names a known session is a replay and revokes the family.
func (s *SessionService) RefreshSession(ctx context.Context, refreshToken, fingerprint string) (*SessionBundle, error) {
	result := s.tm.Verify(refreshToken, models.TokenTypeRefresh)
	if !result.Valid {
		if result.Expired {
			return nil, models.NewSessionInvalidError("refresh_token_expired", result.Err)
		}
		return nil, models.NewSessionInvalidError("refresh_token_invalid", result.Err)
	}
	claims := result.Claims
	tokenHash := pkgauth.HashToken(refreshToken)

	session, err := s.sessions.GetValidSessionByHash(ctx, tokenHash)
	if errors.Is(err, models.ErrNotFound) {
		return nil, s.handleReuse(ctx, claims)
	}
	if err != nil {
		return nil, models.NewStorageError("session_lookup_failed", err)
	}

	now := s.now()
	if session.ID != claims.SessionID || session.AccountID != claims.AccountID {
		return nil, models.NewSessionInvalidError("session_claims_mismatch", nil)
	}
	if state := session.State(now, s.config.IdleTimeout); state != models.SessionActive {
		return nil, models.NewSessionInvalidError("session_"+string(state), nil)
	}

	if session.FingerprintHash != nil && fingerprint != "" && pkgauth.HashToken(fingerprint) != *session.FingerprintHash {
		if err := s.InvalidateSession(ctx, session.ID, models.RevokeReasonFingerprint); err != nil {
			return nil, err
		}
		s.logger.Warn("fingerprint mismatch on refresh, session revoked",
			slog.String("account_id", session.AccountID),
			slog.String("session_id", session.ID))
		return nil, models.NewSessionInvalidError("fingerprint_mismatch", models.ErrFingerprintMismatch)
	}

	account, err := s.accounts.GetAccountByID(ctx, session.AccountID)
	if errors.Is(err, models.ErrNotFound) {
		revoked, revokeErr := s.revokeFamily(ctx, session.FamilyID, models.RevokeReasonAccountNotFound)
		if revokeErr != nil {
			return nil, revokeErr
		}
		return nil, models.NewSessionInvalidError("account_unavailable", &FamilyRevokedError{FamilyID: session.FamilyID, Revoked: revoked})
	}
	if err != nil {
		return nil, models.NewStorageError("account_lookup_failed", err)
	}

	next := &models.Session{
		ID:              uuid.NewString(),
		AccountID:       session.AccountID,
		FamilyID:        session.FamilyID,
		FingerprintHash: session.FingerprintHash,
		IPAddress:       session.IPAddress,
		UserAgent:       session.UserAgent,
		RememberMe:      session.RememberMe,
		IsValid:         true,
		CreatedAt:       now,
		LastActivityAt:  now,
		ExpiresAt:       session.ExpiresAt,
	}

	newRefresh, err := s.tm.IssueRefresh(account.ID, account.Role, next.ID, next.FamilyID, fingerprint)
	if err != nil {
		return nil, models.NewInternalError("refresh_token_issue_failed", err)
	}
	next.RefreshTokenHash = pkgauth.HashToken(newRefresh)

	err = s.sessions.RotateSession(ctx, session.ID, tokenHash, next, now)
	if errors.Is(err, models.ErrRefreshHashMismatch) {
		// Another request rotated this token first; this one is a second use.
		return nil, s.handleReuse(ctx, claims)
	}
	if err != nil {
		return nil, models.NewStorageError("session_rotate_failed", err)
	}

	if err := s.csrf.RevokeForSessions(ctx, []string{session.ID}); err != nil {
		s.logger.Error("failed to drop csrf tokens of rotated session",
			slog.String("session_id", session.ID),
			slog.Any("error", err))
	}

	s.logger.Info("session rotated",
		slog.String("account_id", next.AccountID),
		slog.String("family_id", next.FamilyID),
		slog.String("from_session_id", session.ID),
		slog.String("to_session_id", next.ID))

	return s.finishBundle(ctx, next, account.Role, newRefresh)
}

// handleReuse revokes the family of the session named in claims, if known
func (s *SessionService) handleReuse(ctx context.Context, claims *models.TokenClaims) error {
	known, err := s.sessions.GetSessionByID(ctx, claims.SessionID)
	if errors.Is(err, models.ErrNotFound) {
		return models.NewSessionInvalidError("refresh_token_unknown", nil)
	}
	if err != nil {
		return models.NewStorageError("session_lookup_failed", err)
	}
	if known.AccountID != claims.AccountID {
		return models.NewSessionInvalidError("refresh_token_unknown", nil)
	}

	revoked, err := s.revokeFamily(ctx, known.FamilyID, models.RevokeReasonReplay)
	if err != nil {
		return err
	}

	s.logger.Warn("refresh token reuse detected, family revoked",
		slog.String("account_id", known.AccountID),
		slog.String("family_id", known.FamilyID),
		slog.Int("revoked_sessions", len(revoked)))
	return models.NewSessionInvalidError("refresh_token_reuse", &FamilyRevokedError{FamilyID: known.FamilyID, Revoked: revoked})
}

func (s *SessionService) revokeFamily(ctx context.Context, familyID, reason string) ([]string, error) {
	revoked, err := s.sessions.RevokeFamily(ctx, familyID, reason, s.now())
	if err != nil {
		return nil, models.NewStorageError("family_revoke_failed", err)
	}
	if err := s.csrf.RevokeForSessions(ctx, revoked); err != nil {
		return nil, models.NewStorageError("csrf_revoke_failed", err)
	}
	return revoked, nil
}

// InvalidateSession revokes one session and drops its CSRF tokens
func (s *SessionService) InvalidateSession(ctx context.Context, sessionID, reason string) error {
	if err := s.sessions.RevokeSession(ctx, sessionID, reason, s.now()); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.NewSessionInvalidError("session_not_found", err)
		}
		return models.NewStorageError("session_revoke_failed", err)
	}
	if err := s.csrf.RevokeForSessions(ctx, []string{sessionID}); err != nil {
		return models.NewStorageError("csrf_revoke_failed", err)
	}
	return nil
}

// InvalidateUserSessions revokes every valid session of accountID except
// exceptSessionID (empty revokes all) and returns the revoked IDs.
func (s *SessionService) InvalidateUserSessions(ctx context.Context, accountID, reason, exceptSessionID string) ([]string, error) {
	revoked, err := s.sessions.RevokeAccountSessions(ctx, accountID, reason, exceptSessionID, s.now())
	if err != nil {
		return nil, models.NewStorageError("session_revoke_failed", err)
	}
	if err := s.csrf.RevokeForSessions(ctx, revoked); err != nil {
		return nil, models.NewStorageError("csrf_revoke_failed", err)
	}

	s.logger.Info("account sessions revoked",
		slog.String("account_id", accountID),
		slog.String("reason", reason),
		slog.Int("count", len(revoked)))
	return revoked, nil
}

// ActiveSession returns the session only while it is active. It is the
// per-request check that makes revocation take effect immediately.
func (s *SessionService) ActiveSession(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := s.sessions.GetSessionByID(ctx, sessionID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.NewSessionInvalidError("session_not_found", err)
	}
	if err != nil {
		return nil, models.NewStorageError("session_lookup_failed", err)
	}
	if state := session.State(s.now(), s.config.IdleTimeout); state != models.SessionActive {
		return nil, models.NewSessionInvalidError("session_"+string(state), nil)
	}
	return session, nil
}

// GetSession returns the session in any state
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := s.sessions.GetSessionByID(ctx, sessionID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.NewSessionInvalidError("session_not_found", err)
	}
	if err != nil {
		return nil, models.NewStorageError("session_lookup_failed", err)
	}
	return session, nil
}

// ListSessions returns every session of the account with its derived state
func (s *SessionService) ListSessions(ctx context.Context, accountID, currentSessionID string) ([]models.SessionInfo, error) {
	list, err := s.sessions.ListSessionsByAccount(ctx, accountID)
	if err != nil {
		return nil, models.NewStorageError("session_list_failed", err)
	}

	now := s.now()
	infos := make([]models.SessionInfo, 0, len(list))
	for _, sess := range list {
		info := models.SessionInfo{
			ID:             sess.ID,
			FamilyID:       sess.FamilyID,
			State:          sess.State(now, s.config.IdleTimeout),
			Current:        sess.ID == currentSessionID,
			CreatedAt:      sess.CreatedAt,
			LastActivityAt: sess.LastActivityAt,
			ExpiresAt:      sess.ExpiresAt,
			RevokedAt:      sess.RevokedAt,
		}
		if sess.IPAddress != nil {
			info.IPAddress = *sess.IPAddress
		}
		if sess.UserAgent != nil {
			info.UserAgent = *sess.UserAgent
		}
		if sess.RevokeReason != nil {
			info.RevokeReason = *sess.RevokeReason
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// IssueCSRFToken mints a fresh CSRF token for an active session
func (s *SessionService) IssueCSRFToken(ctx context.Context, sessionID string) (string, time.Time, error) {
	session, err := s.ActiveSession(ctx, sessionID)
	if err != nil {
		return "", time.Time{}, err
	}
	token, expiresAt, err := s.csrf.Issue(ctx, session.ID, session.ExpiresAt)
	if err != nil {
		return "", time.Time{}, models.NewStorageError("csrf_issue_failed", err)
	}
	return token, expiresAt, nil
}

// ConsumeCSRFToken spends token for sessionID. It reports false for unknown,
// used, expired and foreign tokens alike.
func (s *SessionService) ConsumeCSRFToken(ctx context.Context, token, sessionID string) (bool, error) {
	ok, err := s.csrf.Consume(ctx, token, sessionID)
	if err != nil {
		return false, models.NewStorageError("csrf_consume_failed", err)
	}
	return ok, nil
}

// Sweep deletes sessions and CSRF tokens past their absolute expiry
func (s *SessionService) Sweep(ctx context.Context) (sessions int64, csrfTokens int64, err error) {
	now := s.now()
	if csrfTokens, err = s.csrf.Sweep(ctx); err != nil {
		return 0, 0, fmt.Errorf("csrf sweep: %w", err)
	}
	if sessions, err = s.sessions.DeleteExpiredSessions(ctx, now); err != nil {
		return 0, csrfTokens, fmt.Errorf("session sweep: %w", err)
	}
	return sessions, csrfTokens, nil
}
