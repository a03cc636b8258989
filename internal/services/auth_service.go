package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/authcore/internal/auth"
	"github.com/BradenHooton/authcore/internal/models"
	pkgauth "github.com/BradenHooton/authcore/pkg/auth"
	pkglogger "github.com/BradenHooton/authcore/pkg/logger"
	"github.com/google/uuid"
)

// AuthConfig holds the facade's flow settings
type AuthConfig struct {
	RequireEmailVerification   bool
	VerificationTokenExpiry    time.Duration
	VerificationResendCooldown time.Duration
	ResetTokenExpiry           time.Duration
	BreachCheckTimeout         time.Duration
}

// AuthDeps are the collaborators of AuthService
type AuthDeps struct {
	Accounts AccountRepository
	Sessions *SessionService
	Guard    *AttemptGuard
	Audit    *AuditService
	Policy   *pkgauth.Policy
	Hasher   *pkgauth.Hasher
	Breach   pkgauth.BreachChecker
	Mailer   Mailer
	Timing   *auth.TimingDelay
}

// AuthService is the only entry point other subsystems call. Every public
// method writes exactly one audit event and returns only *models.AuthError.
type AuthService struct {
	accounts AccountRepository
	sessions *SessionService
	guard    *AttemptGuard
	audit    *AuditService
	policy   *pkgauth.Policy
	hasher   *pkgauth.Hasher
	breach   pkgauth.BreachChecker
	mailer   Mailer
	timing   *auth.TimingDelay
	config   AuthConfig
	logger   *slog.Logger
	now      func() time.Time

	// dummyHash is verified against when the email is unknown so both
	// paths spend the same hashing time
	dummyHash string
}

// NewAuthService creates a new AuthService
func NewAuthService(deps AuthDeps, config AuthConfig, logger *slog.Logger) *AuthService {
	if deps.Breach == nil {
		deps.Breach = pkgauth.NoopBreachChecker{}
	}
	if config.BreachCheckTimeout <= 0 {
		config.BreachCheckTimeout = 2 * time.Second
	}

	s := &AuthService{
		accounts: deps.Accounts,
		sessions: deps.Sessions,
		guard:    deps.Guard,
		audit:    deps.Audit,
		policy:   deps.Policy,
		hasher:   deps.Hasher,
		breach:   deps.Breach,
		mailer:   deps.Mailer,
		timing:   deps.Timing,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}

	if dummy, err := s.hasher.Hash("timing-equalization-placeholder"); err == nil {
		s.dummyHash = dummy
	} else {
		logger.Warn("failed to prepare dummy password hash", slog.Any("error", err))
	}
	return s
}

// RegisterInput is the payload of Register
type RegisterInput struct {
	Email      string
	Password   string
	RememberMe bool
}

// LoginInput is the payload of Login
type LoginInput struct {
	Email      string
	Password   string
	RememberMe bool
}

// AuthResult is returned by flows that open a session
type AuthResult struct {
	Account *models.AccountProfile
	Session *SessionBundle
}

// LoginResult is either a session or a second-factor challenge
type LoginResult struct {
	RequiresSecondFactor bool
	AccountID            string
	*AuthResult
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// requireID rejects identifiers that cannot name a stored row. The audit
// event only references an account once its id has passed this check.
func requireID(id, label, reasonPrefix string) error {
	if strings.TrimSpace(id) == "" {
		return models.NewValidationError(label+" is required", reasonPrefix+"_missing")
	}
	if _, err := uuid.Parse(id); err != nil {
		return models.NewValidationError(label+" is invalid", reasonPrefix+"_invalid")
	}
	return nil
}

// checkNewPassword runs the strength policy and the breach lookup
func (s *AuthService) checkNewPassword(ctx context.Context, password string) error {
	result := s.policy.Validate(password)
	if !result.OK {
		return models.NewValidationError("password does not meet requirements", "weak_password", result.Violations...)
	}

	breachCtx, cancel := context.WithTimeout(ctx, s.config.BreachCheckTimeout)
	defer cancel()
	if pkgauth.CheckBreached(breachCtx, s.breach, password, s.logger) {
		return models.NewValidationError("password has appeared in a data breach, choose another", "breached_password",
			"password has appeared in a known data breach")
	}
	return nil
}

// Register creates an unverified account and logs it in straight away
func (s *AuthService) Register(ctx context.Context, in RegisterInput, meta RequestMeta) (res *AuthResult, err error) {
	op := s.begin(ctx, models.AuditEventRegister, meta)
	defer op.finish(&err)

	email := normalizeEmail(in.Email)
	op.detail("email", pkglogger.SanitizedEmail(email))
	if err := models.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := s.checkNewPassword(ctx, in.Password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, models.NewInternalError("password_hash_failed", err)
	}

	account := &models.Account{
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleUser,
	}
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.NewValidationError("email already registered", "duplicate_email")
		}
		return nil, models.NewStorageError("account_create_failed", err)
	}
	op.account(account.ID)

	if err := s.sendVerification(ctx, account); err != nil {
		// The account exists; the user can ask for another link.
		s.logger.Error("failed to deliver verification token",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		op.detail("verification_sent", false)
	} else {
		op.detail("verification_sent", true)
	}

	bundle, err := s.sessions.CreateSession(ctx, CreateSessionParams{
		AccountID:   account.ID,
		Role:        account.Role,
		UserAgent:   meta.UserAgent,
		IPAddress:   meta.IPAddress,
		Fingerprint: meta.Fingerprint,
		RememberMe:  in.RememberMe,
	})
	if err != nil {
		return nil, err
	}
	op.detail("session_id", bundle.Session.ID)

	s.logger.Info("account registered", slog.String("account_id", account.ID))
	return &AuthResult{Account: account.Profile(), Session: bundle}, nil
}

// sendVerification stores a fresh verification token hash and mails the token
func (s *AuthService) sendVerification(ctx context.Context, account *models.Account) error {
	token, err := pkgauth.GenerateToken()
	if err != nil {
		return err
	}
	now := s.now()
	expiresAt := now.Add(s.config.VerificationTokenExpiry)
	if err := s.accounts.SetVerificationToken(ctx, account.ID, pkgauth.HashToken(token), expiresAt, now); err != nil {
		return err
	}
	return s.mailer.SendVerificationEmail(ctx, account.Email, token, expiresAt)
}

// Login authenticates with email and password. Unknown email and wrong
// password are indistinguishable to the caller, in message and in timing.
func (s *AuthService) Login(ctx context.Context, in LoginInput, meta RequestMeta) (res *LoginResult, err error) {
	op := s.begin(ctx, models.AuditEventLogin, meta)
	defer op.finish(&err)

	start := time.Now()
	email := normalizeEmail(in.Email)
	op.detail("email", pkglogger.SanitizedEmail(email))
	if email == "" || in.Password == "" {
		return nil, models.NewValidationError("email and password are required", "credentials_missing")
	}

	if err := s.guard.CheckAllowed(ctx, email, meta.IPAddress); err != nil {
		return nil, err
	}

	account, err := s.accounts.GetAccountByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		s.hasher.Verify(in.Password, s.dummyHash)
		s.guard.RecordAttempt(ctx, email, meta.IPAddress, meta.UserAgent, false, "unknown_email")
		s.timing.WaitFrom(ctx, start, false)
		return nil, models.NewAuthenticationError("unknown_email", nil)
	}
	if err != nil {
		return nil, models.NewStorageError("account_lookup_failed", err)
	}
	op.account(account.ID)

	now := s.now()
	if account.IsLocked(now) {
		s.guard.RecordAttempt(ctx, email, meta.IPAddress, meta.UserAgent, false, "account_locked")
		return nil, models.NewAccountLockedError(account.LockRemaining(now))
	}

	if !s.hasher.Verify(in.Password, account.PasswordHash) {
		if updated, incErr := s.guard.IncrementFailures(ctx, account.ID); incErr != nil {
			s.logger.Error("failed to increment failed logins",
				slog.String("account_id", account.ID),
				slog.Any("error", incErr))
		} else {
			op.detail("failed_attempts", updated.FailedLoginAttempts)
			op.detail("locked", updated.IsLocked(now))
		}
		s.guard.RecordAttempt(ctx, email, meta.IPAddress, meta.UserAgent, false, "invalid_password")
		s.timing.WaitFrom(ctx, start, false)
		return nil, models.NewAuthenticationError("invalid_password", nil)
	}

	if s.config.RequireEmailVerification && !account.EmailVerified {
		s.guard.RecordAttempt(ctx, email, meta.IPAddress, meta.UserAgent, false, "email_not_verified")
		s.timing.WaitFrom(ctx, start, false)
		return nil, models.NewAuthenticationError("email_not_verified", models.ErrEmailNotVerified)
	}

	if account.TwoFactorEnabled {
		s.guard.RecordAttempt(ctx, email, meta.IPAddress, meta.UserAgent, true, "")
		op.note("second_factor_required")
		return &LoginResult{RequiresSecondFactor: true, AccountID: account.ID}, nil
	}

	s.rehashIfNeeded(ctx, account, in.Password)

	bundle, err := s.sessions.CreateSession(ctx, CreateSessionParams{
		AccountID:   account.ID,
		Role:        account.Role,
		UserAgent:   meta.UserAgent,
		IPAddress:   meta.IPAddress,
		Fingerprint: meta.Fingerprint,
		RememberMe:  in.RememberMe,
	})
	if err != nil {
		return nil, err
	}
	op.detail("session_id", bundle.Session.ID)
	op.detail("family_id", bundle.Session.FamilyID)

	s.guard.RecordAttempt(ctx, email, meta.IPAddress, meta.UserAgent, true, "")
	s.timing.WaitFrom(ctx, start, true)

	return &LoginResult{
		AccountID:  account.ID,
		AuthResult: &AuthResult{Account: account.Profile(), Session: bundle},
	}, nil
}

// rehashIfNeeded upgrades a digest made with an older algorithm or work
// factor. Failure only costs the upgrade.
func (s *AuthService) rehashIfNeeded(ctx context.Context, account *models.Account, password string) {
	if !s.hasher.NeedsRehash(account.PasswordHash) {
		return
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Warn("rehash failed", slog.String("account_id", account.ID), slog.Any("error", err))
		return
	}

	changedAt := account.CreatedAt
	if account.PasswordChangedAt != nil {
		changedAt = *account.PasswordChangedAt
	}
	if err := s.accounts.UpdatePasswordHash(ctx, account.ID, hash, changedAt); err != nil {
		s.logger.Warn("failed to store upgraded hash", slog.String("account_id", account.ID), slog.Any("error", err))
		return
	}
	s.logger.Info("password hash upgraded", slog.String("account_id", account.ID))
}

// Refresh rotates the session behind refreshToken
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (res *SessionBundle, err error) {
	op := s.begin(ctx, models.AuditEventTokenRefresh, meta)
	defer op.finish(&err)

	if strings.TrimSpace(refreshToken) == "" {
		return nil, models.NewSessionInvalidError("refresh_token_missing", nil)
	}

	bundle, err := s.sessions.RefreshSession(ctx, refreshToken, meta.Fingerprint)
	if err != nil {
		return nil, err
	}
	op.account(bundle.Session.AccountID)
	op.detail("session_id", bundle.Session.ID)
	op.detail("family_id", bundle.Session.FamilyID)
	return bundle, nil
}

// Logout revokes the caller's current session
func (s *AuthService) Logout(ctx context.Context, caller Caller, meta RequestMeta) (err error) {
	op := s.begin(ctx, models.AuditEventLogout, meta)
	defer op.finish(&err)
	op.account(caller.AccountID)
	op.detail("session_id", caller.SessionID)

	return s.sessions.InvalidateSession(ctx, caller.SessionID, models.RevokeReasonLogout)
}

// LogoutAllDevices revokes every session of the caller, the current one included
func (s *AuthService) LogoutAllDevices(ctx context.Context, caller Caller, meta RequestMeta) (revoked int, err error) {
	op := s.begin(ctx, models.AuditEventLogoutAll, meta)
	defer op.finish(&err)
	op.account(caller.AccountID)

	ids, err := s.sessions.InvalidateUserSessions(ctx, caller.AccountID, models.RevokeReasonLogoutAll, "")
	if err != nil {
		return 0, err
	}
	op.detail("revoked_sessions", len(ids))
	return len(ids), nil
}

// GetCurrentUser returns the caller's profile
func (s *AuthService) GetCurrentUser(ctx context.Context, caller Caller, meta RequestMeta) (profile *models.AccountProfile, err error) {
	op := s.begin(ctx, models.AuditEventGetCurrentUser, meta)
	defer op.finish(&err)
	op.account(caller.AccountID)

	account, err := s.accounts.GetAccountByID(ctx, caller.AccountID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.NewSessionInvalidError("account_unavailable", err)
	}
	if err != nil {
		return nil, models.NewStorageError("account_lookup_failed", err)
	}
	return account.Profile(), nil
}

// ListSessions returns every session of the caller, flagging the current one
func (s *AuthService) ListSessions(ctx context.Context, caller Caller, meta RequestMeta) (list []models.SessionInfo, err error) {
	op := s.begin(ctx, models.AuditEventListSessions, meta)
	defer op.finish(&err)
	op.account(caller.AccountID)

	list, err = s.sessions.ListSessions(ctx, caller.AccountID, caller.SessionID)
	if err != nil {
		return nil, err
	}
	op.detail("count", len(list))
	return list, nil
}

// RevokeSession revokes one of the caller's own sessions
func (s *AuthService) RevokeSession(ctx context.Context, caller Caller, sessionID string, meta RequestMeta) (err error) {
	op := s.begin(ctx, models.AuditEventRevokeSession, meta)
	defer op.finish(&err)
	op.account(caller.AccountID)
	op.detail("session_id", sessionID)

	if err := requireID(sessionID, "session id", "session_id"); err != nil {
		return err
	}

	target, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrSessionInvalid) {
			// Unknown and foreign sessions look the same to the caller.
			return models.NewAuthorizationError("session_not_found")
		}
		return err
	}
	if target.AccountID != caller.AccountID {
		return models.NewAuthorizationError("session_not_owned")
	}

	return s.sessions.InvalidateSession(ctx, sessionID, models.RevokeReasonUserRevoked)
}

// IssueCSRFToken mints a fresh CSRF token for the caller's session
func (s *AuthService) IssueCSRFToken(ctx context.Context, caller Caller, meta RequestMeta) (token string, expiresAt time.Time, err error) {
	op := s.begin(ctx, models.AuditEventIssueCSRFToken, meta)
	defer op.finish(&err)
	op.account(caller.AccountID)
	op.detail("session_id", caller.SessionID)

	return s.sessions.IssueCSRFToken(ctx, caller.SessionID)
}

// AdminRevokeAccountSessions revokes every session of another account.
// The route enforces the admin role; the role is checked here as well.
func (s *AuthService) AdminRevokeAccountSessions(ctx context.Context, caller Caller, accountID string, meta RequestMeta) (revoked int, err error) {
	op := s.begin(ctx, models.AuditEventAdminRevokeSessions, meta)
	defer op.finish(&err)
	op.detail("actor_id", caller.AccountID)

	if caller.Role != models.RoleAdmin {
		return 0, models.NewAuthorizationError("admin_role_required")
	}
	if err := requireID(accountID, "account id", "account_id"); err != nil {
		return 0, err
	}
	op.account(accountID)

	ids, err := s.sessions.InvalidateUserSessions(ctx, accountID, models.RevokeReasonAdmin, "")
	if err != nil {
		return 0, err
	}
	op.detail("revoked_sessions", len(ids))
	return len(ids), nil
}

// AdminSoftDeleteAccount marks another account deleted and revokes all of
// its sessions. The row is kept so audit history still resolves.
func (s *AuthService) AdminSoftDeleteAccount(ctx context.Context, caller Caller, accountID string, meta RequestMeta) (revoked int, err error) {
	op := s.begin(ctx, models.AuditEventAdminDeleteAccount, meta)
	defer op.finish(&err)
	op.detail("actor_id", caller.AccountID)

	if caller.Role != models.RoleAdmin {
		return 0, models.NewAuthorizationError("admin_role_required")
	}
	if err := requireID(accountID, "account id", "account_id"); err != nil {
		return 0, err
	}
	if accountID == caller.AccountID {
		return 0, models.NewValidationError("you cannot delete your own account", "self_delete")
	}
	op.account(accountID)

	if err := s.accounts.SoftDeleteAccount(ctx, accountID, s.now()); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return 0, models.NewValidationError("account not found", "account_not_found")
		}
		return 0, err
	}

	// Access tokens stop verifying once their session is gone.
	ids, err := s.sessions.InvalidateUserSessions(ctx, accountID, models.RevokeReasonAccountDeleted, "")
	if err != nil {
		return 0, err
	}
	op.detail("revoked_sessions", len(ids))
	return len(ids), nil
}
