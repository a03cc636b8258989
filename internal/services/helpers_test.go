package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/authcore/internal/auth"
	"github.com/BradenHooton/authcore/internal/models"
	"github.com/BradenHooton/authcore/internal/repositories/memory"
	pkgauth "github.com/BradenHooton/authcore/pkg/auth"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testEmail    = "a@x.com"
	testPassword = "Str0ng!Pass"
)

// MockMailer implements Mailer and keeps the last token of each kind
type MockMailer struct {
	mu                sync.Mutex
	VerificationToken string
	ResetToken        string
	Sent              int

	SendVerificationEmailFunc  func(ctx context.Context, email, token string, expiresAt time.Time) error
	SendPasswordResetEmailFunc func(ctx context.Context, email, token string, expiresAt time.Time) error
}

func (m *MockMailer) SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	m.mu.Lock()
	m.VerificationToken = token
	m.Sent++
	m.mu.Unlock()
	if m.SendVerificationEmailFunc != nil {
		return m.SendVerificationEmailFunc(ctx, email, token, expiresAt)
	}
	return nil
}

func (m *MockMailer) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	m.mu.Lock()
	m.ResetToken = token
	m.Sent++
	m.mu.Unlock()
	if m.SendPasswordResetEmailFunc != nil {
		return m.SendPasswordResetEmailFunc(ctx, email, token, expiresAt)
	}
	return nil
}

func (m *MockMailer) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Sent
}

// MockBreachChecker implements pkgauth.BreachChecker for testing
type MockBreachChecker struct {
	IsCompromisedFunc func(ctx context.Context, password string) (bool, error)
}

func (m *MockBreachChecker) IsCompromised(ctx context.Context, password string) (bool, error) {
	if m.IsCompromisedFunc != nil {
		return m.IsCompromisedFunc(ctx, password)
	}
	return false, nil
}

// MockAuditLogRepository implements AuditLogRepository for testing
type MockAuditLogRepository struct {
	CreateAuditEventFunc         func(ctx context.Context, event *models.AuditEvent) error
	ListAuditEventsByAccountFunc func(ctx context.Context, accountID string, limit int) ([]*models.AuditEvent, error)
}

func (m *MockAuditLogRepository) CreateAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	if m.CreateAuditEventFunc != nil {
		return m.CreateAuditEventFunc(ctx, event)
	}
	return nil
}

func (m *MockAuditLogRepository) ListAuditEventsByAccount(ctx context.Context, accountID string, limit int) ([]*models.AuditEvent, error) {
	if m.ListAuditEventsByAccountFunc != nil {
		return m.ListAuditEventsByAccountFunc(ctx, accountID, limit)
	}
	return []*models.AuditEvent{}, nil
}

// MockLoginAttemptRepository implements LoginAttemptRepository for testing
type MockLoginAttemptRepository struct {
	RecordAttemptFunc         func(ctx context.Context, attempt *models.LoginAttempt) error
	FailedAttemptsSinceFunc   func(ctx context.Context, email, ipAddress string, since time.Time) (int, *time.Time, error)
	DeleteExpiredAttemptsFunc func(ctx context.Context, before time.Time) (int64, error)
}

func (m *MockLoginAttemptRepository) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	if m.RecordAttemptFunc != nil {
		return m.RecordAttemptFunc(ctx, attempt)
	}
	return nil
}

func (m *MockLoginAttemptRepository) FailedAttemptsSince(ctx context.Context, email, ipAddress string, since time.Time) (int, *time.Time, error) {
	if m.FailedAttemptsSinceFunc != nil {
		return m.FailedAttemptsSinceFunc(ctx, email, ipAddress, since)
	}
	return 0, nil, nil
}

func (m *MockLoginAttemptRepository) DeleteExpiredAttempts(ctx context.Context, before time.Time) (int64, error) {
	if m.DeleteExpiredAttemptsFunc != nil {
		return m.DeleteExpiredAttemptsFunc(ctx, before)
	}
	return 0, nil
}

// testClock is a settable clock shared by every service in a testEnv
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// testEnv wires the whole facade over the in-memory store
type testEnv struct {
	store    *memory.Store
	tm       *auth.TokenManager
	hasher   *pkgauth.Hasher
	sessions *SessionService
	guard    *AttemptGuard
	audit    *AuditService
	auth     *AuthService
	mailer   *MockMailer
	breach   *MockBreachChecker
	clock    *testClock
}

type testEnvOptions struct {
	requireVerification bool
	guard               AttemptGuardConfig
	session             SessionConfig
}

func defaultTestEnvOptions() testEnvOptions {
	return testEnvOptions{
		requireVerification: false,
		guard: AttemptGuardConfig{
			MaxLoginAttempts:     5,
			LockoutDuration:      15 * time.Minute,
			Window:               15 * time.Minute,
			MaxAttemptsPerOrigin: 10,
		},
		session: SessionConfig{
			SessionDuration:    24 * time.Hour,
			RememberMeDuration: 14 * 24 * time.Hour,
			IdleTimeout:        7 * 24 * time.Hour,
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, opts ...func(*testEnvOptions)) *testEnv {
	t.Helper()

	o := defaultTestEnvOptions()
	for _, opt := range opts {
		opt(&o)
	}

	logger := discardLogger()
	store := memory.NewStore()
	clock := &testClock{t: time.Now()}

	tm, err := auth.NewTokenManager(auth.TokenConfig{
		AccessSecret:  "access-secret-for-tests-0123456789abcdef",
		RefreshSecret: "refresh-secret-for-tests-0123456789abcdef",
		Issuer:        "authcore-test",
		Audience:      "authcore-test-clients",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 14 * 24 * time.Hour,
	})
	require.NoError(t, err)

	hasher, err := pkgauth.NewHasher(pkgauth.HasherConfig{Algorithm: pkgauth.AlgorithmBcrypt, BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)

	csrf := auth.NewCSRFTokenManager(store, time.Hour)

	sessions := NewSessionService(store, store, tm, csrf, o.session, logger)
	sessions.now = clock.Now

	guard := NewAttemptGuard(store, store, o.guard, logger)
	guard.now = clock.Now

	audit := NewAuditService(store, logger)
	mailer := &MockMailer{}
	breach := &MockBreachChecker{}

	svc := NewAuthService(AuthDeps{
		Accounts: store,
		Sessions: sessions,
		Guard:    guard,
		Audit:    audit,
		Policy: pkgauth.PolicyFromConfig(pkgauth.PolicyConfig{
			Algorithm:     pkgauth.AlgorithmBcrypt,
			MinLength:     8,
			RequireUpper:  true,
			RequireLower:  true,
			RequireDigit:  true,
			RequireSymbol: true,
			RejectCommon:  true,
		}),
		Hasher: hasher,
		Breach: breach,
		Mailer: mailer,
	}, AuthConfig{
		RequireEmailVerification:   o.requireVerification,
		VerificationTokenExpiry:    24 * time.Hour,
		VerificationResendCooldown: time.Minute,
		ResetTokenExpiry:           time.Hour,
	}, logger)
	svc.now = clock.Now

	return &testEnv{
		store:    store,
		tm:       tm,
		hasher:   hasher,
		sessions: sessions,
		guard:    guard,
		audit:    audit,
		auth:     svc,
		mailer:   mailer,
		breach:   breach,
		clock:    clock,
	}
}

func testMeta() RequestMeta {
	return RequestMeta{IPAddress: "203.0.113.7", UserAgent: "test-agent/1.0"}
}

// register creates the default account and returns its first session
func (e *testEnv) register(t *testing.T) *AuthResult {
	t.Helper()
	res, err := e.auth.Register(context.Background(), RegisterInput{Email: testEmail, Password: testPassword}, testMeta())
	require.NoError(t, err)
	return res
}

func (e *testEnv) login(t *testing.T) *SessionBundle {
	t.Helper()
	res, err := e.auth.Login(context.Background(), LoginInput{Email: testEmail, Password: testPassword}, testMeta())
	require.NoError(t, err)
	require.False(t, res.RequiresSecondFactor)
	return res.Session
}

func callerOf(b *SessionBundle) Caller {
	return Caller{AccountID: b.Session.AccountID, SessionID: b.Session.ID, Role: models.RoleUser}
}

// auditCount returns the number of stored audit events of eventType
func (e *testEnv) auditCount(eventType string) int {
	n := 0
	for _, ev := range e.store.AuditEvents() {
		if ev.EventType == eventType {
			n++
		}
	}
	return n
}

// lastAudit returns the most recent stored audit event
func (e *testEnv) lastAudit() *models.AuditEvent {
	events := e.store.AuditEvents()
	if len(events) == 0 {
		return nil
	}
	return events[len(events)-1]
}
