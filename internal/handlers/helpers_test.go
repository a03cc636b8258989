package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/authcore/internal/auth"
	"github.com/BradenHooton/authcore/internal/models"
	"github.com/BradenHooton/authcore/internal/services"
	pkghttp "github.com/BradenHooton/authcore/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "handler-test/1.0")
	req.RemoteAddr = "203.0.113.7:40000"
	return req
}

// WithAuthContext adds access-token claims to the request context
func WithAuthContext(req *http.Request, accountID, sessionID, role string) *http.Request {
	claims := &models.TokenClaims{
		Type:      models.TokenTypeAccess,
		AccountID: accountID,
		SessionID: sessionID,
		Role:      role,
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

// WithURLParam sets a chi route parameter on the request
func WithURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target any) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	if target != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), target), "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// findCookie returns the named Set-Cookie of a response
func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func newTestHandler(t *testing.T, svc AuthFacade) *AuthHandler {
	t.Helper()
	ips, err := pkghttp.NewIPExtractor(nil)
	require.NoError(t, err)
	return NewAuthHandler(svc, auth.CookieConfig{Secure: true, SameSite: "strict"}, ips)
}

func testBundle() *services.SessionBundle {
	now := time.Now()
	return &services.SessionBundle{
		Session: &models.Session{
			ID:        "sess-1",
			AccountID: "acc-1",
			FamilyID:  "fam-1",
			ExpiresAt: now.Add(24 * time.Hour),
		},
		AccessToken:     "access.jwt",
		AccessExpiresAt: now.Add(15 * time.Minute),
		RefreshToken:    "refresh.jwt",
		CSRFToken:       "csrf-1",
		CSRFExpiresAt:   now.Add(time.Hour),
	}
}

// MockAuthFacade implements AuthFacade for testing
type MockAuthFacade struct {
	RegisterFunc             func(ctx context.Context, in services.RegisterInput, meta services.RequestMeta) (*services.AuthResult, error)
	LoginFunc                func(ctx context.Context, in services.LoginInput, meta services.RequestMeta) (*services.LoginResult, error)
	RefreshFunc              func(ctx context.Context, refreshToken string, meta services.RequestMeta) (*services.SessionBundle, error)
	LogoutFunc               func(ctx context.Context, caller services.Caller, meta services.RequestMeta) error
	LogoutAllDevicesFunc     func(ctx context.Context, caller services.Caller, meta services.RequestMeta) (int, error)
	GetCurrentUserFunc       func(ctx context.Context, caller services.Caller, meta services.RequestMeta) (*models.AccountProfile, error)
	RequestPasswordResetFunc func(ctx context.Context, email string, meta services.RequestMeta) error
	ConfirmPasswordResetFunc func(ctx context.Context, token, newPassword string, meta services.RequestMeta) error
	ChangePasswordFunc       func(ctx context.Context, caller services.Caller, currentPassword, newPassword string, meta services.RequestMeta) error
	VerifyEmailFunc          func(ctx context.Context, token string, meta services.RequestMeta) (*models.AccountProfile, error)
	ResendVerificationFunc   func(ctx context.Context, email string, meta services.RequestMeta) error
	ListSessionsFunc         func(ctx context.Context, caller services.Caller, meta services.RequestMeta) ([]models.SessionInfo, error)
	RevokeSessionFunc        func(ctx context.Context, caller services.Caller, sessionID string, meta services.RequestMeta) error
	IssueCSRFTokenFunc       func(ctx context.Context, caller services.Caller, meta services.RequestMeta) (string, time.Time, error)
	AdminRevokeFunc          func(ctx context.Context, caller services.Caller, accountID string, meta services.RequestMeta) (int, error)
	AdminDeleteFunc          func(ctx context.Context, caller services.Caller, accountID string, meta services.RequestMeta) (int, error)
}

func (m *MockAuthFacade) Register(ctx context.Context, in services.RegisterInput, meta services.RequestMeta) (*services.AuthResult, error) {
	if m.RegisterFunc == nil {
		return nil, models.NewInternalError("not_configured", nil)
	}
	return m.RegisterFunc(ctx, in, meta)
}

func (m *MockAuthFacade) Login(ctx context.Context, in services.LoginInput, meta services.RequestMeta) (*services.LoginResult, error) {
	if m.LoginFunc == nil {
		return nil, models.NewAuthenticationError("not_configured", nil)
	}
	return m.LoginFunc(ctx, in, meta)
}

func (m *MockAuthFacade) Refresh(ctx context.Context, refreshToken string, meta services.RequestMeta) (*services.SessionBundle, error) {
	if m.RefreshFunc == nil {
		return nil, models.NewSessionInvalidError("not_configured", nil)
	}
	return m.RefreshFunc(ctx, refreshToken, meta)
}

func (m *MockAuthFacade) Logout(ctx context.Context, caller services.Caller, meta services.RequestMeta) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, caller, meta)
}

func (m *MockAuthFacade) LogoutAllDevices(ctx context.Context, caller services.Caller, meta services.RequestMeta) (int, error) {
	if m.LogoutAllDevicesFunc == nil {
		return 0, nil
	}
	return m.LogoutAllDevicesFunc(ctx, caller, meta)
}

func (m *MockAuthFacade) GetCurrentUser(ctx context.Context, caller services.Caller, meta services.RequestMeta) (*models.AccountProfile, error) {
	if m.GetCurrentUserFunc == nil {
		return &models.AccountProfile{ID: caller.AccountID}, nil
	}
	return m.GetCurrentUserFunc(ctx, caller, meta)
}

func (m *MockAuthFacade) RequestPasswordReset(ctx context.Context, email string, meta services.RequestMeta) error {
	if m.RequestPasswordResetFunc == nil {
		return nil
	}
	return m.RequestPasswordResetFunc(ctx, email, meta)
}

func (m *MockAuthFacade) ConfirmPasswordReset(ctx context.Context, token, newPassword string, meta services.RequestMeta) error {
	if m.ConfirmPasswordResetFunc == nil {
		return nil
	}
	return m.ConfirmPasswordResetFunc(ctx, token, newPassword, meta)
}

func (m *MockAuthFacade) ChangePassword(ctx context.Context, caller services.Caller, currentPassword, newPassword string, meta services.RequestMeta) error {
	if m.ChangePasswordFunc == nil {
		return nil
	}
	return m.ChangePasswordFunc(ctx, caller, currentPassword, newPassword, meta)
}

func (m *MockAuthFacade) VerifyEmail(ctx context.Context, token string, meta services.RequestMeta) (*models.AccountProfile, error) {
	if m.VerifyEmailFunc == nil {
		return &models.AccountProfile{EmailVerified: true}, nil
	}
	return m.VerifyEmailFunc(ctx, token, meta)
}

func (m *MockAuthFacade) ResendVerification(ctx context.Context, email string, meta services.RequestMeta) error {
	if m.ResendVerificationFunc == nil {
		return nil
	}
	return m.ResendVerificationFunc(ctx, email, meta)
}

func (m *MockAuthFacade) ListSessions(ctx context.Context, caller services.Caller, meta services.RequestMeta) ([]models.SessionInfo, error) {
	if m.ListSessionsFunc == nil {
		return []models.SessionInfo{}, nil
	}
	return m.ListSessionsFunc(ctx, caller, meta)
}

func (m *MockAuthFacade) RevokeSession(ctx context.Context, caller services.Caller, sessionID string, meta services.RequestMeta) error {
	if m.RevokeSessionFunc == nil {
		return nil
	}
	return m.RevokeSessionFunc(ctx, caller, sessionID, meta)
}

func (m *MockAuthFacade) IssueCSRFToken(ctx context.Context, caller services.Caller, meta services.RequestMeta) (string, time.Time, error) {
	if m.IssueCSRFTokenFunc == nil {
		return "csrf-new", time.Now().Add(time.Hour), nil
	}
	return m.IssueCSRFTokenFunc(ctx, caller, meta)
}

func (m *MockAuthFacade) AdminRevokeAccountSessions(ctx context.Context, caller services.Caller, accountID string, meta services.RequestMeta) (int, error) {
	if m.AdminRevokeFunc == nil {
		return 0, nil
	}
	return m.AdminRevokeFunc(ctx, caller, accountID, meta)
}

func (m *MockAuthFacade) AdminSoftDeleteAccount(ctx context.Context, caller services.Caller, accountID string, meta services.RequestMeta) (int, error) {
	if m.AdminDeleteFunc == nil {
		return 0, nil
	}
	return m.AdminDeleteFunc(ctx, caller, accountID, meta)
}

// MockAuditTrail implements AuditTrail for testing
type MockAuditTrail struct {
	AccountTrailFunc func(ctx context.Context, accountID string, limit int) ([]*models.AuditEvent, error)
}

func (m *MockAuditTrail) AccountTrail(ctx context.Context, accountID string, limit int) ([]*models.AuditEvent, error) {
	if m.AccountTrailFunc == nil {
		return []*models.AuditEvent{}, nil
	}
	return m.AccountTrailFunc(ctx, accountID, limit)
}
