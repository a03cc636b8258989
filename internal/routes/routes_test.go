package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/authcore/internal/auth"
	"github.com/BradenHooton/authcore/internal/handlers"
	"github.com/BradenHooton/authcore/internal/middleware"
	"github.com/BradenHooton/authcore/internal/models"
	"github.com/BradenHooton/authcore/internal/repositories/memory"
	"github.com/BradenHooton/authcore/internal/services"
	pkgauth "github.com/BradenHooton/authcore/pkg/auth"
	pkghttp "github.com/BradenHooton/authcore/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testEmail    = "route@example.com"
	testPassword = "Correct-Horse-42!"
)

type testServer struct {
	router chi.Router
	store  *memory.Store
	hasher *pkgauth.Hasher
}

func newTestServer(t *testing.T, authBudget int) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()

	tm, err := auth.NewTokenManager(auth.TokenConfig{
		AccessSecret:  "access-secret-for-route-tests-0123456789",
		RefreshSecret: "refresh-secret-for-route-tests-0123456789",
		Issuer:        "authcore-test",
		Audience:      "authcore-test-clients",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 14 * 24 * time.Hour,
	})
	require.NoError(t, err)

	hasher, err := pkgauth.NewHasher(pkgauth.HasherConfig{Algorithm: pkgauth.AlgorithmBcrypt, BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)

	sessions := services.NewSessionService(store, store, tm, auth.NewCSRFTokenManager(store, time.Hour), services.SessionConfig{
		SessionDuration:    24 * time.Hour,
		RememberMeDuration: 14 * 24 * time.Hour,
	}, logger)
	guard := services.NewAttemptGuard(store, store, services.AttemptGuardConfig{
		MaxLoginAttempts:     5,
		LockoutDuration:      15 * time.Minute,
		Window:               15 * time.Minute,
		MaxAttemptsPerOrigin: 10,
	}, logger)
	audit := services.NewAuditService(store, logger)

	svc := services.NewAuthService(services.AuthDeps{
		Accounts: store,
		Sessions: sessions,
		Guard:    guard,
		Audit:    audit,
		Policy:   pkgauth.PolicyFromConfig(pkgauth.PolicyConfig{MinLength: 12, RequireDigit: true, RejectCommon: true}),
		Hasher:   hasher,
		Breach:   pkgauth.NoopBreachChecker{},
		Mailer:   services.NewLogMailer(logger),
	}, services.AuthConfig{
		VerificationTokenExpiry:    24 * time.Hour,
		VerificationResendCooldown: time.Minute,
		ResetTokenExpiry:           time.Hour,
	}, logger)

	ips, err := pkghttp.NewIPExtractor(nil)
	require.NoError(t, err)
	cookies := auth.CookieConfig{Secure: true, SameSite: "strict"}

	router := chi.NewRouter()
	RegisterRoutes(router, handlers.NewAuthHandler(svc, cookies, ips), handlers.NewAuditHandler(audit), Deps{
		Tokens:        tm,
		Sessions:      sessions,
		Accounts:      store,
		IPs:           ips,
		Cookies:       cookies,
		SessionCheck:  auth.SessionCheckConfig{FailClosed: true},
		RateLimit:     middleware.RateLimitConfig{Requests: 1000, Window: time.Minute},
		AuthRateLimit: middleware.RateLimitConfig{Requests: authBudget, Window: time.Minute},
		Logger:        logger,
	})

	return &testServer{router: router, store: store, hasher: hasher}
}

type request struct {
	method  string
	path    string
	body    any
	access  string
	refresh string
	csrf    string
}

func (s *testServer) do(t *testing.T, r request) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if r.body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(r.body))
	}
	req := httptest.NewRequest(r.method, r.path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "198.51.100.4:5000"
	if r.access != "" {
		req.Header.Set("Authorization", "Bearer "+r.access)
	}
	if r.refresh != "" {
		req.AddCookie(&http.Cookie{Name: auth.RefreshTokenCookie, Value: r.refresh})
	}
	if r.csrf != "" {
		req.Header.Set(auth.CSRFTokenHeader, r.csrf)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type session struct {
	access  string
	refresh string
	csrf    string
	id      string
}

func sessionFrom(t *testing.T, w *httptest.ResponseRecorder) session {
	t.Helper()
	var resp handlers.SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	s := session{access: resp.AccessToken, csrf: resp.CSRFToken, id: resp.SessionID}
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.RefreshTokenCookie {
			s.refresh = c.Value
		}
	}
	require.NotEmpty(t, s.refresh, "refresh cookie missing")
	return s
}

func (s *testServer) registerAndLogin(t *testing.T) session {
	t.Helper()
	w := s.do(t, request{method: http.MethodPost, path: "/auth/register", body: map[string]any{"email": testEmail, "password": testPassword}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return sessionFrom(t, w)
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp.Error
}

func TestRefreshRotationAndReplay(t *testing.T) {
	s := newTestServer(t, 100)
	first := s.registerAndLogin(t)

	w := s.do(t, request{method: http.MethodGet, path: "/auth/me", access: first.access})
	require.Equal(t, http.StatusOK, w.Code)

	// Cookie-borne refresh without a CSRF token is refused
	w = s.do(t, request{method: http.MethodPost, path: "/auth/refresh", refresh: first.refresh})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, request{method: http.MethodPost, path: "/auth/refresh", refresh: first.refresh, csrf: first.csrf})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	second := sessionFrom(t, w)
	assert.NotEqual(t, first.refresh, second.refresh)
	assert.NotEqual(t, first.id, second.id)

	// Replaying the rotated token reaches reuse detection and kills the family
	w = s.do(t, request{method: http.MethodPost, path: "/auth/refresh", refresh: first.refresh, csrf: second.csrf})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "session is no longer valid")

	w = s.do(t, request{method: http.MethodPost, path: "/auth/refresh", refresh: second.refresh, csrf: second.csrf})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "the successor is revoked with its family")

	w = s.do(t, request{method: http.MethodGet, path: "/auth/me", access: second.access})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "access tokens of a revoked session stop working")

	var replay *models.AuditEvent
	for _, e := range s.store.AuditEvents() {
		if e.EventType == models.AuditEventTokenRefresh && e.Reason != nil && *e.Reason == models.RevokeReasonReplay {
			replay = e
		}
	}
	require.NotNil(t, replay, "replay must be audited")
	assert.Equal(t, models.AuditStatusFailure, replay.Status)
}

func TestRefreshFromBodySkipsCSRF(t *testing.T) {
	s := newTestServer(t, 100)
	first := s.registerAndLogin(t)

	w := s.do(t, request{method: http.MethodPost, path: "/auth/refresh", body: map[string]string{"refresh_token": first.refresh}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestProtectedRoutesRequireCSRF(t *testing.T) {
	s := newTestServer(t, 100)
	sess := s.registerAndLogin(t)

	w := s.do(t, request{method: http.MethodPost, path: "/auth/logout", access: sess.access})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, request{method: http.MethodPost, path: "/auth/logout", access: sess.access, csrf: "forged"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, request{method: http.MethodPost, path: "/auth/logout", access: sess.access, csrf: sess.csrf})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, request{method: http.MethodGet, path: "/auth/me", access: sess.access})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCSRFTokenIsSingleUse(t *testing.T) {
	s := newTestServer(t, 100)
	sess := s.registerAndLogin(t)

	w := s.do(t, request{
		method: http.MethodPost,
		path:   "/auth/password/change",
		access: sess.access,
		csrf:   sess.csrf,
		body:   map[string]string{"current_password": "wrong-password-1", "new_password": "Another-Horse-43!"},
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	fresh := w.Header().Get(auth.CSRFTokenHeader)
	require.NotEmpty(t, fresh, "a consumed token is replaced")

	w = s.do(t, request{method: http.MethodPost, path: "/auth/logout-all", access: sess.access, csrf: sess.csrf})
	assert.Equal(t, http.StatusForbidden, w.Code, "spent token")

	w = s.do(t, request{method: http.MethodPost, path: "/auth/logout-all", access: sess.access, csrf: fresh})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessionsListAndRevoke(t *testing.T) {
	s := newTestServer(t, 100)
	first := s.registerAndLogin(t)

	w := s.do(t, request{method: http.MethodPost, path: "/auth/login", body: map[string]string{"email": testEmail, "password": testPassword}})
	require.Equal(t, http.StatusOK, w.Code)
	other := sessionFrom(t, w)

	w = s.do(t, request{method: http.MethodGet, path: "/auth/sessions", access: first.access})
	require.Equal(t, http.StatusOK, w.Code)
	var list handlers.SessionListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Sessions, 2)

	w = s.do(t, request{method: http.MethodDelete, path: "/auth/sessions/" + other.id, access: first.access, csrf: first.csrf})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, request{method: http.MethodGet, path: "/auth/me", access: other.access})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// loginAdmin seeds a verified admin account and logs it in
func (s *testServer) loginAdmin(t *testing.T) session {
	t.Helper()
	digest, err := s.hasher.Hash(testPassword)
	require.NoError(t, err)
	admin := &models.Account{Email: "admin@example.com", PasswordHash: digest, Role: models.RoleAdmin, EmailVerified: true}
	require.NoError(t, s.store.CreateAccount(context.Background(), admin))

	w := s.do(t, request{method: http.MethodPost, path: "/auth/login", body: map[string]string{"email": "admin@example.com", "password": testPassword}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return sessionFrom(t, w)
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t, 100)
	user := s.registerAndLogin(t)

	w := s.do(t, request{method: http.MethodPost, path: "/admin/accounts/whatever/revoke-sessions", access: user.access, csrf: user.csrf})
	assert.Equal(t, http.StatusForbidden, w.Code, "role is checked before anything else")

	adminSession := s.loginAdmin(t)

	userAccount, err := s.store.GetAccountByEmail(context.Background(), testEmail)
	require.NoError(t, err)

	w = s.do(t, request{method: http.MethodPost, path: "/admin/accounts/" + userAccount.ID + "/revoke-sessions", access: adminSession.access, csrf: adminSession.csrf})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var revoked handlers.RevokedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &revoked))
	assert.Equal(t, 1, revoked.Revoked)

	w = s.do(t, request{method: http.MethodGet, path: "/admin/accounts/" + userAccount.ID + "/audit", access: adminSession.access})
	require.Equal(t, http.StatusOK, w.Code)
	var trail handlers.AuditTrailResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trail))
	assert.NotEmpty(t, trail.Events)

	w = s.do(t, request{method: http.MethodGet, path: "/auth/me", access: user.access})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthRateLimit(t *testing.T) {
	s := newTestServer(t, 2)
	body := map[string]string{"email": "nobody@example.com", "password": "irrelevant-password"}

	for i := 0; i < 2; i++ {
		w := s.do(t, request{method: http.MethodPost, path: "/auth/login", body: body})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w := s.do(t, request{method: http.MethodPost, path: "/auth/login", body: body})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limit_exceeded", errorCode(t, w))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t, 100)

	for _, path := range []string{"/nope", "/auth/nope"} {
		w := s.do(t, request{method: http.MethodGet, path: path})
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Equal(t, "not_found", errorCode(t, w), path)
	}
}

func TestMalformedIDsAreValidationErrors(t *testing.T) {
	s := newTestServer(t, 100)
	user := s.registerAndLogin(t)

	w := s.do(t, request{method: http.MethodDelete, path: "/auth/sessions/not-a-uuid", access: user.access, csrf: user.csrf})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Equal(t, "validation_failed", errorCode(t, w))

	admin := s.loginAdmin(t)
	w = s.do(t, request{method: http.MethodPost, path: "/admin/accounts/not-a-uuid/revoke-sessions", access: admin.access, csrf: admin.csrf})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Equal(t, "validation_failed", errorCode(t, w))

	w = s.do(t, request{method: http.MethodDelete, path: "/admin/accounts/not-a-uuid", access: admin.access, csrf: w.Header().Get(auth.CSRFTokenHeader)})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Equal(t, "validation_failed", errorCode(t, w))
}

func TestAdminDeleteAccount(t *testing.T) {
	s := newTestServer(t, 100)
	user := s.registerAndLogin(t)
	admin := s.loginAdmin(t)

	account, err := s.store.GetAccountByEmail(context.Background(), testEmail)
	require.NoError(t, err)

	w := s.do(t, request{method: http.MethodDelete, path: "/admin/accounts/" + account.ID, access: user.access, csrf: user.csrf})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, request{method: http.MethodDelete, path: "/admin/accounts/" + account.ID, access: admin.access, csrf: admin.csrf})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = s.do(t, request{method: http.MethodGet, path: "/auth/me", access: user.access})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "sessions of a deleted account are revoked")

	w = s.do(t, request{method: http.MethodPost, path: "/auth/login", body: map[string]string{"email": testEmail, "password": testPassword}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, request{method: http.MethodGet, path: "/admin/accounts/" + account.ID + "/audit", access: admin.access})
	require.Equal(t, http.StatusOK, w.Code)
	var trail handlers.AuditTrailResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trail))
	require.NotEmpty(t, trail.Events)
	assert.Equal(t, models.AuditEventAdminDeleteAccount, trail.Events[0].EventType)
}
