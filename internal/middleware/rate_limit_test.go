package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	pkghttp "github.com/BradenHooton/authcore/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitByOrigin_EnforcesBudget(t *testing.T) {
	ips, err := pkghttp.NewIPExtractor(nil)
	require.NoError(t, err)
	handler := RateLimitByOrigin(RateLimitConfig{Requests: 3, Window: time.Minute}, ips)(okHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "203.0.113.1:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "203.0.113.1:1234"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "rate_limit_exceeded", resp.Error)
}

func TestRateLimitByOrigin_SeparateBudgetsPerOrigin(t *testing.T) {
	ips, err := pkghttp.NewIPExtractor(nil)
	require.NoError(t, err)
	handler := RateLimitByOrigin(RateLimitConfig{Requests: 1, Window: time.Minute}, ips)(okHandler())

	for _, addr := range []string{"203.0.113.1:1", "203.0.113.2:1"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, addr)
	}
}

// A spoofed X-Forwarded-For from an untrusted peer must not buy a fresh budget.
func TestRateLimitByOrigin_SpoofedHeaderSharesBudget(t *testing.T) {
	ips, err := pkghttp.NewIPExtractor([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	handler := RateLimitByOrigin(RateLimitConfig{Requests: 1, Window: time.Minute}, ips)(okHandler())

	codes := make([]int, 0, 2)
	for _, spoof := range []string{"1.1.1.1", "2.2.2.2"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.9:5555"
		req.Header.Set("X-Forwarded-For", spoof)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimitByOrigin_DisabledWhenZero(t *testing.T) {
	handler := RateLimitByOrigin(RateLimitConfig{}, nil)(okHandler())

	for i := 0; i < 50; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}
