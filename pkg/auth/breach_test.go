package auth

import (
	"context"
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rangeSuffix(password string) (string, string) {
	sum := sha1.Sum([]byte(password)) //nolint:gosec
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	return digest[:5], digest[5:]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHIBPChecker_Compromised(t *testing.T) {
	prefix, suffix := rangeSuffix("password123")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/range/"+prefix, r.URL.Path)
		fmt.Fprintf(w, "0000000000000000000000000000000000A:0\r\n%s:42\r\n", suffix)
	}))
	defer server.Close()

	checker := NewHIBPChecker(HIBPConfig{Endpoint: server.URL + "/range/"}, server.Client(), testLogger())

	compromised, err := checker.IsCompromised(context.Background(), "password123")
	require.NoError(t, err)
	assert.True(t, compromised)
}

func TestHIBPChecker_NotCompromised(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "0000000000000000000000000000000000A:3\r\n")
	}))
	defer server.Close()

	checker := NewHIBPChecker(HIBPConfig{Endpoint: server.URL + "/range/"}, server.Client(), testLogger())

	compromised, err := checker.IsCompromised(context.Background(), "Str0ng!Pass")
	require.NoError(t, err)
	assert.False(t, compromised)
}

func TestHIBPChecker_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	checker := NewHIBPChecker(HIBPConfig{Endpoint: server.URL + "/range/", Timeout: 20 * time.Millisecond}, server.Client(), testLogger())

	_, err := checker.IsCompromised(context.Background(), "Str0ng!Pass")
	assert.Error(t, err)

	assert.False(t, CheckBreached(context.Background(), checker, "Str0ng!Pass", testLogger()))
}

func TestHIBPChecker_Throttled(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	checker := NewHIBPChecker(HIBPConfig{Endpoint: server.URL + "/range/", RequestsPerS: 0.001, Burst: 1}, server.Client(), testLogger())

	_, err := checker.IsCompromised(context.Background(), "a")
	require.NoError(t, err)
	_, err = checker.IsCompromised(context.Background(), "b")
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

type failingChecker struct{}

func (failingChecker) IsCompromised(context.Context, string) (bool, error) {
	return true, errors.New("network down")
}

func TestCheckBreached_FailOpen(t *testing.T) {
	assert.False(t, CheckBreached(context.Background(), failingChecker{}, "x", testLogger()))
	assert.False(t, CheckBreached(context.Background(), nil, "x", nil))
	assert.False(t, CheckBreached(context.Background(), NoopBreachChecker{}, "x", nil))
}
