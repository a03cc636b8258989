package middleware

import (
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/authcore/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds one request budget
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// RateLimitByOrigin limits requests per client address. The address comes
// from the IP extractor so only trusted proxies can set it.
func RateLimitByOrigin(config RateLimitConfig, ips *pkghttp.IPExtractor) func(next http.Handler) http.Handler {
	if config.Requests <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	window := config.Window
	if window <= 0 {
		window = time.Minute
	}

	return httprate.Limit(
		config.Requests,
		window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return ips.ClientIP(r), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "too many requests, please try again later", window)
		}),
	)
}
