package auth

import (
	"bufio"
	"context"
	"crypto/sha1" //nolint:gosec // required by the range API, not used for storage
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// BreachChecker reports whether a secret appears in a known breach corpus
type BreachChecker interface {
	IsCompromised(ctx context.Context, password string) (bool, error)
}

// NoopBreachChecker never reports a breach
type NoopBreachChecker struct{}

func (NoopBreachChecker) IsCompromised(context.Context, string) (bool, error) {
	return false, nil
}

const DefaultHIBPEndpoint = "https://api.pwnedpasswords.com/range/"

// HIBPConfig configures the k-anonymity range lookup
type HIBPConfig struct {
	Endpoint     string
	Timeout      time.Duration
	RequestsPerS float64
	Burst        int
	MinCount     int
}

// HIBPChecker queries the Pwned Passwords range API. Only the first five hex
// characters of the SHA-1 digest leave the process.
type HIBPChecker struct {
	endpoint string
	timeout  time.Duration
	minCount int
	client   *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
}

func NewHIBPChecker(cfg HIBPConfig, client *http.Client, logger *slog.Logger) *HIBPChecker {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultHIBPEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.RequestsPerS <= 0 {
		cfg.RequestsPerS = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	if cfg.MinCount <= 0 {
		cfg.MinCount = 1
	}
	if client == nil {
		client = &http.Client{}
	}
	return &HIBPChecker{
		endpoint: cfg.Endpoint,
		timeout:  cfg.Timeout,
		minCount: cfg.MinCount,
		client:   client,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerS), cfg.Burst),
		logger:   logger,
	}
}

// IsCompromised returns an error on any lookup failure. Callers treat errors
// as "not compromised".
func (c *HIBPChecker) IsCompromised(ctx context.Context, password string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if !c.limiter.Allow() {
		return false, fmt.Errorf("breach lookup throttled")
	}

	sum := sha1.Sum([]byte(password)) //nolint:gosec
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix, suffix := digest[:5], digest[5:]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+prefix, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build breach request: %w", err)
	}
	req.Header.Set("Add-Padding", "true")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("breach lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("breach lookup returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		hashSuffix, countStr, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(hashSuffix, suffix) {
			continue
		}
		var count int
		if _, err := fmt.Sscanf(countStr, "%d", &count); err != nil {
			return false, fmt.Errorf("malformed breach response: %w", err)
		}
		return count >= c.minCount, nil
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("failed to read breach response: %w", err)
	}
	return false, nil
}

// CheckBreached runs checker and swallows failures (fail-open)
func CheckBreached(ctx context.Context, checker BreachChecker, password string, logger *slog.Logger) bool {
	if checker == nil {
		return false
	}
	compromised, err := checker.IsCompromised(ctx, password)
	if err != nil {
		if logger != nil {
			logger.Warn("breach check unavailable, continuing", "error", err)
		}
		return false
	}
	return compromised
}
