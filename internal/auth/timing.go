package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig controls the floor applied to login responses so that an
// unknown email and a wrong password take about the same time.
type TimingConfig struct {
	BaseDelay      time.Duration
	Jitter         time.Duration
	DelayOnSuccess bool
}

// TimingDelay pads authentication responses to a randomized floor
type TimingDelay struct {
	config TimingConfig
}

// NewTimingDelay creates a new TimingDelay instance
func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{config: config}
}

// cryptoJitter returns a random duration in [0, max) using crypto/rand
func cryptoJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	randomBytes := make([]byte, 8)
	if _, err := rand.Read(randomBytes); err != nil {
		return 0
	}
	return time.Duration(binary.BigEndian.Uint64(randomBytes) % uint64(max))
}

// WaitFrom sleeps until at least BaseDelay+jitter has elapsed since start.
// It returns early if ctx is cancelled.
func (td *TimingDelay) WaitFrom(ctx context.Context, start time.Time, success bool) {
	if td == nil || (success && !td.config.DelayOnSuccess) {
		return
	}

	target := td.config.BaseDelay + cryptoJitter(td.config.Jitter)
	remaining := target - time.Since(start)
	if remaining <= 0 {
		return
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
