package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BradenHooton/authcore/internal/models"
	"github.com/BradenHooton/authcore/internal/repositories/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func guardConfig() AttemptGuardConfig {
	return AttemptGuardConfig{
		MaxLoginAttempts:     5,
		LockoutDuration:      15 * time.Minute,
		Window:               10 * time.Minute,
		MaxAttemptsPerOrigin: 3,
	}
}

func TestAttemptGuard_ThrottlesOriginAfterBudget(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	guard := NewAttemptGuard(store, store, guardConfig(), discardLogger())
	clock := &testClock{t: time.Now()}
	guard.now = clock.Now

	for i := 0; i < 3; i++ {
		require.NoError(t, guard.CheckAllowed(ctx, "a@x.com", "10.0.0.1"))
		guard.RecordAttempt(ctx, "a@x.com", "10.0.0.1", "ua", false, "invalid_password")
		clock.Advance(time.Minute)
	}

	err := guard.CheckAllowed(ctx, "a@x.com", "10.0.0.1")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrRateLimited)

	var ae *models.AuthError
	require.ErrorAs(t, err, &ae)
	// Oldest failure was 3 minutes ago in a 10 minute window.
	assert.Equal(t, 7*time.Minute, ae.RetryAfter)

	// Other origins and other emails keep their own budget.
	assert.NoError(t, guard.CheckAllowed(ctx, "a@x.com", "10.0.0.2"))
	assert.NoError(t, guard.CheckAllowed(ctx, "b@x.com", "10.0.0.1"))

	clock.Advance(8 * time.Minute)
	assert.NoError(t, guard.CheckAllowed(ctx, "a@x.com", "10.0.0.1"), "window rolled past the failures")
}

func TestAttemptGuard_SuccessesDoNotCount(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	guard := NewAttemptGuard(store, store, guardConfig(), discardLogger())

	for i := 0; i < 5; i++ {
		guard.RecordAttempt(ctx, "a@x.com", "10.0.0.1", "ua", true, "")
	}
	assert.NoError(t, guard.CheckAllowed(ctx, "a@x.com", "10.0.0.1"))
}

func TestAttemptGuard_FailsOpenOnStoreError(t *testing.T) {
	attempts := &MockLoginAttemptRepository{
		FailedAttemptsSinceFunc: func(ctx context.Context, email, ip string, since time.Time) (int, *time.Time, error) {
			return 0, nil, errors.New("connection refused")
		},
		RecordAttemptFunc: func(ctx context.Context, attempt *models.LoginAttempt) error {
			return errors.New("connection refused")
		},
	}
	guard := NewAttemptGuard(attempts, memory.NewStore(), guardConfig(), discardLogger())

	assert.NoError(t, guard.CheckAllowed(context.Background(), "a@x.com", "10.0.0.1"))
	guard.RecordAttempt(context.Background(), "a@x.com", "10.0.0.1", "ua", false, "x")
}

func TestAttemptGuard_RecordAttemptRetention(t *testing.T) {
	var recorded *models.LoginAttempt
	attempts := &MockLoginAttemptRepository{
		RecordAttemptFunc: func(ctx context.Context, attempt *models.LoginAttempt) error {
			recorded = attempt
			return nil
		},
	}
	guard := NewAttemptGuard(attempts, memory.NewStore(), guardConfig(), discardLogger())
	now := time.Now()
	guard.now = func() time.Time { return now }

	guard.RecordAttempt(context.Background(), "a@x.com", "10.0.0.1", "ua", false, "invalid_password")

	require.NotNil(t, recorded)
	assert.Equal(t, now, recorded.AttemptTime)
	assert.Equal(t, now.Add(20*time.Minute), recorded.ExpiresAt, "retention defaults to twice the window")
	require.NotNil(t, recorded.FailureReason)
	assert.Equal(t, "invalid_password", *recorded.FailureReason)
}

func TestAttemptGuard_IncrementLocksAtThreshold(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	guard := NewAttemptGuard(store, store, guardConfig(), discardLogger())
	now := time.Now()
	guard.now = func() time.Time { return now }

	account := &models.Account{Email: "a@x.com", PasswordHash: "x", Role: models.RoleUser}
	require.NoError(t, store.CreateAccount(ctx, account))

	for i := 1; i < 5; i++ {
		updated, err := guard.IncrementFailures(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, i, updated.FailedLoginAttempts)
		assert.False(t, updated.IsLocked(now))
	}

	updated, err := guard.IncrementFailures(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, updated.IsLocked(now))
	assert.Equal(t, 15*time.Minute, guard.LockRemaining(updated))

	_, err = guard.IncrementFailures(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
