//go:build integration

package repositories

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/authcore/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAccount(t *testing.T, store *PostgresStore, email string) *models.Account {
	t.Helper()
	account := &models.Account{Email: email, PasswordHash: "$2a$10$placeholder", Role: models.RoleUser}
	require.NoError(t, store.CreateAccount(context.Background(), account))
	return account
}

func seedSession(t *testing.T, store *PostgresStore, accountID, familyID, hash string, now time.Time) *models.Session {
	t.Helper()
	s := &models.Session{
		ID:               uuid.NewString(),
		AccountID:        accountID,
		RefreshTokenHash: hash,
		FamilyID:         familyID,
		IsValid:          true,
		CreatedAt:        now,
		LastActivityAt:   now,
		ExpiresAt:        now.Add(time.Hour),
	}
	require.NoError(t, store.CreateSession(context.Background(), s))
	return s
}

func TestAccountRepository_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	account := seedAccount(t, store, "  Mixed@Example.COM ")
	assert.NotEmpty(t, account.ID)
	assert.Equal(t, "mixed@example.com", account.Email)

	byEmail, err := store.GetAccountByEmail(ctx, "mixed@example.com")
	require.NoError(t, err)
	assert.Equal(t, account.ID, byEmail.ID)

	err = store.CreateAccount(ctx, &models.Account{Email: "MIXED@example.com", PasswordHash: "x", Role: models.RoleUser})
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = store.GetAccountByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAccountRepository_LockoutIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	account := seedAccount(t, store, "lock@example.com")
	lockUntil := time.Now().Add(15 * time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.IncrementFailedLogins(ctx, account.ID, 5, time.Now(), lockUntil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.GetAccountByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.FailedLoginAttempts)
	assert.True(t, got.IsLocked(time.Now()))

	require.NoError(t, store.RecordSuccessfulLogin(ctx, account.ID, "203.0.113.9", time.Now()))
	got, err = store.GetAccountByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Zero(t, got.FailedLoginAttempts)
	assert.Nil(t, got.LockedUntil)
}

func TestAccountRepository_ExpiredLockRestartsCount(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	account := seedAccount(t, store, "expired-lock@example.com")
	now := time.Now()

	for i := 0; i < 5; i++ {
		_, err := store.IncrementFailedLogins(ctx, account.ID, 5, now, now.Add(15*time.Minute))
		require.NoError(t, err)
	}

	later := now.Add(16 * time.Minute)
	got, err := store.IncrementFailedLogins(ctx, account.ID, 5, later, later.Add(15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, got.FailedLoginAttempts)
	assert.Nil(t, got.LockedUntil)
}

func TestAccountRepository_ResetTokenSingleUse(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	account := seedAccount(t, store, "reset@example.com")
	now := time.Now()

	require.NoError(t, store.SetResetToken(ctx, account.ID, "reset-hash", now.Add(time.Hour)))

	updated, err := store.ConsumeResetToken(ctx, "reset-hash", "new-digest", now)
	require.NoError(t, err)
	assert.Equal(t, "new-digest", updated.PasswordHash)

	_, err = store.ConsumeResetToken(ctx, "reset-hash", "other-digest", now)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAccountRepository_VerificationTokenExpires(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	account := seedAccount(t, store, "verify@example.com")
	now := time.Now()

	require.NoError(t, store.SetVerificationToken(ctx, account.ID, "verify-hash", now.Add(-time.Minute), now.Add(-time.Hour)))
	_, err := store.ConsumeVerificationToken(ctx, "verify-hash", now)
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, store.SetVerificationToken(ctx, account.ID, "verify-hash-2", now.Add(time.Hour), now))
	verified, err := store.ConsumeVerificationToken(ctx, "verify-hash-2", now)
	require.NoError(t, err)
	assert.True(t, verified.EmailVerified)
}

func TestSessionRepository_RotateOnlyOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	account := seedAccount(t, store, "rotate@example.com")
	now := time.Now()
	family := uuid.NewString()
	old := seedSession(t, store, account.ID, family, "hash-0", now)

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := &models.Session{
				ID:               uuid.NewString(),
				AccountID:        account.ID,
				RefreshTokenHash: uuid.NewString(),
				FamilyID:         family,
				IsValid:          true,
				CreatedAt:        now,
				LastActivityAt:   now,
				ExpiresAt:        now.Add(time.Hour),
			}
			results[i] = store.RotateSession(ctx, old.ID, "hash-0", next, now)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, models.ErrRefreshHashMismatch)
	}
	assert.Equal(t, 1, wins, "exactly one rotation may succeed")

	list, err := store.ListSessionsByAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2, "losers must not leave successor rows behind")

	rotated, err := store.GetSessionByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionRotated, rotated.State(now, 0))
	require.NotNil(t, rotated.ReplacedBy)
}

func TestSessionRepository_RevokeFamilyIncludesRotated(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	account := seedAccount(t, store, "family@example.com")
	now := time.Now()
	family := uuid.NewString()

	first := seedSession(t, store, account.ID, family, "hash-1", now)
	second := &models.Session{
		ID: uuid.NewString(), AccountID: account.ID, RefreshTokenHash: "hash-2", FamilyID: family,
		IsValid: true, CreatedAt: now, LastActivityAt: now, ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, store.RotateSession(ctx, first.ID, "hash-1", second, now))
	other := seedSession(t, store, account.ID, uuid.NewString(), "hash-other", now)

	revoked, err := store.RevokeFamily(ctx, family, models.RevokeReasonReplay, now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{first.ID, second.ID}, revoked)

	again, err := store.RevokeFamily(ctx, family, models.RevokeReasonReplay, now)
	require.NoError(t, err)
	assert.Empty(t, again, "revocation is idempotent")

	untouched, err := store.GetSessionByID(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, untouched.State(now, 0))
}

func TestSessionRepository_RevokeAccountSessionsExcept(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	account := seedAccount(t, store, "all@example.com")
	now := time.Now()

	keep := seedSession(t, store, account.ID, uuid.NewString(), "h1", now)
	drop := seedSession(t, store, account.ID, uuid.NewString(), "h2", now)

	revoked, err := store.RevokeAccountSessions(ctx, account.ID, models.RevokeReasonPasswordChange, keep.ID, now)
	require.NoError(t, err)
	assert.Equal(t, []string{drop.ID}, revoked)

	err = store.RevokeSession(ctx, uuid.NewString(), models.RevokeReasonLogout, now)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCSRFTokenRepository_ConsumeOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	account := seedAccount(t, store, "csrf@example.com")
	now := time.Now()
	session := seedSession(t, store, account.ID, uuid.NewString(), "h", now)

	require.NoError(t, store.CreateCSRFToken(ctx, &models.CSRFToken{
		TokenHash: "csrf-hash", SessionID: session.ID, CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))

	other := seedSession(t, store, account.ID, uuid.NewString(), "h-other", now)
	ok, err := store.ConsumeCSRFToken(ctx, "csrf-hash", other.ID, now)
	require.NoError(t, err)
	assert.False(t, ok, "bound to its session")

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.ConsumeCSRFToken(ctx, "csrf-hash", session.ID, now)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)

	n, err := store.DeleteExpiredCSRFTokens(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestLoginAttemptRepository_Window(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now()
	reason := "bad_password"

	for _, at := range []time.Time{now.Add(-20 * time.Minute), now.Add(-5 * time.Minute), now.Add(-time.Minute)} {
		require.NoError(t, store.RecordAttempt(ctx, &models.LoginAttempt{
			Email: "who@example.com", IPAddress: "198.51.100.1", AttemptTime: at,
			FailureReason: &reason, ExpiresAt: at.Add(time.Hour),
		}))
	}
	require.NoError(t, store.RecordAttempt(ctx, &models.LoginAttempt{
		Email: "who@example.com", IPAddress: "198.51.100.2", AttemptTime: now,
		FailureReason: &reason, ExpiresAt: now.Add(time.Hour),
	}))

	count, oldest, err := store.FailedAttemptsSince(ctx, "who@example.com", "198.51.100.1", now.Add(-15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	require.NotNil(t, oldest)
	assert.WithinDuration(t, now.Add(-5*time.Minute), *oldest, time.Second)

	deleted, err := store.DeleteExpiredAttempts(ctx, now.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestAuditLogRepository_NewestFirst(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	account := seedAccount(t, store, "audit@example.com")
	ip := "203.0.113.7"

	for i, eventType := range []string{models.AuditEventRegister, models.AuditEventLogin, models.AuditEventLogout} {
		require.NoError(t, store.CreateAuditEvent(ctx, &models.AuditEvent{
			AccountID: &account.ID,
			EventType: eventType,
			Status:    models.AuditStatusSuccess,
			IPAddress: &ip,
			Detail:    models.AuditMetadata{"seq": i},
		}))
	}

	events, err := store.ListAuditEventsByAccount(ctx, account.ID, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.AuditEventLogout, events[0].EventType)
	assert.Equal(t, models.AuditEventLogin, events[1].EventType)
	assert.EqualValues(t, 2, events[0].Detail["seq"])
}
