package memory

import (
	"context"
	"strings"
	"time"

	"github.com/BradenHooton/authcore/internal/models"
	"github.com/google/uuid"
)

func (s *Store) findByEmailLocked(email string) *models.Account {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, a := range s.accounts {
		if !a.IsDeleted() && a.Email == email {
			return a
		}
	}
	return nil
}

func (s *Store) liveAccountLocked(id string) (*models.Account, error) {
	a, ok := s.accounts[id]
	if !ok || a.IsDeleted() {
		return nil, models.ErrNotFound
	}
	return a, nil
}

func (s *Store) CreateAccount(ctx context.Context, account *models.Account) error {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()

	if s.findByEmailLocked(account.Email) != nil {
		return models.ErrConflict
	}
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	now := time.Now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = account.CreatedAt
	s.accounts[account.ID] = copyAccount(account)
	return nil
}

func (s *Store) GetAccountByID(ctx context.Context, id string) (*models.Account, error) {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()

	a, err := s.liveAccountLocked(id)
	if err != nil {
		return nil, err
	}
	return copyAccount(a), nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()

	a := s.findByEmailLocked(email)
	if a == nil {
		return nil, models.ErrNotFound
	}
	return copyAccount(a), nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, passwordHash string, changedAt time.Time) error {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()

	a, err := s.liveAccountLocked(id)
	if err != nil {
		return err
	}
	a.PasswordHash = passwordHash
	a.PasswordChangedAt = timePtr(changedAt)
	a.UpdatedAt = changedAt
	return nil
}

func (s *Store) IncrementFailedLogins(ctx context.Context, id string, threshold int, now, lockUntil time.Time) (*models.Account, error) {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()

	a, err := s.liveAccountLocked(id)
	if err != nil {
		return nil, err
	}
	if a.LockedUntil != nil && !a.LockedUntil.After(now) {
		a.FailedLoginAttempts = 0
		a.LockedUntil = nil
	}
	a.FailedLoginAttempts++
	if a.FailedLoginAttempts >= threshold {
		a.LockedUntil = timePtr(lockUntil)
	}
	a.UpdatedAt = now
	return copyAccount(a), nil
}

func (s *Store) RecordSuccessfulLogin(ctx context.Context, id, ipAddress string, at time.Time) error {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()

	a, err := s.liveAccountLocked(id)
	if err != nil {
		return err
	}
	a.FailedLoginAttempts = 0
	a.LockedUntil = nil
	a.LastLoginAt = timePtr(at)
	if ipAddress != "" {
		a.LastLoginIP = strPtr(ipAddress)
	}
	a.UpdatedAt = at
	return nil
}

func (s *Store) SetVerificationToken(ctx context.Context, id, tokenHash string, expiresAt, sentAt time.Time) error {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()

	a, err := s.liveAccountLocked(id)
	if err != nil {
		return err
	}
	a.VerificationTokenHash = strPtr(tokenHash)
	a.VerificationExpiresAt = timePtr(expiresAt)
	a.VerificationSentAt = timePtr(sentAt)
	a.UpdatedAt = sentAt
	return nil
}

func (s *Store) ConsumeVerificationToken(ctx context.Context, tokenHash string, now time.Time) (*models.Account, error) {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()

	for _, a := range s.accounts {
		if a.IsDeleted() || a.VerificationTokenHash == nil || *a.VerificationTokenHash != tokenHash {
			continue
		}
		if a.VerificationExpiresAt == nil || !now.Before(*a.VerificationExpiresAt) {
			return nil, models.ErrNotFound
		}
		a.EmailVerified = true
		a.VerificationTokenHash = nil
		a.VerificationExpiresAt = nil
		a.UpdatedAt = now
		return copyAccount(a), nil
	}
	return nil, models.ErrNotFound
}

func (s *Store) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()

	a, err := s.liveAccountLocked(id)
	if err != nil {
		return err
	}
	a.ResetTokenHash = strPtr(tokenHash)
	a.ResetExpiresAt = timePtr(expiresAt)
	a.UpdatedAt = time.Now()
	return nil
}

func (s *Store) ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (*models.Account, error) {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()

	for _, a := range s.accounts {
		if a.IsDeleted() || a.ResetTokenHash == nil || *a.ResetTokenHash != tokenHash {
			continue
		}
		if a.ResetExpiresAt == nil || !now.Before(*a.ResetExpiresAt) {
			return nil, models.ErrNotFound
		}
		a.PasswordHash = passwordHash
		a.PasswordChangedAt = timePtr(now)
		a.ResetTokenHash = nil
		a.ResetExpiresAt = nil
		a.FailedLoginAttempts = 0
		a.LockedUntil = nil
		a.UpdatedAt = now
		return copyAccount(a), nil
	}
	return nil, models.ErrNotFound
}

// SoftDeleteAccount marks an account deleted; it disappears from every lookup
func (s *Store) SoftDeleteAccount(ctx context.Context, id string, at time.Time) error {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()

	a, err := s.liveAccountLocked(id)
	if err != nil {
		return err
	}
	a.DeletedAt = timePtr(at)
	return nil
}
