package memory

import (
	"context"
	"time"

	"github.com/BradenHooton/authcore/internal/models"
)

func (s *Store) CreateSession(ctx context.Context, session *models.Session) error {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return models.ErrConflict
	}
	s.sessions[session.ID] = copySession(session)
	return nil
}

func (s *Store) GetSessionByID(ctx context.Context, id string) (*models.Session, error) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copySession(sess), nil
}

func (s *Store) GetValidSessionByHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	for _, sess := range s.sessions {
		if sess.IsValid && sess.RefreshTokenHash == tokenHash {
			return copySession(sess), nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *Store) RotateSession(ctx context.Context, oldID, oldHash string, next *models.Session, now time.Time) error {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	old, ok := s.sessions[oldID]
	if !ok || !old.IsValid || old.RefreshTokenHash != oldHash {
		return models.ErrRefreshHashMismatch
	}
	if _, exists := s.sessions[next.ID]; exists {
		return models.ErrConflict
	}

	old.IsValid = false
	old.RotatedAt = timePtr(now)
	old.ReplacedBy = strPtr(next.ID)
	s.sessions[next.ID] = copySession(next)
	return nil
}

func (s *Store) revokeLocked(sess *models.Session, reason string, now time.Time) bool {
	if !sess.IsValid {
		return false
	}
	sess.IsValid = false
	sess.RevokedAt = timePtr(now)
	sess.RevokeReason = strPtr(reason)
	return true
}

func (s *Store) RevokeSession(ctx context.Context, id, reason string, now time.Time) error {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return models.ErrNotFound
	}
	s.revokeLocked(sess, reason, now)
	return nil
}

func (s *Store) RevokeFamily(ctx context.Context, familyID, reason string, now time.Time) ([]string, error) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	// Rotated members are stamped too so the whole lineage reads as revoked.
	revoked := make([]string, 0)
	for _, sess := range s.sessions {
		if sess.FamilyID != familyID || sess.RevokedAt != nil {
			continue
		}
		sess.IsValid = false
		sess.RevokedAt = timePtr(now)
		sess.RevokeReason = strPtr(reason)
		revoked = append(revoked, sess.ID)
	}
	return revoked, nil
}

func (s *Store) RevokeAccountSessions(ctx context.Context, accountID, reason, exceptSessionID string, now time.Time) ([]string, error) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	revoked := make([]string, 0)
	for _, sess := range s.sessions {
		if sess.AccountID != accountID || sess.ID == exceptSessionID {
			continue
		}
		if s.revokeLocked(sess, reason, now) {
			revoked = append(revoked, sess.ID)
		}
	}
	return revoked, nil
}

func (s *Store) ListSessionsByAccount(ctx context.Context, accountID string) ([]*models.Session, error) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	list := make([]*models.Session, 0)
	for _, sess := range s.sessions {
		if sess.AccountID == accountID {
			list = append(list, copySession(sess))
		}
	}
	sortSessions(list)
	return list, nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	var deleted int64
	for id, sess := range s.sessions {
		if sess.ExpiresAt.Before(before) {
			delete(s.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}
