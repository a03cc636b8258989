package memory

import (
	"context"
	"sort"
	"time"

	"github.com/BradenHooton/authcore/internal/models"
	"github.com/google/uuid"
)

func (s *Store) CreateCSRFToken(ctx context.Context, token *models.CSRFToken) error {
	s.csrfMu.Lock()
	defer s.csrfMu.Unlock()

	c := *token
	s.csrf[token.TokenHash] = &c
	return nil
}

func (s *Store) ConsumeCSRFToken(ctx context.Context, tokenHash, sessionID string, now time.Time) (bool, error) {
	s.csrfMu.Lock()
	defer s.csrfMu.Unlock()

	t, ok := s.csrf[tokenHash]
	if !ok || t.SessionID != sessionID || t.Used || !now.Before(t.ExpiresAt) {
		return false, nil
	}
	t.Used = true
	t.UsedAt = timePtr(now)
	return true, nil
}

func (s *Store) DeleteCSRFTokensForSessions(ctx context.Context, sessionIDs []string) error {
	s.csrfMu.Lock()
	defer s.csrfMu.Unlock()

	ids := make(map[string]struct{}, len(sessionIDs))
	for _, id := range sessionIDs {
		ids[id] = struct{}{}
	}
	for hash, t := range s.csrf {
		if _, hit := ids[t.SessionID]; hit {
			delete(s.csrf, hash)
		}
	}
	return nil
}

func (s *Store) DeleteExpiredCSRFTokens(ctx context.Context, before time.Time) (int64, error) {
	s.csrfMu.Lock()
	defer s.csrfMu.Unlock()

	var deleted int64
	for hash, t := range s.csrf {
		if t.ExpiresAt.Before(before) || t.Used {
			delete(s.csrf, hash)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	s.attemptsMu.Lock()
	defer s.attemptsMu.Unlock()

	c := *attempt
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.AttemptTime.IsZero() {
		c.AttemptTime = time.Now()
	}
	s.attempts = append(s.attempts, &c)
	return nil
}

func (s *Store) FailedAttemptsSince(ctx context.Context, email, ipAddress string, since time.Time) (int, *time.Time, error) {
	s.attemptsMu.Lock()
	defer s.attemptsMu.Unlock()

	var count int
	var oldest *time.Time
	for _, a := range s.attempts {
		if a.Success || a.Email != email || a.IPAddress != ipAddress || a.AttemptTime.Before(since) {
			continue
		}
		count++
		if oldest == nil || a.AttemptTime.Before(*oldest) {
			oldest = timePtr(a.AttemptTime)
		}
	}
	return count, oldest, nil
}

func (s *Store) DeleteExpiredAttempts(ctx context.Context, before time.Time) (int64, error) {
	s.attemptsMu.Lock()
	defer s.attemptsMu.Unlock()

	kept := s.attempts[:0]
	var deleted int64
	for _, a := range s.attempts {
		if a.ExpiresAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, a)
	}
	s.attempts = kept
	return deleted, nil
}

func (s *Store) CreateAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()

	c := *event
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	s.audit = append(s.audit, &c)
	return nil
}

func (s *Store) ListAuditEventsByAccount(ctx context.Context, accountID string, limit int) ([]*models.AuditEvent, error) {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()

	out := make([]*models.AuditEvent, 0)
	for _, e := range s.audit {
		if e.AccountID != nil && *e.AccountID == accountID {
			c := *e
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AuditEvents returns every recorded event in insertion order
func (s *Store) AuditEvents() []*models.AuditEvent {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()

	out := make([]*models.AuditEvent, len(s.audit))
	for i, e := range s.audit {
		c := *e
		out[i] = &c
	}
	return out
}
