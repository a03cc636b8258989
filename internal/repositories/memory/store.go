// Package memory is the in-process storage backend. It implements the same
// repository interfaces as the Postgres backend and is used for development
// and tests. Each concern has its own mutex; every compound operation holds
// it for its whole duration, which gives the same atomicity as the
// conditional updates of the SQL backend.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/authcore/internal/models"
)

// Store holds every record in maps keyed by ID
type Store struct {
	accountsMu sync.Mutex
	accounts   map[string]*models.Account

	sessionsMu sync.Mutex
	sessions   map[string]*models.Session

	csrfMu sync.Mutex
	csrf   map[string]*models.CSRFToken

	attemptsMu sync.Mutex
	attempts   []*models.LoginAttempt

	auditMu sync.Mutex
	audit   []*models.AuditEvent
}

// NewStore returns an empty store
func NewStore() *Store {
	return &Store{
		accounts: make(map[string]*models.Account),
		sessions: make(map[string]*models.Session),
		csrf:     make(map[string]*models.CSRFToken),
	}
}

func copyAccount(a *models.Account) *models.Account {
	c := *a
	return &c
}

func copySession(s *models.Session) *models.Session {
	c := *s
	return &c
}

func timePtr(t time.Time) *time.Time { return &t }

func strPtr(s string) *string { return &s }

func sortSessions(list []*models.Session) {
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}
