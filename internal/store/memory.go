// File: internal/store/memory.go
package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/applypilot/applypilot-cli/api/schemas"
)

// Memory is an in-process SessionStore for runs without a database. Expired
// entries are pruned lazily on read.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]schemas.ChallengeSession
	now      schemas.Clock
	log      *zap.Logger
}

var _ schemas.SessionStore = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory(logger *zap.Logger) *Memory {
	return &Memory{
		sessions: make(map[string]schemas.ChallengeSession),
		now:      time.Now,
		log:      logger.Named("store"),
	}
}

// Get returns the unexpired session for a domain, or nil. An expired entry is
// deleted on the spot.
func (m *Memory) Get(_ context.Context, domain string) (*schemas.ChallengeSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[domain]
	if !ok {
		return nil, nil
	}
	if !s.Valid(m.now()) {
		delete(m.sessions, domain)
		m.log.Debug("Dropped expired challenge session.", zap.String("domain", domain))
		return nil, nil
	}
	cp := s
	return &cp, nil
}

// Put stores or replaces the session for its domain.
func (m *Memory) Put(_ context.Context, session schemas.ChallengeSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.Domain] = session
	return nil
}

// PruneExpired removes every expired entry.
func (m *Memory) PruneExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	pruned := 0
	for domain, s := range m.sessions {
		if !s.Valid(now) {
			delete(m.sessions, domain)
			pruned++
		}
	}
	return pruned, nil
}
