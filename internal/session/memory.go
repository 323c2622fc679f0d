package session

import (
	"context"
	"sync"
	"time"
)

// Memory is a mutex-guarded in-memory store for dev mode and tests. It keeps
// the same compare-and-set contract as the Postgres repo.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]Session
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]Session)}
}

// Insert writes a new session.
func (m *Memory) Insert(ctx context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

// Get returns a session by id.
func (m *Memory) Get(ctx context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

// TransitionState updates state only if the stored state equals from.
func (m *Memory) TransitionState(ctx context.Context, id string, from, to State) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false, ErrNotFound
	}
	if s.State != from {
		return false, nil
	}
	s.State = to
	m.sessions[id] = s
	return true, nil
}

// ListDue returns Active sessions whose end time has passed.
func (m *Memory) ListDue(ctx context.Context, now time.Time) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Session
	for _, s := range m.sessions {
		if s.State == Active && !s.EndTime.After(now) {
			res = append(res, s)
		}
	}
	return res, nil
}

// ListActive returns all Active sessions.
func (m *Memory) ListActive(ctx context.Context) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Session
	for _, s := range m.sessions {
		if s.State == Active {
			res = append(res, s)
		}
	}
	return res, nil
}
