package session

import (
	"context"
	"sync"
)

// MemoryStore is a process-local Store. Sessions are copied on the way in
// and out so callers never share mutable state.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*AuthenticationSession
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*AuthenticationSession)}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*AuthenticationSession, error) {
	if id == "" {
		return nil, ErrNoSessionID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.sessions[id].Clone(), nil
}

func (m *MemoryStore) Set(_ context.Context, id string, s *AuthenticationSession) error {
	if id == "" {
		return ErrNoSessionID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[id] = s.Clone()
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, id string) error {
	if id == "" {
		return ErrNoSessionID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
	return nil
}
