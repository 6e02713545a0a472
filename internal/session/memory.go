package session

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is the in-process Store used when no database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]Session{}}
}

func (m *MemoryStore) Insert(_ context.Context, s Session) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.Status == StatusActive {
		for _, existing := range m.sessions {
			if existing.ActivityID == s.ActivityID && existing.Status == StatusActive {
				return Session{}, errAlreadyActive
			}
		}
	}
	s.Version = 1
	m.sessions[s.ID] = s.Clone()
	return s, nil
}

func (m *MemoryStore) Active(_ context.Context, activityID string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.ActivityID == activityID && s.Status == StatusActive {
			return s.Clone(), nil
		}
	}
	return Session{}, errNoActive
}

func (m *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, errNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, s Session) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sessions[s.ID]
	if !ok {
		return Session{}, errNotFound
	}
	if current.Version != s.Version {
		return Session{}, errVersion
	}
	s.Version++
	m.sessions[s.ID] = s.Clone()
	return s, nil
}

func (m *MemoryStore) History(_ context.Context, activityID string) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Session{}
	for _, s := range m.sessions {
		if s.ActivityID == activityID {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}
