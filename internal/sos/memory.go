package sos

import (
	"context"
	"sort"
	"sync"
)

type MemoryStore struct {
	mu     sync.Mutex
	alerts map[string]Alert
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{alerts: map[string]Alert{}}
}

func (m *MemoryStore) Insert(_ context.Context, a Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[a.ID] = clone(a)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return Alert{}, errNotFound
	}
	return clone(a), nil
}

func (m *MemoryStore) AppendResponse(_ context.Context, id string, r Response) (Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return Alert{}, errNotFound
	}
	if a.Resolved {
		return Alert{}, errAlreadyResolved
	}
	a = clone(a)
	a.Responses = append(a.Responses, r)
	m.alerts[id] = a
	return clone(a), nil
}

func (m *MemoryStore) Resolve(_ context.Context, id string, res Resolution) (Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return Alert{}, errNotFound
	}
	if a.Resolved {
		return Alert{}, errAlreadyResolved
	}
	at := res.At
	a.Resolved = true
	a.ResolvedBy = res.By
	a.ResolvedAt = &at
	a.ResolutionNotes = res.Notes
	m.alerts[id] = a
	return clone(a), nil
}

func (m *MemoryStore) ListOpen(_ context.Context, activityID string) ([]Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Alert{}
	for _, a := range m.alerts {
		if a.ActivityID == activityID && !a.Resolved {
			out = append(out, clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func clone(a Alert) Alert {
	a.NotifiedUsers = append([]string(nil), a.NotifiedUsers...)
	a.Responses = append([]Response(nil), a.Responses...)
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		a.ResolvedAt = &t
	}
	return a
}
