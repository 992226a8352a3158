package storage

import (
	"context"
	"sync"

	"github.com/samvad-hq/nexlink/internal/domain"
	"github.com/samvad-hq/nexlink/internal/value"
)

// memoryStore is a thread-safe in-memory Store.
type memoryStore struct {
	mu        sync.RWMutex
	clock     *clock
	variables map[string]map[string]domain.Variable // owner -> key -> variable
	history   map[string]map[string]domain.HistoryEntry // owner -> id -> entry
}

func newMemoryStore(c *clock) *memoryStore {
	return &memoryStore{
		clock:     c,
		variables: make(map[string]map[string]domain.Variable),
		history:   make(map[string]map[string]domain.HistoryEntry),
	}
}

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) ListVariables(_ context.Context, ownerID string) ([]domain.Variable, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Variable, 0, len(m.variables[ownerID]))
	for _, v := range m.variables[ownerID] {
		out = append(out, v)
	}
	sortVariables(out)
	return out, nil
}

func (m *memoryStore) GetVariable(_ context.Context, ownerID, key string) (domain.Variable, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return domain.Variable{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.variables[ownerID][key]
	if !ok {
		return domain.Variable{}, variableNotFound()
	}
	return v, nil
}

func (m *memoryStore) UpsertVariable(_ context.Context, ownerID, key string, val value.Value, source domain.VariableSource) (domain.Variable, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return domain.Variable{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	owned := m.variables[ownerID]
	if owned == nil {
		owned = make(map[string]domain.Variable)
		m.variables[ownerID] = owned
	}
	v, exists := owned[key]
	if !exists {
		v = domain.Variable{ID: domain.NewID(), OwnerID: ownerID, Key: key}
	}
	v.Value = val
	v.Source = domain.NormalizeSource(source)
	v.UpdatedAt = m.clock.Next()
	owned[key] = v
	return v, nil
}

func (m *memoryStore) DeleteVariable(_ context.Context, ownerID, identifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	owned := m.variables[ownerID]
	if domain.IsID(identifier) {
		for key, v := range owned {
			if v.ID == identifier {
				delete(owned, key)
				return nil
			}
		}
	}
	if _, ok := owned[identifier]; ok {
		delete(owned, identifier)
		return nil
	}
	return variableNotFound()
}

func (m *memoryStore) RecordHistory(_ context.Context, entry domain.HistoryEntry) (domain.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.ID = domain.NewID()
	entry.Timestamp = m.clock.Next()

	owned := m.history[entry.OwnerID]
	if owned == nil {
		owned = make(map[string]domain.HistoryEntry)
		m.history[entry.OwnerID] = owned
	}
	owned[entry.ID] = entry.Clone()
	return entry, nil
}

func (m *memoryStore) ListHistory(_ context.Context, ownerID string, filter domain.HistoryFilter) ([]domain.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.HistoryEntry, 0)
	for _, e := range m.history[ownerID] {
		if filter.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	newerFirst(out)
	if len(out) > domain.HistoryLimit {
		out = out[:domain.HistoryLimit]
	}
	return out, nil
}

func (m *memoryStore) GetHistory(_ context.Context, ownerID, id string) (domain.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.history[ownerID][id]
	if !ok {
		return domain.HistoryEntry{}, historyNotFound()
	}
	return e.Clone(), nil
}

func (m *memoryStore) DistinctBaseURLs(_ context.Context, ownerID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := make(map[string]struct{})
	for _, e := range m.history[ownerID] {
		if e.Request.BaseURL != "" {
			set[e.Request.BaseURL] = struct{}{}
		}
	}
	return sortedSet(set), nil
}

func (m *memoryStore) DeleteHistory(_ context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.history[ownerID][id]; !ok {
		return historyNotFound()
	}
	delete(m.history[ownerID], id)
	return nil
}
