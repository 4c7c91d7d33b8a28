package store

import (
	"sync"
	"time"

	"contract-mesh/pkg/model"
)

// MemoryStore is a simple in-memory implementation, intended for dev/demo and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]model.Payload
	audit  []model.AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]model.Payload)}
}

func (m *MemoryStore) Get(contractID string) (model.Payload, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.states[contractID]
	return p.Clone(), ok, nil
}

func (m *MemoryStore) Put(contractID string, p model.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[contractID] = p.Clone()
	return nil
}

func (m *MemoryStore) Delete(contractID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, contractID)
	return nil
}

func (m *MemoryStore) List() (map[string]model.Payload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]model.Payload, len(m.states))
	for id, p := range m.states {
		out[id] = p.Clone()
	}
	return out, nil
}

func (m *MemoryStore) AppendAudit(entry model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	m.audit = append(m.audit, entry)
	return nil
}

// ListAudit returns the most recent limit entries, oldest first. limit <= 0 returns all.
func (m *MemoryStore) ListAudit(limit int) ([]model.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.audit) {
		limit = len(m.audit)
	}
	out := make([]model.AuditEntry, 0, limit)
	start := len(m.audit) - limit
	for i := start; i < len(m.audit); i++ {
		out = append(out, m.audit[i])
	}
	return out, nil
}

// Ping reports readiness for health/info endpoints.
func (m *MemoryStore) Ping() error { return nil }
