package contract

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"contract-mesh/pkg/errs"
	"contract-mesh/pkg/model"
)

// MemoryStore keeps contracts in a map. Intended for dev and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	contracts map[string]model.Contract
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{contracts: make(map[string]model.Contract), now: time.Now}
}

func (m *MemoryStore) Create(_ context.Context, c model.Contract) (model.Contract, error) {
	c, err := prepare(c, uuid.NewString(), m.now())
	if err != nil {
		return model.Contract{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contracts[c.ID]; ok {
		return model.Contract{}, errs.Validation("invalid contract", "id "+c.ID+" already exists")
	}
	m.contracts[c.ID] = c
	return c, nil
}

func (m *MemoryStore) FindByID(_ context.Context, id string) (model.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contracts[id]
	if !ok {
		return model.Contract{}, errs.NotFound("contract", id)
	}
	return c, nil
}

func (m *MemoryStore) Find(_ context.Context, f Filter) ([]model.Contract, error) {
	m.mu.RLock()
	out := make([]model.Contract, 0, len(m.contracts))
	for _, c := range m.contracts {
		if f.Matches(c) {
			out = append(out, c)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) UpdateByID(_ context.Context, id string, p Patch) (model.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[id]
	if !ok {
		return model.Contract{}, errs.NotFound("contract", id)
	}
	p.apply(&c, m.now())
	m.contracts[id] = c
	return c, nil
}

func (m *MemoryStore) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contracts[id]; !ok {
		return errs.NotFound("contract", id)
	}
	delete(m.contracts, id)
	return nil
}
