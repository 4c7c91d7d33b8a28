// Package store keeps the controller's copy of every contract's replica
// payload and replicates changes to the fleet.
package store

import "contract-mesh/pkg/model"

// StateStore persists replica payloads by contract id, plus an audit trail
// of state changes. Backed by memory or Consul KV.
type StateStore interface {
	Get(contractID string) (model.Payload, bool, error)
	Put(contractID string, p model.Payload) error
	Delete(contractID string) error
	List() (map[string]model.Payload, error)
	AppendAudit(model.AuditEntry) error
	ListAudit(limit int) ([]model.AuditEntry, error)
	Ping() error
}

// NewMemory is a helper to construct the in-memory implementation without importing it directly.
func NewMemory() StateStore {
	return NewMemoryStore()
}
