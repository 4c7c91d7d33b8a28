//go:build consul

// Package consul stores replica payloads and the audit trail in Consul KV.
package consul

import (
	"encoding/json"
	"fmt"
	"time"

	consulapi "github.com/hashicorp/consul/api"

	"contract-mesh/pkg/model"
)

// Store is a Consul-backed state store.
type Store struct {
	cli *consulapi.Client
}

const (
	statePrefix = "contract-mesh/state/"
	auditPrefix = "contract-mesh/audit/"
)

func NewStore(addr string) (*Store, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return &Store{cli: cli}, nil
}

func (s *Store) Get(contractID string) (model.Payload, bool, error) {
	kv, _, err := s.cli.KV().Get(statePrefix+contractID, nil)
	if err != nil || kv == nil {
		return nil, false, err
	}
	var p model.Payload
	if err := json.Unmarshal(kv.Value, &p); err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func (s *Store) Put(contractID string, p model.Payload) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.cli.KV().Put(&consulapi.KVPair{Key: statePrefix + contractID, Value: b}, nil)
	return err
}

func (s *Store) Delete(contractID string) error {
	_, err := s.cli.KV().Delete(statePrefix+contractID, nil)
	return err
}

func (s *Store) List() (map[string]model.Payload, error) {
	pairs, _, err := s.cli.KV().List(statePrefix, nil)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.Payload, len(pairs))
	for _, kv := range pairs {
		var p model.Payload
		if err := json.Unmarshal(kv.Value, &p); err == nil {
			out[kv.Key[len(statePrefix):]] = p
		}
	}
	return out, nil
}

func (s *Store) AppendAudit(entry model.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s%d-%s", auditPrefix, entry.Timestamp.UnixNano(), entry.Target)
	_, err = s.cli.KV().Put(&consulapi.KVPair{Key: key, Value: b}, nil)
	return err
}

func (s *Store) ListAudit(limit int) ([]model.AuditEntry, error) {
	pairs, _, err := s.cli.KV().List(auditPrefix, nil)
	if err != nil {
		return nil, err
	}
	var out []model.AuditEntry
	for _, p := range pairs {
		var e model.AuditEntry
		if err := json.Unmarshal(p.Value, &e); err == nil {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Ping checks the agent is reachable.
func (s *Store) Ping() error {
	_, err := s.cli.Status().Leader()
	return err
}
