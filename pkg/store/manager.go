package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"contract-mesh/pkg/errs"
	"contract-mesh/pkg/keylock"
	"contract-mesh/pkg/model"
	"contract-mesh/pkg/replica"
)

// Replicator fans payload changes out to the fleet.
type Replicator interface {
	ActiveNodes(ctx context.Context) []model.Node
	PushAll(ctx context.Context, contractID string, state model.Payload, nodes []model.Node) replica.PushResult
	RemoveAll(ctx context.Context, contractID string, nodes []model.Node)
}

// Manager validates and stores payloads, then replicates them to the active
// fleet. Writes to the same contract are serialized; replication failures
// are logged and left to the next sync pass.
type Manager struct {
	store StateStore
	rep   Replicator
	log   zerolog.Logger
	now   func() time.Time

	locks keylock.Locker
}

func NewManager(st StateStore, rep Replicator, log zerolog.Logger) *Manager {
	return &Manager{
		store: st,
		rep:   rep,
		log:   log.With().Str("component", "state").Logger(),
		now:   time.Now,
	}
}

func (m *Manager) lock(contractID string) func() {
	return m.locks.Lock(contractID)
}

// Initialize sets the payload for a contract, replacing any previous one.
func (m *Manager) Initialize(ctx context.Context, contractID string, p model.Payload) error {
	if err := ValidatePayload(p); err != nil {
		return err
	}
	unlock := m.lock(contractID)
	defer unlock()
	return m.write(ctx, contractID, "state.initialize", p)
}

// Update replaces an existing payload after checking the transition.
func (m *Manager) Update(ctx context.Context, contractID string, p model.Payload) error {
	unlock := m.lock(contractID)
	defer unlock()
	prev, ok, err := m.store.Get(contractID)
	if err != nil {
		return fmt.Errorf("load state %s: %w", contractID, err)
	}
	if !ok {
		return errs.NotFound("state", contractID)
	}
	if err := ValidatePayloadTransition(prev, p); err != nil {
		return err
	}
	return m.write(ctx, contractID, "state.update", p)
}

// Record updates the payload when one exists and initializes it otherwise.
func (m *Manager) Record(ctx context.Context, contractID string, p model.Payload) error {
	unlock := m.lock(contractID)
	defer unlock()
	prev, ok, err := m.store.Get(contractID)
	if err != nil {
		return fmt.Errorf("load state %s: %w", contractID, err)
	}
	action := "state.initialize"
	if ok {
		if err := ValidatePayloadTransition(prev, p); err != nil {
			return err
		}
		action = "state.update"
	} else if err := ValidatePayload(p); err != nil {
		return err
	}
	return m.write(ctx, contractID, action, p)
}

func (m *Manager) write(ctx context.Context, contractID, action string, p model.Payload) error {
	if err := m.store.Put(contractID, p); err != nil {
		return fmt.Errorf("store state %s: %w", contractID, err)
	}
	m.audit(action, contractID, string(p.StateName()))
	m.log.Info().Str("contract_id", contractID).Str("state", string(p.StateName())).Msg(action)
	m.replicate(ctx, contractID, p)
	return nil
}

func (m *Manager) replicate(ctx context.Context, contractID string, p model.Payload) replica.PushResult {
	nodes := m.rep.ActiveNodes(ctx)
	if len(nodes) == 0 {
		m.log.Warn().Str("contract_id", contractID).Msg("no active nodes to replicate to")
		return replica.PushResult{}
	}
	res := m.rep.PushAll(ctx, contractID, p, nodes)
	if res.Err != nil {
		m.log.Warn().Err(res.Err).Str("contract_id", contractID).Strs("failed", res.Failed).Msg("replication incomplete")
	}
	return res
}

func (m *Manager) audit(action, contractID, detail string) {
	err := m.store.AppendAudit(model.AuditEntry{
		Actor:     "controller",
		Action:    action,
		Target:    contractID,
		Detail:    detail,
		Timestamp: m.now(),
	})
	if err != nil {
		m.log.Warn().Err(err).Str("contract_id", contractID).Msg("audit append failed")
	}
}

func (m *Manager) Get(contractID string) (model.Payload, error) {
	p, ok, err := m.store.Get(contractID)
	if err != nil {
		return nil, fmt.Errorf("load state %s: %w", contractID, err)
	}
	if !ok {
		return nil, errs.NotFound("state", contractID)
	}
	return p, nil
}

// Remove deletes the payload locally, then from every active node.
func (m *Manager) Remove(ctx context.Context, contractID string) error {
	unlock := m.lock(contractID)
	defer unlock()
	if _, ok, err := m.store.Get(contractID); err != nil {
		return fmt.Errorf("load state %s: %w", contractID, err)
	} else if !ok {
		return errs.NotFound("state", contractID)
	}
	if err := m.store.Delete(contractID); err != nil {
		return fmt.Errorf("delete state %s: %w", contractID, err)
	}
	m.audit("state.remove", contractID, "")
	m.log.Info().Str("contract_id", contractID).Msg("state.remove")
	m.rep.RemoveAll(ctx, contractID, m.rep.ActiveNodes(ctx))
	return nil
}

// Audit returns the latest audit entries.
func (m *Manager) Audit(limit int) ([]model.AuditEntry, error) {
	return m.store.ListAudit(limit)
}

// SyncResult summarizes one sync pass.
type SyncResult struct {
	Contracts int
	Failed    int
}

// SyncAll re-pushes every stored payload to the active fleet. It is the
// retry path for pushes that failed earlier.
func (m *Manager) SyncAll(ctx context.Context) (SyncResult, error) {
	all, err := m.store.List()
	if err != nil {
		return SyncResult{}, fmt.Errorf("list states: %w", err)
	}
	nodes := m.rep.ActiveNodes(ctx)
	if len(nodes) == 0 {
		m.log.Warn().Int("contracts", len(all)).Msg("sync skipped; no active nodes")
		return SyncResult{Contracts: len(all)}, nil
	}
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	res := SyncResult{Contracts: len(ids)}
	for _, id := range ids {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		pr := m.rep.PushAll(ctx, id, all[id], nodes)
		res.Failed += len(pr.Failed)
	}
	m.log.Info().Int("contracts", res.Contracts).Int("nodes", len(nodes)).Int("failed_pushes", res.Failed).Msg("state sync pass done")
	return res, nil
}

// RunSync runs SyncAll on every tick until ctx is done. interval <= 0 disables it.
func (m *Manager) RunSync(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.SyncAll(ctx); err != nil {
				m.log.Error().Err(err).Msg("state sync pass failed")
			}
		}
	}
}
