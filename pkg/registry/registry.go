// Package registry holds the membership table of worker nodes. It owns no
// network logic: liveness is delegated to a HealthChecker at read time.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"contract-mesh/pkg/model"
)

// HealthChecker decides whether a node is currently usable.
type HealthChecker interface {
	Check(ctx context.Context, node model.Node) bool
}

// Registry is safe for concurrent use. Nodes are stored by value, so readers
// always get a consistent copy.
type Registry struct {
	mu      sync.RWMutex
	nodes   map[string]model.Node
	checker HealthChecker
	now     func() time.Time
	log     zerolog.Logger
}

func New(checker HealthChecker, log zerolog.Logger) *Registry {
	return &Registry{
		nodes:   make(map[string]model.Node),
		checker: checker,
		now:     time.Now,
		log:     log.With().Str("component", "registry").Logger(),
	}
}

// Register adds a node as active. It returns false without touching the
// existing entry when id is already registered.
func (r *Registry) Register(id, address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[id]; ok {
		r.log.Warn().Str("node_id", id).Msg("node already registered")
		return false
	}
	r.nodes[id] = model.Node{
		ID:          id,
		Address:     address,
		Status:      model.NodeActive,
		LastChecked: r.now(),
	}
	r.log.Info().Str("node_id", id).Str("address", address).Msg("node registered")
	return true
}

func (r *Registry) Deregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[id]; !ok {
		r.log.Warn().Str("node_id", id).Msg("deregister of unknown node")
		return false
	}
	delete(r.nodes, id)
	r.log.Info().Str("node_id", id).Msg("node deregistered")
	return true
}

// UpdateStatus sets the status and refreshes lastChecked.
func (r *Registry) UpdateStatus(id string, status model.NodeStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	if !ok {
		return false
	}
	if n.Status != status {
		r.log.Info().Str("node_id", id).Str("from", string(n.Status)).Str("to", string(status)).Msg("node status changed")
	}
	n.Status = status
	n.LastChecked = r.now()
	r.nodes[id] = n
	return true
}

func (r *Registry) GetDetails(id string) (model.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	return n, ok
}

// List returns every registered node sorted by id, whatever its status.
func (r *Registry) List() []model.Node {
	r.mu.RLock()
	out := make([]model.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetActiveNodes probes every registered node in parallel and returns the
// healthy ones sorted by id. Nodes failing the check are demoted to inactive;
// passing nodes are promoted to active. Nodes deregistered mid-probe are dropped.
func (r *Registry) GetActiveNodes(ctx context.Context) []model.Node {
	nodes := r.List()
	healthy := make([]bool, len(nodes))

	var g errgroup.Group
	for i, n := range nodes {
		g.Go(func() error {
			healthy[i] = r.checker == nil || r.checker.Check(ctx, n)
			return nil
		})
	}
	_ = g.Wait()

	active := make([]model.Node, 0, len(nodes))
	for i, n := range nodes {
		if !healthy[i] {
			r.log.Warn().Str("node_id", n.ID).Msg("node unhealthy; marking inactive")
			r.UpdateStatus(n.ID, model.NodeInactive)
			continue
		}
		if !r.UpdateStatus(n.ID, model.NodeActive) {
			continue
		}
		if cur, ok := r.GetDetails(n.ID); ok {
			active = append(active, cur)
		}
	}
	r.log.Debug().Int("active", len(active)).Int("registered", len(nodes)).Msg("active nodes resolved")
	return active
}
