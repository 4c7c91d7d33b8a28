// Package replica pushes contract state to worker nodes, reconciles
// divergent replicas and removes state from the fleet. Delivery is
// best-effort: a push is never retried here.
package replica

import (
	"context"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"contract-mesh/pkg/errs"
	"contract-mesh/pkg/metrics"
	"contract-mesh/pkg/model"
	"contract-mesh/pkg/nodeclient"
)

// NodeSource yields the currently healthy nodes in a stable order.
type NodeSource interface {
	GetActiveNodes(ctx context.Context) []model.Node
}

// PushResult reports a fan-out push. Succeeded and Failed hold node ids in
// the order the nodes were given.
type PushResult struct {
	Succeeded []string
	Failed    []string
	Err       error
}

// Replicator is safe for concurrent use.
type Replicator struct {
	client   *nodeclient.Client
	nodes    NodeSource
	resolver Resolver
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

type Option func(*Replicator)

func WithResolver(r Resolver) Option {
	return func(rp *Replicator) { rp.resolver = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(rp *Replicator) { rp.metrics = m }
}

func WithLogger(log zerolog.Logger) Option {
	return func(rp *Replicator) { rp.log = log }
}

func New(client *nodeclient.Client, nodes NodeSource, opts ...Option) *Replicator {
	r := &Replicator{
		client:   client,
		nodes:    nodes,
		resolver: First,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		r.client = nodeclient.New(nil, nodeclient.DefaultTimeout)
	}
	r.log = r.log.With().Str("component", "replica").Logger()
	return r
}

// ActiveNodes exposes the node source to callers that fan out themselves.
func (r *Replicator) ActiveNodes(ctx context.Context) []model.Node {
	return r.nodes.GetActiveNodes(ctx)
}

// PushOne sends the state to a single node and reports whether it was accepted.
func (r *Replicator) PushOne(ctx context.Context, node model.Node, contractID string, state model.Payload) bool {
	return r.push(ctx, node, contractID, state) == nil
}

func (r *Replicator) push(ctx context.Context, node model.Node, contractID string, state model.Payload) error {
	err := r.client.Sync(ctx, node, contractID, state)
	r.metrics.Push(err == nil)
	if err != nil {
		r.log.Warn().Err(err).Str("node_id", node.ID).Str("contract_id", contractID).Msg("state push failed")
		return err
	}
	r.log.Debug().Str("node_id", node.ID).Str("contract_id", contractID).Msg("state pushed")
	return nil
}

// PushAll pushes to every node concurrently and waits for all of them.
// One node failing never prevents delivery to the others.
func (r *Replicator) PushAll(ctx context.Context, contractID string, state model.Payload, nodes []model.Node) PushResult {
	errsByNode := make([]error, len(nodes))
	var g errgroup.Group
	for i, n := range nodes {
		g.Go(func() error {
			errsByNode[i] = r.push(ctx, n, contractID, state)
			return nil
		})
	}
	_ = g.Wait()

	var res PushResult
	var merr *multierror.Error
	for i, n := range nodes {
		if errsByNode[i] != nil {
			res.Failed = append(res.Failed, n.ID)
			merr = multierror.Append(merr, errsByNode[i])
			continue
		}
		res.Succeeded = append(res.Succeeded, n.ID)
	}
	res.Err = merr.ErrorOrNil()
	r.log.Info().
		Str("contract_id", contractID).
		Int("succeeded", len(res.Succeeded)).
		Int("failed", len(res.Failed)).
		Msg("state replicated")
	return res
}

// Replica is one node's view of a contract's state.
type Replica struct {
	Node  model.Node
	State model.Payload
}

// Fetch gathers the contract state from every active node. Nodes that fail
// or hold no state are skipped; the rest keep active-node order.
func (r *Replicator) Fetch(ctx context.Context, contractID string) []Replica {
	nodes := r.nodes.GetActiveNodes(ctx)
	states := make([]model.Payload, len(nodes))
	var g errgroup.Group
	for i, n := range nodes {
		g.Go(func() error {
			p, err := r.client.FetchState(ctx, n, contractID)
			if err != nil {
				r.log.Warn().Err(err).Str("node_id", n.ID).Str("contract_id", contractID).Msg("state fetch failed")
				return nil
			}
			states[i] = p
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Replica, 0, len(nodes))
	for i, n := range nodes {
		if states[i] != nil {
			out = append(out, Replica{Node: n, State: states[i]})
		}
	}
	return out
}

// Reconcile brings every active node to one agreed state and returns it.
// When all replicas already agree nothing is written. Otherwise the resolver
// picks the primary and it is pushed to each node holding a different value.
func (r *Replicator) Reconcile(ctx context.Context, contractID string) (model.Payload, error) {
	replicas := r.Fetch(ctx, contractID)
	if len(replicas) == 0 {
		r.metrics.Reconciliation("failed")
		return nil, &errs.ReconciliationError{ContractID: contractID, Reason: "no node returned a usable state"}
	}

	if consistent(replicas) {
		r.metrics.Reconciliation("consistent")
		r.log.Debug().Str("contract_id", contractID).Int("replicas", len(replicas)).Msg("replicas consistent")
		return replicas[0].State, nil
	}

	primary := r.resolver.Resolve(replicas)
	r.log.Warn().
		Str("contract_id", contractID).
		Str("primary", primary.Node.ID).
		Str("resolver", r.resolver.Name()).
		Msg("replicas diverged; reconciling")

	var stale []model.Node
	for _, rep := range replicas {
		if !cmp.Equal(rep.State, primary.State) {
			stale = append(stale, rep.Node)
		}
	}
	res := r.PushAll(ctx, contractID, primary.State, stale)
	if res.Err != nil {
		r.log.Warn().Err(res.Err).Str("contract_id", contractID).Msg("corrective push incomplete")
	}
	r.metrics.Reconciliation("repaired")
	return primary.State, nil
}

func consistent(replicas []Replica) bool {
	for _, rep := range replicas[1:] {
		if !cmp.Equal(rep.State, replicas[0].State) {
			return false
		}
	}
	return true
}

// RemoveAll deletes the contract state from every node. Failures are logged only.
func (r *Replicator) RemoveAll(ctx context.Context, contractID string, nodes []model.Node) {
	var g errgroup.Group
	for _, n := range nodes {
		g.Go(func() error {
			if err := r.client.DeleteState(ctx, n, contractID); err != nil {
				r.log.Warn().Err(err).Str("node_id", n.ID).Str("contract_id", contractID).Msg("state removal failed")
			}
			return nil
		})
	}
	_ = g.Wait()
	r.log.Info().Str("contract_id", contractID).Int("nodes", len(nodes)).Msg("state removed from fleet")
}
