// Package health probes worker nodes and runs the bounded recovery protocol.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"contract-mesh/pkg/metrics"
	"contract-mesh/pkg/model"
	"contract-mesh/pkg/nodeclient"
)

const (
	DefaultRecoveryAttempts = 3
	DefaultRecoveryInterval = 100 * time.Millisecond
)

// StatusUpdater receives status changes decided by the monitor.
type StatusUpdater interface {
	UpdateStatus(id string, status model.NodeStatus) bool
}

// NodeLister lists every registered node for a sweep.
type NodeLister interface {
	List() []model.Node
}

// Monitor probes nodes and recovers unhealthy ones. Recovery for one node is
// strictly sequential; distinct nodes may be handled in parallel.
type Monitor struct {
	client   *nodeclient.Client
	attempts int
	interval time.Duration
	alerter  Alerter
	metrics  *metrics.Metrics
	log      zerolog.Logger

	// recovering holds one in-flight recovery per node id.
	recovering singleflight.Group

	mu      sync.RWMutex
	updater StatusUpdater
}

type Option func(*Monitor)

// WithClient sets the node client (and with it the per-call timeout).
func WithClient(c *nodeclient.Client) Option {
	return func(m *Monitor) { m.client = c }
}

// WithRecovery sets the attempt count and the fixed pause between attempts.
func WithRecovery(attempts int, interval time.Duration) Option {
	return func(m *Monitor) {
		m.attempts = attempts
		m.interval = interval
	}
}

func WithAlerter(a Alerter) Option {
	return func(m *Monitor) { m.alerter = a }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

func WithLogger(log zerolog.Logger) Option {
	return func(m *Monitor) { m.log = log }
}

func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		attempts: DefaultRecoveryAttempts,
		interval: DefaultRecoveryInterval,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.client == nil {
		m.client = nodeclient.New(nil, nodeclient.DefaultTimeout)
	}
	if m.attempts < 1 {
		m.attempts = 1
	}
	if m.interval < 0 {
		m.interval = 0
	}
	if m.alerter == nil {
		m.alerter = NewLogAlerter(m.log)
	}
	m.log = m.log.With().Str("component", "health").Logger()
	return m
}

// Attach sets where status demotions go. Call it before the monitor is used.
func (m *Monitor) Attach(u StatusUpdater) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updater = u
}

func (m *Monitor) setStatus(id string, status model.NodeStatus) {
	m.mu.RLock()
	u := m.updater
	m.mu.RUnlock()
	if u != nil {
		u.UpdateStatus(id, status)
	}
}

// Probe issues one bounded health request.
func (m *Monitor) Probe(ctx context.Context, node model.Node) bool {
	err := m.client.Health(ctx, node)
	m.metrics.Probe(err == nil)
	if err != nil {
		m.log.Warn().Err(err).Str("node_id", node.ID).Msg("node unhealthy")
		return false
	}
	m.log.Debug().Str("node_id", node.ID).Msg("node healthy")
	return true
}

// Recover runs up to the configured number of restart attempts. On exhaustion
// the node is marked inactive and exactly one alert is raised. Callers asking
// for a node already under recovery wait for that run and share its result.
func (m *Monitor) Recover(ctx context.Context, node model.Node) bool {
	v, _, shared := m.recovering.Do(node.ID, func() (any, error) {
		return m.runRecovery(ctx, node), nil
	})
	if shared {
		m.log.Debug().Str("node_id", node.ID).Msg("joined in-flight recovery")
	}
	return v.(bool)
}

func (m *Monitor) runRecovery(ctx context.Context, node model.Node) bool {
	interval := m.interval
	backoff := retry.WithMaxRetries(uint64(m.attempts-1), retry.BackoffFunc(func() (time.Duration, bool) {
		return interval, false
	}))

	m.log.Warn().Str("node_id", node.ID).Msg("starting recovery protocol")
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		m.log.Info().Str("node_id", node.ID).Int("attempt", attempt).Int("of", m.attempts).Msg("recovery attempt")
		if err := m.client.Restart(ctx, node); err != nil {
			m.log.Warn().Err(err).Str("node_id", node.ID).Int("attempt", attempt).Msg("recovery attempt failed")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err == nil {
		m.metrics.Recovery(true)
		m.log.Info().Str("node_id", node.ID).Int("attempts", attempt).Msg("node recovered")
		return true
	}

	m.metrics.Recovery(false)
	m.log.Error().Str("node_id", node.ID).Int("attempts", attempt).Msg("recovery exhausted; marking inactive")
	m.setStatus(node.ID, model.NodeInactive)
	m.metrics.Alert()
	m.alerter.Alert(ctx, node, attempt)
	return false
}

// Check is the registry-facing probe: on failure it runs recovery before
// returning false. A recovered node is promoted by the next probe, not this one.
func (m *Monitor) Check(ctx context.Context, node model.Node) bool {
	if m.Probe(ctx, node) {
		return true
	}
	m.Recover(ctx, node)
	return false
}

// Sweep checks every listed node in parallel and writes back its status.
func (m *Monitor) Sweep(ctx context.Context, nodes NodeLister) {
	var g errgroup.Group
	for _, n := range nodes.List() {
		g.Go(func() error {
			status := model.NodeInactive
			if m.Check(ctx, n) {
				status = model.NodeActive
			}
			m.setStatus(n.ID, status)
			return nil
		})
	}
	_ = g.Wait()
}

// Run sweeps on every tick until ctx is done. interval <= 0 disables it.
func (m *Monitor) Run(ctx context.Context, nodes NodeLister, interval time.Duration) {
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
			m.Sweep(ctx, nodes)
		}
	}
}
