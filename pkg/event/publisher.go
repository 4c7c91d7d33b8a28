package event

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"contract-mesh/pkg/metrics"
	"contract-mesh/pkg/model"
	"contract-mesh/pkg/nodeclient"
)

// NodeSource yields the currently healthy nodes.
type NodeSource interface {
	GetActiveNodes(ctx context.Context) []model.Node
}

// Publisher fans an event out to the active fleet and to the local bus.
// Remote delivery is fire-and-forget: failures are logged, never returned.
type Publisher struct {
	nodes    NodeSource
	notifier Notifier
	bus      *Bus
	timeout  time.Duration
	metrics  *metrics.Metrics
	log      zerolog.Logger

	inflight sync.WaitGroup
}

type PublisherOption func(*Publisher)

func WithNotifyTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) { p.timeout = d }
}

func WithPublisherMetrics(m *metrics.Metrics) PublisherOption {
	return func(p *Publisher) { p.metrics = m }
}

func WithPublisherLogger(log zerolog.Logger) PublisherOption {
	return func(p *Publisher) { p.log = log }
}

func NewPublisher(nodes NodeSource, notifier Notifier, bus *Bus, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		nodes:    nodes,
		notifier: notifier,
		bus:      bus,
		timeout:  nodeclient.DefaultTimeout,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With().Str("component", "publisher").Logger()
	return p
}

// Publish notifies every active node and queues ev on the local bus. It
// returns once the local publish is done; remote notifications continue in
// the background. With no active nodes the event is still dispatched locally.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	env, err := Encode(ev)
	if err != nil {
		return err
	}
	p.metrics.Event(string(ev.Kind()))
	nodes := p.nodes.GetActiveNodes(ctx)
	if len(nodes) == 0 {
		p.log.Warn().Str("kind", string(ev.Kind())).Msg("no active nodes; dispatching locally only")
	}

	bg := context.WithoutCancel(ctx)
	for _, n := range nodes {
		p.inflight.Add(1)
		go func() {
			defer p.inflight.Done()
			nctx, cancel := context.WithTimeout(bg, p.timeout)
			defer cancel()
			if err := p.notifier.Notify(nctx, n, env); err != nil {
				p.log.Warn().Err(err).Str("node_id", n.ID).Str("kind", string(ev.Kind())).Msg("remote notification failed")
			}
		}()
	}

	if err := p.bus.Publish(ctx, ev); err != nil {
		return err
	}
	p.log.Info().Str("kind", string(ev.Kind())).Int("nodes", len(nodes)).Msg("event published")
	return nil
}

// Wait blocks until in-flight remote notifications have finished.
func (p *Publisher) Wait() {
	p.inflight.Wait()
}
