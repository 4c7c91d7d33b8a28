// Package metrics exposes prometheus counters for the fleet and the engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "contract_mesh"

type Metrics struct {
	probes          *prometheus.CounterVec
	recoveries      *prometheus.CounterVec
	alerts          prometheus.Counter
	pushes          *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	executions      *prometheus.CounterVec
	events          *prometheus.CounterVec
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		probes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_probes_total",
			Help:      "Health probes issued to nodes, by result.",
		}, []string{"result"}),
		recoveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_recoveries_total",
			Help:      "Recovery protocol runs, by result.",
		}, []string{"result"}),
		alerts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_alerts_total",
			Help:      "Alerts raised after exhausted recovery.",
		}),
		pushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_pushes_total",
			Help:      "State pushes to nodes, by result.",
		}, []string{"result"}),
		reconciliations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Reconciliation runs, by outcome.",
		}, []string{"outcome"}),
		executions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contract_executions_total",
			Help:      "Contract executions, by outcome.",
		}, []string{"outcome"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published to the bus, by kind.",
		}, []string{"kind"}),
	}
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "fail"
}

func (m *Metrics) Probe(healthy bool) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(result(healthy)).Inc()
}

func (m *Metrics) Recovery(ok bool) {
	if m == nil {
		return
	}
	m.recoveries.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) Alert() {
	if m == nil {
		return
	}
	m.alerts.Inc()
}

func (m *Metrics) Push(ok bool) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(result(ok)).Inc()
}

// Reconciliation records consistent, repaired or failed.
func (m *Metrics) Reconciliation(outcome string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(outcome).Inc()
}

// Execution records completed, not_met, rejected or error.
func (m *Metrics) Execution(outcome string) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Event(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}
