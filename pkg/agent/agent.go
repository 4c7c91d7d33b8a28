// Package agent is the reference worker node: it serves the node wire
// contract over a SQLite replica store and receives controller events.
package agent

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/rs/zerolog"

	"contract-mesh/pkg/event"
	"contract-mesh/pkg/model"
)

// EventSink is called for every valid event the node receives.
type EventSink func(ctx context.Context, ev event.Event)

type Agent struct {
	id       string
	db       *SQLiteStore
	log      zerolog.Logger
	sink     EventSink
	tls      *tls.Config // for calls to the controller
	restarts atomic.Int64
}

type Option func(*Agent)

func WithLogger(log zerolog.Logger) Option {
	return func(a *Agent) { a.log = log }
}

// WithEventSink sets what runs after an event is recorded.
func WithEventSink(fn EventSink) Option {
	return func(a *Agent) { a.sink = fn }
}

// WithTLSConfig secures registration and the event websocket.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(a *Agent) { a.tls = cfg }
}

func New(id string, db *SQLiteStore, opts ...Option) *Agent {
	a := &Agent{id: id, db: db, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With().Str("component", "agent").Str("node_id", id).Logger()
	return a
}

func (a *Agent) ID() string { return a.id }

// Restarts counts handled /restart calls since start.
func (a *Agent) Restarts() int64 { return a.restarts.Load() }

// Handler serves the node wire contract.
func (a *Agent) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("POST /restart", a.handleRestart)
	mux.HandleFunc("POST /sync", a.handleSync)
	mux.HandleFunc("GET /state/{id}", a.handleGetState)
	mux.HandleFunc("DELETE /state/{id}", a.handleDeleteState)
	mux.HandleFunc("POST /events", a.handleEvent)
	mux.HandleFunc("GET /events", a.handleListEvents)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	writeJSON(w, code, model.StatusResponse{Status: status})
}
