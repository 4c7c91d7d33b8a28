// Package fakenode serves the worker node wire contract from an httptest
// server with scriptable behavior. It is meant for tests.
package fakenode

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"contract-mesh/pkg/model"
)

type Node struct {
	ID  string
	srv *httptest.Server

	mu             sync.Mutex
	healthBody     string
	restartFailFor int // restarts that fail before one succeeds; <0 fails forever
	restarts       int
	syncStatus     string
	delay          time.Duration
	states         map[string]model.Payload
	syncs          []model.SyncRequest
	deletes        []string
	events         []json.RawMessage
}

// New starts a healthy node that accepts every sync. The server is closed on test cleanup.
func New(t testing.TB, id string) *Node {
	n := &Node{
		ID:         id,
		healthBody: `{"status":"healthy"}`,
		syncStatus: model.StatusSynced,
		states:     map[string]model.Payload{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", n.handleHealth)
	mux.HandleFunc("POST /restart", n.handleRestart)
	mux.HandleFunc("POST /sync", n.handleSync)
	mux.HandleFunc("GET /state/{id}", n.handleGetState)
	mux.HandleFunc("DELETE /state/{id}", n.handleDeleteState)
	mux.HandleFunc("POST /events", n.handleEvent)
	n.srv = httptest.NewServer(mux)
	t.Cleanup(n.srv.Close)
	return n
}

// Model returns the node as the registry would hold it.
func (n *Node) Model() model.Node {
	return model.Node{ID: n.ID, Address: n.srv.URL, Status: model.NodeActive}
}

func (n *Node) URL() string { return n.srv.URL }

// Close makes the node unreachable.
func (n *Node) Close() { n.srv.Close() }

// SetHealthy switches /health between healthy and unhealthy bodies.
func (n *Node) SetHealthy(ok bool) {
	if ok {
		n.SetHealthBody(`{"status":"healthy"}`)
		return
	}
	n.SetHealthBody(`{"status":"degraded"}`)
}

// SetHealthBody sets the raw /health response body.
func (n *Node) SetHealthBody(body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.healthBody = body
}

// FailRestarts makes the next k restarts fail; k < 0 fails every restart.
func (n *Node) FailRestarts(k int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.restartFailFor = k
}

// SetSyncStatus sets the status returned by /sync.
func (n *Node) SetSyncStatus(s string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.syncStatus = s
}

// SetDelay delays every response, to exercise timeouts.
func (n *Node) SetDelay(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delay = d
}

// SetState seeds the replica held for a contract.
func (n *Node) SetState(contractID string, p model.Payload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.states[contractID] = p
}

func (n *Node) State(contractID string) (model.Payload, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.states[contractID]
	return p, ok
}

func (n *Node) Restarts() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.restarts
}

func (n *Node) Syncs() []model.SyncRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.SyncRequest(nil), n.syncs...)
}

func (n *Node) Deletes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.deletes...)
}

func (n *Node) Events() []json.RawMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]json.RawMessage(nil), n.events...)
}

func (n *Node) wait() {
	n.mu.Lock()
	d := n.delay
	n.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
}

func (n *Node) handleHealth(w http.ResponseWriter, _ *http.Request) {
	n.wait()
	n.mu.Lock()
	body := n.healthBody
	n.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func (n *Node) handleRestart(w http.ResponseWriter, _ *http.Request) {
	n.wait()
	n.mu.Lock()
	n.restarts++
	fail := n.restartFailFor != 0
	if n.restartFailFor > 0 {
		n.restartFailFor--
	}
	n.mu.Unlock()
	if fail {
		http.Error(w, "restart failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, model.StatusResponse{Status: model.StatusRestarted})
}

func (n *Node) handleSync(w http.ResponseWriter, r *http.Request) {
	n.wait()
	var req model.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	n.mu.Lock()
	n.syncs = append(n.syncs, req)
	status := n.syncStatus
	if status == model.StatusSynced {
		n.states[req.ContractID] = req.State
	}
	n.mu.Unlock()
	writeJSON(w, model.StatusResponse{Status: status})
}

func (n *Node) handleGetState(w http.ResponseWriter, r *http.Request) {
	n.wait()
	id := r.PathValue("id")
	n.mu.Lock()
	p, ok := n.states[id]
	n.mu.Unlock()
	if !ok {
		http.Error(w, "state not found", http.StatusNotFound)
		return
	}
	writeJSON(w, model.StateResponse{State: p})
}

func (n *Node) handleDeleteState(w http.ResponseWriter, r *http.Request) {
	n.wait()
	id := r.PathValue("id")
	n.mu.Lock()
	delete(n.states, id)
	n.deletes = append(n.deletes, id)
	n.mu.Unlock()
	writeJSON(w, model.StatusResponse{Status: "deleted"})
}

func (n *Node) handleEvent(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	n.mu.Lock()
	n.events = append(n.events, raw)
	n.mu.Unlock()
	writeJSON(w, model.StatusResponse{Status: "received"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
