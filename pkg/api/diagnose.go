package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"contract-mesh/pkg/errs"
	"contract-mesh/pkg/model"
)

// NodeMonitor is the slice of the health monitor the API drives by hand.
type NodeMonitor interface {
	Probe(ctx context.Context, node model.Node) bool
	Recover(ctx context.Context, node model.Node) bool
}

// DiagnoseResult captures a single check outcome.
type DiagnoseResult struct {
	Check    string `json:"check"`
	Severity string `json:"severity"` // ok/warn/fail/info
	Detail   string `json:"detail"`
}

type DiagnoseResponse struct {
	NodeID    string           `json:"nodeId"`
	Summary   string           `json:"summary"`
	Results   []DiagnoseResult `json:"results"`
	Timestamp time.Time        `json:"timestamp"`
}

func (s *Server) diagnoseNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	node, ok := s.d.Registry.GetDetails(id)
	if !ok {
		writeError(w, errs.NotFound("node", id))
		return
	}
	writeJSON(w, http.StatusOK, s.diagnose(r.Context(), node))
}

func (s *Server) diagnose(ctx context.Context, node model.Node) DiagnoseResponse {
	now := time.Now()
	var results []DiagnoseResult

	if node.Status == model.NodeActive {
		results = append(results, DiagnoseResult{Check: "registry", Severity: "ok", Detail: "node is active"})
	} else {
		results = append(results, DiagnoseResult{Check: "registry", Severity: "warn", Detail: "node is inactive and receives no pushes or events"})
	}

	// A node not checked for five sweeps is stale.
	if s.d.HealthInterval > 0 && !node.LastChecked.IsZero() {
		age := now.Sub(node.LastChecked)
		if age > 5*s.d.HealthInterval {
			results = append(results, DiagnoseResult{Check: "last check", Severity: "warn", Detail: fmt.Sprintf("last checked %.0fs ago", age.Seconds())})
		} else {
			results = append(results, DiagnoseResult{Check: "last check", Severity: "ok", Detail: node.LastChecked.UTC().Format(time.RFC3339)})
		}
	}

	if s.d.Monitor != nil {
		if s.d.Monitor.Probe(ctx, node) {
			results = append(results, DiagnoseResult{Check: "health probe", Severity: "ok", Detail: "node answered healthy"})
		} else {
			results = append(results, DiagnoseResult{Check: "health probe", Severity: "fail", Detail: "node did not answer healthy at " + node.Address})
		}
	}

	if s.d.Hub != nil {
		if s.d.Hub.Connected(node.ID) {
			results = append(results, DiagnoseResult{Check: "websocket", Severity: "ok", Detail: "event channel connected"})
		} else {
			results = append(results, DiagnoseResult{Check: "websocket", Severity: "info", Detail: "no event channel; events go over HTTP"})
		}
	}

	return DiagnoseResponse{NodeID: node.ID, Summary: highestSeverity(results), Results: results, Timestamp: now}
}

// recoverNode runs the recovery protocol for one node on demand.
func (s *Server) recoverNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	node, ok := s.d.Registry.GetDetails(id)
	if !ok {
		writeError(w, errs.NotFound("node", id))
		return
	}
	if s.d.Monitor == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "health monitor not configured"})
		return
	}
	recovered := s.d.Monitor.Recover(r.Context(), node)
	s.log.Info().Str("node_id", id).Bool("recovered", recovered).Msg("manual recovery")
	node, _ = s.d.Registry.GetDetails(id)
	writeJSON(w, http.StatusOK, map[string]any{"recovered": recovered, "node": node})
}

func highestSeverity(results []DiagnoseResult) string {
	level := map[string]int{"fail": 3, "warn": 2, "ok": 1, "info": 0}
	maxL := 0
	for _, r := range results {
		if l := level[r.Severity]; l > maxL {
			maxL = l
		}
	}
	switch maxL {
	case 3:
		return "fail"
	case 2:
		return "warn"
	}
	return "ok"
}
