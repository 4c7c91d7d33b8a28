package api

import (
	"net/http"

	"contract-mesh/pkg/contract"
	"contract-mesh/pkg/model"
)

type NodeSummary struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Inactive  int `json:"inactive"`
	Connected int `json:"connected"` // nodes with a live websocket
}

// StatusResponse is the fleet overview served at /api/v1/status.
type StatusResponse struct {
	Nodes     NodeSummary         `json:"nodes"`
	Contracts map[model.State]int `json:"contracts"`
}

func (s *Server) fleetStatus(w http.ResponseWriter, r *http.Request) {
	var resp StatusResponse
	for _, n := range s.d.Registry.List() {
		resp.Nodes.Total++
		if n.Status == model.NodeActive {
			resp.Nodes.Active++
		} else {
			resp.Nodes.Inactive++
		}
		if s.d.Hub != nil && s.d.Hub.Connected(n.ID) {
			resp.Nodes.Connected++
		}
	}

	cs, err := s.d.Contracts.Find(r.Context(), contract.Filter{})
	if err != nil {
		writeError(w, err)
		return
	}
	resp.Contracts = make(map[model.State]int, len(model.States))
	for _, st := range model.States {
		resp.Contracts[st] = 0
	}
	for _, c := range cs {
		resp.Contracts[c.State]++
	}
	writeJSON(w, http.StatusOK, resp)
}
