package model

// Status values exchanged with worker nodes.
const (
	StatusHealthy   = "healthy"
	StatusRestarted = "restarted"
	StatusSynced    = "synced"
)

// StatusResponse is the body returned by /health, /restart and /sync.
type StatusResponse struct {
	Status string `json:"status"`
}

// SyncRequest is posted to a node's /sync endpoint.
type SyncRequest struct {
	ContractID string  `json:"contractId"`
	State      Payload `json:"state"`
}

// StateResponse is returned by GET /state/:contractId.
type StateResponse struct {
	State Payload `json:"state"`
}
