package api

import (
	"time"

	"contract-mesh/pkg/model"
)

// NodeRegistrationRequest is sent by nodes on start or by an operator.
type NodeRegistrationRequest struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

// NodeStatusRequest updates a node's status by hand.
type NodeStatusRequest struct {
	Status model.NodeStatus `json:"status"`
}

// CreateContractRequest is a contract plus creation options.
type CreateContractRequest struct {
	model.Contract
	AutoExecute bool `json:"autoExecute,omitempty"` // publish a contract trigger once stored
}

// ScheduleRequest sets or moves the time trigger threshold of a contract.
type ScheduleRequest struct {
	ScheduledAt time.Time `json:"scheduledAt"`
}

// FailRequest moves an active contract to failed.
type FailRequest struct {
	Reason string `json:"reason"`
}

type ContractEventRequest struct {
	ContractID string `json:"contractId"`
}

// TimeEventRequest defaults Timestamp to now when omitted.
type TimeEventRequest struct {
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type StateEventRequest struct {
	Field any `json:"field"`
	Value any `json:"value"`
}

// ErrorResponse is the body of every non-2xx JSON answer.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}
