package model

import "time"

// NodeStatus is the membership status of a worker node.
type NodeStatus string

const (
	NodeActive   NodeStatus = "active"
	NodeInactive NodeStatus = "inactive"
)

// Valid reports whether s is a known status.
func (s NodeStatus) Valid() bool {
	return s == NodeActive || s == NodeInactive
}

// Node captures a registered worker node as seen by the controller.
type Node struct {
	ID          string     `json:"id"`
	Address     string     `json:"address"` // base URL, e.g. http://10.0.0.7:9090
	Status      NodeStatus `json:"status"`
	LastChecked time.Time  `json:"lastChecked"`
}
