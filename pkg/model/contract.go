package model

import (
	"encoding/json"
	"time"
)

// State is the lifecycle state of a contract.
type State string

const (
	StateInactive  State = "inactive"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// States lists every allowed lifecycle state.
var States = []State{StateInactive, StateActive, StateCompleted, StateFailed}

// Valid reports whether s is one of States.
func (s State) Valid() bool {
	for _, v := range States {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Operator is a comparison operator used by a condition.
type Operator string

const (
	OpEq Operator = "=="
	OpNe Operator = "!="
	OpGt Operator = ">"
	OpGe Operator = ">="
	OpLt Operator = "<"
	OpLe Operator = "<="
)

// Operators lists the supported comparison operators.
var Operators = []Operator{OpEq, OpNe, OpGt, OpGe, OpLt, OpLe}

// Condition holds when Field <Operator> Value is true. Field and Value are JSON scalars.
type Condition struct {
	Field    any      `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Action is a typed step run after all conditions hold.
type Action struct {
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// UnmarshalJSON accepts both {"type":..,"parameters":{..}} and the flat
// {"type":..,"amount":..} form, folding extra keys into Parameters.
func (a *Action) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*a = Action{}
	if v, ok := raw["type"]; ok {
		if err := json.Unmarshal(v, &a.Type); err != nil {
			return err
		}
		delete(raw, "type")
	}
	if v, ok := raw["parameters"]; ok {
		if err := json.Unmarshal(v, &a.Parameters); err != nil {
			return err
		}
		delete(raw, "parameters")
	}
	for k, v := range raw {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		if a.Parameters == nil {
			a.Parameters = make(map[string]any, len(raw))
		}
		if _, exists := a.Parameters[k]; !exists {
			a.Parameters[k] = val
		}
	}
	return nil
}

// Timestamps tracks the lifecycle times of a contract.
type Timestamps struct {
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	ExecutedAt  *time.Time `json:"executedAt,omitempty"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"` // time triggers at or after this fire the contract
}

// Contract is a persisted condition -> action rule.
type Contract struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Conditions []Condition `json:"conditions"`
	Actions    []Action    `json:"actions"`
	State      State       `json:"state"`
	Timestamps Timestamps  `json:"timestamps"`
}
