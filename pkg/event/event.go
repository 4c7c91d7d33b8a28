// Package event carries contract triggers between the controller, its local
// subscribers and the node fleet.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind names an event variant on the wire.
type Kind string

const (
	KindContract    Kind = "contractEvent"
	KindTime        Kind = "timeEvent"
	KindStateChange Kind = "stateChangeEvent"
)

// Kinds lists every variant.
var Kinds = []Kind{KindContract, KindTime, KindStateChange}

// Event is one of ContractTrigger, TimeTrigger or StateChangeTrigger.
type Event interface {
	Kind() Kind
	isEvent()
}

// ContractTrigger asks for one contract to be executed.
type ContractTrigger struct {
	ContractID string `json:"contractId"`
}

// TimeTrigger executes every active contract scheduled at or before Timestamp.
type TimeTrigger struct {
	Timestamp time.Time `json:"timestamp"`
}

// StateChangeTrigger executes every active contract with a condition on Field == Value.
type StateChangeTrigger struct {
	Field any `json:"field"`
	Value any `json:"value"`
}

func (ContractTrigger) Kind() Kind    { return KindContract }
func (TimeTrigger) Kind() Kind        { return KindTime }
func (StateChangeTrigger) Kind() Kind { return KindStateChange }

func (ContractTrigger) isEvent()    {}
func (TimeTrigger) isEvent()        {}
func (StateChangeTrigger) isEvent() {}

// Envelope is the wire form: {"type": kind, "payload": {...}}.
type Envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func Encode(ev Event) (Envelope, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", ev.Kind(), err)
	}
	return Envelope{Type: ev.Kind(), Payload: b}, nil
}

func Decode(env Envelope) (Event, error) {
	switch env.Type {
	case KindContract:
		var ev ContractTrigger
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if ev.ContractID == "" {
			return nil, fmt.Errorf("decode %s: contractId is required", env.Type)
		}
		return ev, nil
	case KindTime:
		var ev TimeTrigger
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if ev.Timestamp.IsZero() {
			return nil, fmt.Errorf("decode %s: timestamp is required", env.Type)
		}
		return ev, nil
	case KindStateChange:
		var ev StateChangeTrigger
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if ev.Field == nil || ev.Value == nil {
			return nil, fmt.Errorf("decode %s: field and value are required", env.Type)
		}
		return ev, nil
	}
	return nil, fmt.Errorf("unknown event type %q", env.Type)
}
