package model

import "time"

// Payload is the replicated execution state of one contract. It is an opaque
// JSON object; well-formed payloads carry at least stateName and timestamp.
type Payload map[string]any

const (
	PayloadStateName = "stateName"
	PayloadTimestamp = "timestamp"
)

// NewPayload builds a payload for the given lifecycle state at t.
func NewPayload(contractID string, state State, t time.Time) Payload {
	return Payload{
		"contractId":     contractID,
		PayloadStateName: string(state),
		PayloadTimestamp: t.UTC().Format(time.RFC3339Nano),
	}
}

// StateName returns the stateName field, or "" when absent or not a string.
func (p Payload) StateName() State {
	s, _ := p[PayloadStateName].(string)
	return State(s)
}

// Timestamp parses the timestamp field.
func (p Payload) Timestamp() (time.Time, bool) {
	s, ok := p[PayloadTimestamp].(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Clone returns a shallow copy so callers can't mutate stored payloads.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
