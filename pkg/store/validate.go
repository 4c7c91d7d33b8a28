package store

import (
	"fmt"
	"strings"

	"contract-mesh/pkg/errs"
	"contract-mesh/pkg/model"
)

// ValidatePayload checks the structure of a replica payload: stateName must
// be an allowed state and timestamp a parseable RFC 3339 time.
func ValidatePayload(p model.Payload) error {
	if p == nil {
		return errs.Validation("invalid state", "state must be an object")
	}
	var details []string
	if !p.StateName().Valid() {
		names := make([]string, len(model.States))
		for i, s := range model.States {
			names[i] = string(s)
		}
		details = append(details, fmt.Sprintf("stateName must be one of %s", strings.Join(names, ", ")))
	}
	if _, ok := p.Timestamp(); !ok {
		details = append(details, "timestamp is required and must be a valid date")
	}
	if len(details) > 0 {
		return errs.Validation("invalid state", details...)
	}
	return nil
}

// ValidatePayloadTransition checks that next may replace prev. Nothing
// leaves a terminal state, any non-terminal state may finish, and otherwise
// the stateName must change.
func ValidatePayloadTransition(prev, next model.Payload) error {
	if err := ValidatePayload(prev); err != nil {
		return err
	}
	if err := ValidatePayload(next); err != nil {
		return err
	}
	from, to := prev.StateName(), next.StateName()
	if from.Terminal() {
		return errs.Validation("invalid state transition", fmt.Sprintf("cannot leave %s state", from))
	}
	if to.Terminal() {
		return nil
	}
	if from == to {
		return errs.Validation("invalid state transition", "state cannot remain unchanged")
	}
	return nil
}
