// Package contract validates, compares and persists contracts.
package contract

import (
	"fmt"
	"strings"

	"contract-mesh/pkg/errs"
	"contract-mesh/pkg/model"
)

// Validate checks a contract before it is stored. State may be empty.
func Validate(c model.Contract) error {
	var problems []string
	if strings.TrimSpace(c.Name) == "" {
		problems = append(problems, "name must be a non-empty string")
	}
	if len(c.Conditions) == 0 {
		problems = append(problems, "conditions must be a non-empty array")
	}
	for i, cond := range c.Conditions {
		if !scalar(cond.Field) {
			problems = append(problems, fmt.Sprintf("condition %d: field must be a string, number or bool", i))
		}
		if !validOperator(cond.Operator) {
			problems = append(problems, fmt.Sprintf("condition %d: operator must be one of %s", i, operatorList()))
		}
		if !scalar(cond.Value) {
			problems = append(problems, fmt.Sprintf("condition %d: value is required", i))
		}
	}
	if len(c.Actions) == 0 {
		problems = append(problems, "actions must be a non-empty array")
	}
	for i, a := range c.Actions {
		if strings.TrimSpace(a.Type) == "" {
			problems = append(problems, fmt.Sprintf("action %d: type must be a non-empty string", i))
		}
	}
	if c.State != "" && !c.State.Valid() {
		problems = append(problems, fmt.Sprintf("state %q is not allowed", c.State))
	}
	if len(problems) > 0 {
		return errs.Validation("invalid contract", problems...)
	}
	return nil
}

// ValidateTransition enforces inactive -> active -> {completed, failed}.
// Terminal states have no exits and self transitions are rejected.
func ValidateTransition(from, to model.State) error {
	ok := false
	switch from {
	case model.StateInactive:
		ok = to == model.StateActive
	case model.StateActive:
		ok = to == model.StateCompleted || to == model.StateFailed
	}
	if !ok {
		return errs.Validation("invalid state transition", fmt.Sprintf("%s -> %s", from, to))
	}
	return nil
}

func validOperator(op model.Operator) bool {
	for _, o := range model.Operators {
		if op == o {
			return true
		}
	}
	return false
}

func operatorList() string {
	parts := make([]string, len(model.Operators))
	for i, o := range model.Operators {
		parts[i] = "'" + string(o) + "'"
	}
	return strings.Join(parts, ", ")
}

func scalar(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return s != ""
	}
	_, isNum := number(v)
	_, isBool := v.(bool)
	return isNum || isBool
}
