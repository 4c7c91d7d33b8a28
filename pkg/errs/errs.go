// Package errs defines the error taxonomy shared by the core components.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports a malformed contract, condition, action or payload, or a
// contract whose lifecycle state does not permit the requested operation.
type ValidationError struct {
	Reason string
	Errs   []string
}

func (e *ValidationError) Error() string {
	if len(e.Errs) == 0 {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Reason, strings.Join(e.Errs, "; "))
}

// NotFoundError reports an unknown contract, node or replica state.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// ExecutionError wraps a failure raised by an action handler.
type ExecutionError struct {
	ContractID string
	Action     string
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("contract %s action %s: %v", e.ContractID, e.Action, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// NetworkError reports a failed, timed out or non-success call to a node.
type NetworkError struct {
	NodeID string
	Op     string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("node %s %s: %v", e.NodeID, e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ReconciliationError means no node returned a usable replica.
type ReconciliationError struct {
	ContractID string
	Reason     string
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile contract %s: %s", e.ContractID, e.Reason)
}

// Validation builds a ValidationError.
func Validation(reason string, details ...string) error {
	return &ValidationError{Reason: reason, Errs: details}
}

// NotFound builds a NotFoundError.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsExecution(err error) bool {
	var e *ExecutionError
	return errors.As(err, &e)
}

func IsNetwork(err error) bool {
	var e *NetworkError
	return errors.As(err, &e)
}

func IsReconciliation(err error) bool {
	var e *ReconciliationError
	return errors.As(err, &e)
}
