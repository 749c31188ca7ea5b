package domain

import (
	"errors"
	"fmt"
)

// Repository sentinels.
var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrAlreadyExists   = errors.New("already exists")
)

// InvalidTransitionError rejects a stage or tier move that breaks ordering.
type InvalidTransitionError struct {
	Kind string // "stage" or "tier"
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	from := e.From
	if from == "" {
		from = "<none>"
	}
	return fmt.Sprintf("invalid %s transition from %s to %s", e.Kind, from, e.To)
}

// NotFoundError names a missing timeline, tree, node, customer or assignment.
// It matches ErrNotFound under errors.Is.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// UnknownActionTypeError is a configuration error: no handler is bound for
// the declared action type.
type UnknownActionTypeError struct {
	ActionType ActionType
	Source     string
}

func (e *UnknownActionTypeError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("unknown action type %q in %s", e.ActionType, e.Source)
	}
	return fmt.Sprintf("unknown action type %q", e.ActionType)
}

// ActionExecutionError wraps a failed side effect.
type ActionExecutionError struct {
	ActionID   string
	ActionType ActionType
	Err        error
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("action %s (%s) failed: %v", e.ActionID, e.ActionType, e.Err)
}

func (e *ActionExecutionError) Unwrap() error { return e.Err }

// DialogStateError reports an execution whose current node is not in its tree,
// or one that no longer accepts responses.
type DialogStateError struct {
	ExecutionID string
	Node        string
	Reason      string
}

func (e *DialogStateError) Error() string {
	return fmt.Sprintf("dialog execution %s at node %q: %s", e.ExecutionID, e.Node, e.Reason)
}

// ValidationError is a missing or malformed required input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
