// Package controller implements the System Controller: service factory,
// phase state machine, and graceful/immediate shutdown orchestration.
//
// Grounded on internal/controlplane/runmanager/errors.go's
// RunManagerError (typed Kind enum + predicate helpers via errors.As).
package controller

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a ControllerError.
type ErrorKind string

const (
	KindNotFound          ErrorKind = "not_found"
	KindInvalidState      ErrorKind = "invalid_state"
	KindTerminalState     ErrorKind = "terminal_state"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindInternal          ErrorKind = "internal"
)

// ControllerError is the typed error every controller operation returns
// on failure.
type ControllerError struct {
	Kind    ErrorKind
	State   RunState
	Message string
	Cause   error
}

func (e *ControllerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("controller: %s (state=%s): %s: %v", e.Kind, e.State, e.Message, e.Cause)
	}
	return fmt.Sprintf("controller: %s (state=%s): %s", e.Kind, e.State, e.Message)
}

func (e *ControllerError) Unwrap() error { return e.Cause }

func NewInvalidTransitionError(from, to RunState) *ControllerError {
	return &ControllerError{Kind: KindInvalidTransition, State: from, Message: fmt.Sprintf("cannot transition to %s", to)}
}

func NewTerminalStateError(state RunState) *ControllerError {
	return &ControllerError{Kind: KindTerminalState, State: state, Message: "run is in a terminal state"}
}

func NewInternalError(state RunState, cause error) *ControllerError {
	return &ControllerError{Kind: KindInternal, State: state, Message: "internal error", Cause: cause}
}

// IsTerminalState reports whether err is a ControllerError of kind
// KindTerminalState.
func IsTerminalState(err error) bool {
	var ce *ControllerError
	if errors.As(err, &ce) {
		return ce.Kind == KindTerminalState
	}
	return false
}
