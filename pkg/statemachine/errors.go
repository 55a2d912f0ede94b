package statemachine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned by New for a malformed transition option.
	ErrInvalidTransition = errors.New("statemachine: invalid transition")
	// ErrNoTransition means the table declares no move for the state and event.
	ErrNoTransition = errors.New("statemachine: no transition")
	// ErrRejected means every declared move was blocked by a guard.
	ErrRejected = errors.New("statemachine: rejected by guard")
)

// TransitionError names the state and event Fire failed on. It unwraps to
// ErrNoTransition or ErrRejected.
type TransitionError struct {
	From  string
	Event string
	Err   error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s from %s", e.Err, e.Event, e.From)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

func transitionError[S, E comparable](from S, event E, err error) *TransitionError {
	return &TransitionError{From: fmt.Sprint(from), Event: fmt.Sprint(event), Err: err}
}
