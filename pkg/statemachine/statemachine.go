package statemachine

import "context"

// Guard decides at fire time whether a declared transition applies to data.
type Guard[S, E comparable] func(ctx context.Context, from S, event E, data any) bool

// Transition is a declared move from one state to another on an event.
type Transition[S, E comparable] struct {
	From   S
	To     S
	Event  E
	Guards []Guard[S, E] // all must pass
}

// Machine resolves transitions for entities whose current state is stored elsewhere.
// It holds no per-entity state, so a single Machine is shared by every entity of a kind.
type Machine[S, E comparable] interface {
	Fire(ctx context.Context, from S, event E, data any) (S, error)
	CanFire(ctx context.Context, from S, event E, data any) bool
	Events(from S) []E
}
