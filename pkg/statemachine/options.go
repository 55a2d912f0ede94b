package statemachine

import "fmt"

// Option configures a transition table during construction.
type Option[S, E comparable] func(*Table[S, E]) error

// TransitionOption configures a single transition.
type TransitionOption[S, E comparable] func(*transitionConfig[S, E])

type transitionConfig[S, E comparable] struct {
	guards []Guard[S, E]
}

// New builds a transition table from the given options.
func New[S, E comparable](opts ...Option[S, E]) (*Table[S, E], error) {
	t := newTable[S, E]()
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// MustNew builds a transition table and panics if any option fails.
func MustNew[S, E comparable](opts ...Option[S, E]) *Table[S, E] {
	t, err := New(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to create state machine: %v", err))
	}
	return t
}

// WithTransition adds a single transition.
func WithTransition[S, E comparable](from, to S, event E, opts ...TransitionOption[S, E]) Option[S, E] {
	return WithTransitionFrom([]S{from}, to, event, opts...)
}

// WithTransitionFrom adds the same transition for every listed source state.
func WithTransitionFrom[S, E comparable](from []S, to S, event E, opts ...TransitionOption[S, E]) Option[S, E] {
	return func(t *Table[S, E]) error {
		if len(from) == 0 {
			return fmt.Errorf("%w: no source states for event %v", ErrInvalidTransition, event)
		}
		cfg := &transitionConfig[S, E]{}
		for _, opt := range opts {
			opt(cfg)
		}
		for _, f := range from {
			t.add(Transition[S, E]{
				From:   f,
				To:     to,
				Event:  event,
				Guards: cfg.guards,
			})
		}
		return nil
	}
}

// WithGuard adds a guard to a transition. Nil guards are ignored.
func WithGuard[S, E comparable](guard Guard[S, E]) TransitionOption[S, E] {
	return func(cfg *transitionConfig[S, E]) {
		if guard != nil {
			cfg.guards = append(cfg.guards, guard)
		}
	}
}
