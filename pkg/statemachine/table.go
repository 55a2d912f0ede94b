package statemachine

import "context"

// Table is an immutable transition table: [from][event][]Transition.
// It is safe for concurrent use once built.
type Table[S, E comparable] struct {
	transitions map[S]map[E][]Transition[S, E]
	order       map[S][]E
}

func newTable[S, E comparable]() *Table[S, E] {
	return &Table[S, E]{
		transitions: make(map[S]map[E][]Transition[S, E]),
		order:       make(map[S][]E),
	}
}

func (t *Table[S, E]) add(tr Transition[S, E]) {
	if _, ok := t.transitions[tr.From]; !ok {
		t.transitions[tr.From] = make(map[E][]Transition[S, E])
	}
	if _, seen := t.transitions[tr.From][tr.Event]; !seen {
		t.order[tr.From] = append(t.order[tr.From], tr.Event)
	}
	// Multiple transitions allowed for same from/event to support guard-based branching
	t.transitions[tr.From][tr.Event] = append(t.transitions[tr.From][tr.Event], tr)
}

// Fire resolves the transition for event in state from and returns the target
// state. The caller persists the result.
func (t *Table[S, E]) Fire(ctx context.Context, from S, event E, data any) (S, error) {
	tr, err := t.resolve(ctx, from, event, data)
	if err != nil {
		return from, err
	}
	return tr.To, nil
}

// CanFire reports whether event is accepted in state from.
func (t *Table[S, E]) CanFire(ctx context.Context, from S, event E, data any) bool {
	_, err := t.resolve(ctx, from, event, data)
	return err == nil
}

// Events lists the events declared for a state, in declaration order.
func (t *Table[S, E]) Events(from S) []E {
	events := make([]E, len(t.order[from]))
	copy(events, t.order[from])
	return events
}

func (t *Table[S, E]) resolve(ctx context.Context, from S, event E, data any) (*Transition[S, E], error) {
	candidates := t.transitions[from][event]
	if len(candidates) == 0 {
		return nil, transitionError(from, event, ErrNoTransition)
	}

	// First transition with passing guards wins (enables priority ordering)
	for i := range candidates {
		if guardsPass(ctx, candidates[i].Guards, from, event, data) {
			return &candidates[i], nil
		}
	}

	return nil, transitionError(from, event, ErrRejected)
}

func guardsPass[S, E comparable](ctx context.Context, guards []Guard[S, E], from S, event E, data any) bool {
	for _, guard := range guards {
		if !guard(ctx, from, event, data) {
			return false
		}
	}
	return true
}
