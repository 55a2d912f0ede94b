// Package statemachine provides a stateless, generic transition table for
// finite-state-machine style domain models.
//
// The current state of an entity lives with the entity (usually a database
// row). A Table only answers "given this state and this event, where do we
// go?", evaluating guards against the data passed to Fire, so one Table can
// serve any number of entities concurrently.
//
// # Usage
//
//	type status string
//	type event string
//
//	table := statemachine.MustNew(
//		statemachine.WithTransition[status, event]("draft", "review", "submit"),
//		statemachine.WithTransitionFrom[status, event]([]status{"draft", "review"}, "archived", "archive"),
//	)
//
//	next, err := table.Fire(ctx, doc.Status, "submit", doc)
//	if err != nil {
//		// errors.Is(err, statemachine.ErrNoTransition) or errors.Is(err, statemachine.ErrRejected)
//	}
//	doc.Status = next
//
// Guards registered with WithGuard decide between several candidate
// transitions for the same state and event; the first candidate whose guards
// all pass wins. When candidates exist but none passes, Fire fails with
// ErrRejected.
package statemachine
