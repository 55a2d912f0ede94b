// Package retry decides whether and when a failed subscription charge is
// retried, and schedules the retry as a queue task.
//
// Decide is pure: it reads the retry terms captured on the subscription, never
// the live plan, so editing a plan does not change a retry cycle in flight.
//
//	d := retry.Decide(sub.Terms, sub.RetryAttemptsUsed, now)
//	if d.Retry {
//		err := scheduler.Schedule(ctx, sub.ID, d)
//	}
//
// Schedule derives the task ID from the subscription and the attempt number,
// so scheduling the same attempt twice stores a single task.
package retry
