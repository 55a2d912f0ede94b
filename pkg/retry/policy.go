package retry

import (
	"time"

	"github.com/dmitrymomot/clinicbilling/pkg/plan"
)

// Reasons reported on a Decision.
const (
	ReasonScheduled = "scheduled"
	ReasonDisabled  = "retry_disabled"
	ReasonExhausted = "attempts_exhausted"
)

// Decision is the outcome of a failed charge under a retry policy.
type Decision struct {
	// Retry is false when the subscription must be cancelled.
	Retry bool `json:"retry"`
	// Attempt is the 1-based number of the scheduled retry.
	Attempt int `json:"attempt,omitempty"`
	// Cycle identifies the failure cycle the attempt belongs to. Decide leaves
	// it zero; the owner of the subscription fills it in.
	Cycle  int       `json:"cycle,omitempty"`
	At     time.Time `json:"at,omitzero"`
	Reason string    `json:"reason"`
}

// Exhausted reports whether the decision ends the retry cycle.
func (d Decision) Exhausted() bool {
	return !d.Retry
}

// Decide computes the decision for a charge failure given the retries already
// used in the current cycle.
func Decide(terms plan.Terms, attemptsUsed int, now time.Time) Decision {
	if !terms.RetryEnabled {
		return Decision{Reason: ReasonDisabled}
	}
	if attemptsUsed >= terms.MaxRetryAttempts {
		return Decision{Reason: ReasonExhausted}
	}
	return Decision{
		Retry:   true,
		Attempt: attemptsUsed + 1,
		At:      now.UTC().AddDate(0, 0, max(terms.RetryIntervalDays, 0)),
		Reason:  ReasonScheduled,
	}
}
