package plan

import "time"

// Terms is the immutable copy of a plan's billing, trial and retry policy
// held by a subscription.
type Terms struct {
	PlanID            string `json:"plan_id"`
	PriceMinorUnits   int64  `json:"price_minor_units"`
	Currency          string `json:"currency"`
	DurationMonths    int    `json:"duration_months"`
	HasTrial          bool   `json:"has_trial"`
	TrialDays         int    `json:"trial_days"`
	BillingDay        *int   `json:"billing_day,omitempty"`
	RetryEnabled      bool   `json:"retry_enabled"`
	MaxRetryAttempts  int    `json:"max_retry_attempts"`
	RetryIntervalDays int    `json:"retry_interval_days"`
}

// Equal reports whether two snapshots describe the same terms.
func (t Terms) Equal(o Terms) bool {
	if (t.BillingDay == nil) != (o.BillingDay == nil) {
		return false
	}
	if t.BillingDay != nil && *t.BillingDay != *o.BillingDay {
		return false
	}
	a, b := t, o
	a.BillingDay, b.BillingDay = nil, nil
	return a == b
}

// TrialEndsAt returns when the trial started at start ends.
// Returns start unchanged if the plan has no trial.
func (t Terms) TrialEndsAt(start time.Time) time.Time {
	if !t.HasTrial || t.TrialDays <= 0 {
		return start.UTC()
	}
	return start.AddDate(0, 0, t.TrialDays).UTC()
}

// FirstPeriodEnd returns the end of the first period of a subscription
// created at start: the trial end for trial plans, otherwise the first
// billing date after activation.
func (t Terms) FirstPeriodEnd(start time.Time) time.Time {
	if t.HasTrial && t.TrialDays > 0 {
		return t.TrialEndsAt(start)
	}
	return t.NextPeriodEnd(start)
}

// NextPeriodEnd returns the billing date that follows from.
//
// Without a billing day the period is 30 days per plan month. With a billing
// day the result is the first occurrence of that day of month strictly after
// from, stepping by the plan duration.
func (t Terms) NextPeriodEnd(from time.Time) time.Time {
	from = from.UTC()
	months := max(t.DurationMonths, 1)

	if t.BillingDay == nil {
		return from.AddDate(0, 0, DefaultBillingIntervalDays*months)
	}

	day := min(max(*t.BillingDay, 1), MaxBillingDay)
	next := time.Date(from.Year(), from.Month(), day, 0, 0, 0, 0, time.UTC)
	for !next.After(from) {
		next = next.AddDate(0, months, 0)
	}
	return next
}

// BillingAnchor returns the processor billing-cycle anchor for a subscription
// starting at start, or nil when the processor should bill from activation.
func (t Terms) BillingAnchor(start time.Time) *time.Time {
	if t.BillingDay == nil {
		return nil
	}
	anchor := t.NextPeriodEnd(t.TrialEndsAt(start))
	return &anchor
}

// DiscountedPrice applies a whole-number percentage discount, rounding down.
func (t Terms) DiscountedPrice(discountPercentage int) int64 {
	if discountPercentage <= 0 {
		return t.PriceMinorUnits
	}
	if discountPercentage >= 100 {
		return 0
	}
	return t.PriceMinorUnits * int64(100-discountPercentage) / 100
}
