package plan

import (
	"strings"
	"time"

	"github.com/dmitrymomot/clinicbilling/pkg/validator"
)

const (
	// DefaultCurrency is used when a plan does not name one.
	DefaultCurrency = "usd"

	// DefaultBillingIntervalDays is the period length when no billing day is set.
	DefaultBillingIntervalDays = 30

	MaxBillingDay = 28
)

// Plan is a purchasable subscription tier.
type Plan struct {
	ID                string    `json:"id" yaml:"id"`
	Name              string    `json:"name" yaml:"name"`
	PriceMinorUnits   int64     `json:"price_minor_units" yaml:"price_minor_units"`
	Currency          string    `json:"currency" yaml:"currency"`
	DurationMonths    int       `json:"duration_months" yaml:"duration_months"`
	HasTrial          bool      `json:"has_trial" yaml:"has_trial"`
	TrialDays         int       `json:"trial_days" yaml:"trial_days"`
	BillingDay        *int      `json:"billing_day,omitempty" yaml:"billing_day"` // 1-28; nil bills every 30 days
	RetryEnabled      bool      `json:"retry_enabled" yaml:"retry_enabled"`
	MaxRetryAttempts  int       `json:"max_retry_attempts" yaml:"max_retry_attempts"`
	RetryIntervalDays int       `json:"retry_interval_days" yaml:"retry_interval_days"`
	IsActive          bool      `json:"is_active" yaml:"is_active"`
	ProcessorPriceID  string    `json:"processor_price_id,omitempty" yaml:"processor_price_id"`
	CreatedAt         time.Time `json:"created_at" yaml:"-"`
}

// Normalize fills defaults in place.
func (p *Plan) Normalize() {
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	p.Currency = strings.ToLower(strings.TrimSpace(p.Currency))
	if p.Currency == "" {
		p.Currency = DefaultCurrency
	}
	if p.DurationMonths == 0 {
		p.DurationMonths = 1
	}
	if !p.HasTrial {
		p.TrialDays = 0
	}
}

// Validate checks the plan definition.
func (p Plan) Validate() error {
	billingDay := 1
	if p.BillingDay != nil {
		billingDay = *p.BillingDay
	}

	return validator.Apply(
		validator.RequiredString("id", p.ID),
		validator.RequiredString("name", p.Name),
		validator.MinNum("price_minor_units", p.PriceMinorUnits, 0),
		validator.LenString("currency", p.Currency, 3),
		validator.RangeNum("duration_months", p.DurationMonths, 1, 12),
		validator.If(p.HasTrial, validator.RangeNum("trial_days", p.TrialDays, 1, 365)),
		validator.RangeNum("billing_day", billingDay, 1, MaxBillingDay),
		validator.MinNum("max_retry_attempts", p.MaxRetryAttempts, 0),
		validator.If(p.RetryEnabled, validator.RangeNum("max_retry_attempts", p.MaxRetryAttempts, 1, 10)),
		validator.If(p.RetryEnabled, validator.RangeNum("retry_interval_days", p.RetryIntervalDays, 1, 30)),
	)
}

// Terms returns the snapshot a subscription captures at creation.
func (p Plan) Terms() Terms {
	t := Terms{
		PlanID:            p.ID,
		PriceMinorUnits:   p.PriceMinorUnits,
		Currency:          p.Currency,
		DurationMonths:    p.DurationMonths,
		HasTrial:          p.HasTrial,
		TrialDays:         p.TrialDays,
		RetryEnabled:      p.RetryEnabled,
		MaxRetryAttempts:  p.MaxRetryAttempts,
		RetryIntervalDays: p.RetryIntervalDays,
	}
	if p.BillingDay != nil {
		day := *p.BillingDay
		t.BillingDay = &day
	}
	return t
}

// clone returns a deep copy so callers cannot mutate stored plans.
func (p Plan) clone() Plan {
	if p.BillingDay != nil {
		day := *p.BillingDay
		p.BillingDay = &day
	}
	return p
}
