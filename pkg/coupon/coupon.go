// Package coupon validates and atomically consumes discount coupons.
package coupon

import (
	"strings"
	"time"

	"github.com/dmitrymomot/clinicbilling/pkg/validator"
)

// Coupon is a discount code with usage and validity constraints.
type Coupon struct {
	ID                 string     `json:"id" yaml:"id"`
	Code               string     `json:"code" yaml:"code"`
	DiscountPercentage int        `json:"discount_percentage" yaml:"discount_percentage"`
	MaxUses            *int       `json:"max_uses,omitempty" yaml:"max_uses"` // nil means unlimited
	CurrentUses        int        `json:"current_uses" yaml:"-"`
	ValidFrom          time.Time  `json:"valid_from" yaml:"valid_from"`
	ValidUntil         *time.Time `json:"valid_until,omitempty" yaml:"valid_until"` // nil means open-ended
	IsActive           bool       `json:"is_active" yaml:"is_active"`
	CreatedAt          time.Time  `json:"created_at" yaml:"-"`
}

// NormalizeCode trims and upper-cases a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks the coupon definition.
func (c Coupon) Validate() error {
	maxUses := 1
	if c.MaxUses != nil {
		maxUses = *c.MaxUses
	}
	validUntilOK := c.ValidUntil == nil || !c.ValidUntil.Before(c.ValidFrom)

	return validator.Apply(
		validator.RequiredString("id", c.ID),
		validator.RequiredString("code", c.Code),
		validator.MaxLenString("code", c.Code, 64),
		validator.RangeNum("discount_percentage", c.DiscountPercentage, 1, 100),
		validator.MinNum("max_uses", maxUses, 1),
		validator.MinNum("current_uses", c.CurrentUses, 0),
		validator.Rule{
			Check: func() bool { return validUntilOK },
			Error: validator.ValidationError{
				Field:   "valid_until",
				Message: "must not be before valid_from",
				Code:    "date_after",
			},
		},
	)
}

// Check applies the redemption rules in order: active, validity window, remaining uses.
// A coupon that is not yet valid is reported as expired.
func (c Coupon) Check(now time.Time) error {
	if !c.IsActive {
		return ErrCouponInactive
	}
	if now.Before(c.ValidFrom) || (c.ValidUntil != nil && now.After(*c.ValidUntil)) {
		return ErrCouponExpired
	}
	if c.MaxUses != nil && c.CurrentUses >= *c.MaxUses {
		return ErrCouponExhausted
	}
	return nil
}

// Remaining returns the uses left, or -1 for unlimited coupons.
func (c Coupon) Remaining() int {
	if c.MaxUses == nil {
		return -1
	}
	return max(*c.MaxUses-c.CurrentUses, 0)
}

func (c Coupon) clone() Coupon {
	if c.MaxUses != nil {
		v := *c.MaxUses
		c.MaxUses = &v
	}
	if c.ValidUntil != nil {
		v := *c.ValidUntil
		c.ValidUntil = &v
	}
	return c
}
