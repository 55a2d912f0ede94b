package validator_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/clinicbilling/pkg/validator"
)

func TestApply(t *testing.T) {
	t.Parallel()

	t.Run("no failures", func(t *testing.T) {
		t.Parallel()
		err := validator.Apply(
			validator.RequiredString("plan_id", "basic"),
			validator.RangeNum("duration_months", 3, 1, 12),
		)
		assert.NoError(t, err)
	})

	t.Run("collects every failure in order", func(t *testing.T) {
		t.Parallel()
		err := validator.Apply(
			validator.RequiredString("plan_id", "  "),
			validator.RangeNum("discount_percentage", 120, 0, 100),
			validator.MaxLenString("plan_id", "  ", 1),
		)
		require.Error(t, err)

		verrs := validator.ExtractValidationErrors(err)
		require.Len(t, verrs, 3)
		assert.Equal(t, []string{"plan_id", "discount_percentage"}, verrs.Fields())
		assert.Equal(t, []string{"field is required", "must be at most 1 characters long"}, verrs.Get("plan_id"))
		assert.True(t, verrs.Has("discount_percentage"))
		assert.False(t, verrs.Has("customer_id"))
		assert.Equal(t, "range", verrs[1].Code)
		assert.Equal(t, map[string]any{"min": 0, "max": 100}, verrs[1].Params)
	})

	t.Run("survives wrapping", func(t *testing.T) {
		t.Parallel()
		err := fmt.Errorf("create subscription: %w", validator.Apply(validator.RequiredString("customer_id", "")))
		assert.True(t, validator.IsValidationError(err))
		assert.Contains(t, err.Error(), "customer_id: field is required")
	})

	t.Run("plain errors are not validation errors", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, validator.ExtractValidationErrors(errors.New("boom")))
		assert.Nil(t, validator.ExtractValidationErrors(nil))
		assert.False(t, validator.IsValidationError(nil))
	})
}

func TestIf(t *testing.T) {
	t.Parallel()

	rule := validator.RangeNum("trial_days", 0, 1, 365)
	assert.NoError(t, validator.Apply(validator.If(false, rule)))
	assert.Error(t, validator.Apply(validator.If(true, rule)))
}

func TestRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rule validator.Rule
		want bool
	}{
		{"required ok", validator.RequiredString("f", "x"), true},
		{"required blank", validator.RequiredString("f", " \t"), false},
		{"max len counts runes", validator.MaxLenString("f", "ñññ", 3), true},
		{"max len exceeded", validator.MaxLenString("f", "abcd", 3), false},
		{"currency length", validator.LenString("f", "USD", 3), true},
		{"currency too long", validator.LenString("f", "USDT", 3), false},
		{"min equal", validator.MinNum("f", int64(0), 0), true},
		{"min below", validator.MinNum("f", -1, 0), false},
		{"range lower bound", validator.RangeNum("f", 1, 1, 28), true},
		{"range upper bound", validator.RangeNum("f", 28, 1, 28), true},
		{"range above", validator.RangeNum("f", 29, 1, 28), false},
		{"email ok", validator.ValidEmail("f", "owner@clinic.example"), true},
		{"email no domain dot", validator.ValidEmail("f", "owner@clinic"), false},
		{"email empty label", validator.ValidEmail("f", "owner@clinic..example"), false},
		{"email display name", validator.ValidEmail("f", "Owner <owner@clinic.example>"), false},
		{"email empty", validator.ValidEmail("f", ""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.rule.Check())
		})
	}
}
