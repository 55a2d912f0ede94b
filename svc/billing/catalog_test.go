package billing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/clinicbilling/pkg/coupon"
	"github.com/dmitrymomot/clinicbilling/pkg/plan"
	"github.com/dmitrymomot/clinicbilling/svc/billing"
)

func TestLoadCatalog(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("seeds plans and coupons", func(t *testing.T) {
		t.Parallel()
		cat, err := billing.LoadCatalog("testdata/catalog.yaml")
		require.NoError(t, err)
		require.Len(t, cat.Plans, 3)
		require.Len(t, cat.Coupons, 2)
		require.NotNil(t, cat.Plans[1].BillingDay)
		assert.Equal(t, 1, *cat.Plans[1].BillingDay)

		plans := plan.NewMemoryStore()
		coupons := coupon.NewMemoryStore()
		require.NoError(t, cat.Seed(ctx, plans, coupons))
		require.NoError(t, cat.Seed(ctx, plans, coupons), "seeding is repeatable")

		active, err := plans.ListPlans(ctx, true)
		require.NoError(t, err)
		assert.Len(t, active, 2)

		legacy, err := plans.GetPlan(ctx, "legacy")
		require.NoError(t, err)
		assert.Equal(t, plan.DefaultCurrency, legacy.Currency)
		assert.False(t, legacy.IsActive)

		promo, err := coupons.GetByCode(ctx, "promo10")
		require.NoError(t, err)
		assert.Equal(t, "PROMO10", promo.Code)
		require.NotNil(t, promo.MaxUses)
		assert.Equal(t, 1, *promo.MaxUses)
		assert.Nil(t, promo.ValidUntil)
	})

	t.Run("changed terms of a seeded plan are refused", func(t *testing.T) {
		t.Parallel()
		cat, err := billing.LoadCatalog("testdata/catalog.yaml")
		require.NoError(t, err)

		plans := plan.NewMemoryStore()
		require.NoError(t, cat.Seed(ctx, plans, coupon.NewMemoryStore()))

		cat.Plans[0].PriceMinorUnits++
		err = cat.Seed(ctx, plans, coupon.NewMemoryStore())
		require.ErrorIs(t, err, billing.ErrInvalidCatalog)
		assert.ErrorIs(t, err, plan.ErrPlanImmutable)
	})

	t.Run("invalid definitions", func(t *testing.T) {
		t.Parallel()
		cat, err := billing.LoadCatalog("testdata/invalid_catalog.yaml")
		require.NoError(t, err)
		err = cat.Seed(ctx, plan.NewMemoryStore(), coupon.NewMemoryStore())
		require.ErrorIs(t, err, billing.ErrInvalidCatalog)
	})

	t.Run("unknown fields and missing file", func(t *testing.T) {
		t.Parallel()
		_, err := billing.ParseCatalog([]byte("plans:\n  - id: x\n    colour: red\n"))
		require.ErrorIs(t, err, billing.ErrInvalidCatalog)

		_, err = billing.LoadCatalog("testdata/missing.yaml")
		require.Error(t, err)

		cat, err := billing.ParseCatalog(nil)
		require.NoError(t, err)
		assert.Empty(t, cat.Plans)
	})
}
