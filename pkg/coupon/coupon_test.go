package coupon_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/clinicbilling/pkg/coupon"
	"github.com/dmitrymomot/clinicbilling/pkg/txn"
)

var now = time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }
func timePtr(v time.Time) *time.Time { return &v }

func promo10() coupon.Coupon {
	return coupon.Coupon{
		ID:                 "cpn_1",
		Code:               "promo10",
		DiscountPercentage: 10,
		MaxUses:            intPtr(1),
		ValidFrom:          now.AddDate(0, -1, 0),
		IsActive:           true,
	}
}

func TestNormalizeCode(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "PROMO10", coupon.NormalizeCode("  promo10 "))
}

func TestCoupon_Check(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(c *coupon.Coupon)
		want   error
	}{
		{"valid", func(*coupon.Coupon) {}, nil},
		{"inactive", func(c *coupon.Coupon) { c.IsActive = false }, coupon.ErrCouponInactive},
		{"not yet valid", func(c *coupon.Coupon) { c.ValidFrom = now.Add(time.Hour) }, coupon.ErrCouponExpired},
		{"past valid until", func(c *coupon.Coupon) { c.ValidUntil = timePtr(now.Add(-time.Hour)) }, coupon.ErrCouponExpired},
		{"exhausted", func(c *coupon.Coupon) { c.CurrentUses = 1 }, coupon.ErrCouponExhausted},
		{"unlimited", func(c *coupon.Coupon) { c.MaxUses = nil; c.CurrentUses = 1000 }, nil},
		{"inactive checked before window", func(c *coupon.Coupon) {
			c.IsActive = false
			c.ValidUntil = timePtr(now.Add(-time.Hour))
		}, coupon.ErrCouponInactive},
		{"window checked before uses", func(c *coupon.Coupon) {
			c.CurrentUses = 1
			c.ValidUntil = timePtr(now.Add(-time.Hour))
		}, coupon.ErrCouponExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := promo10()
			tt.mutate(&c)
			err := c.Check(now)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCoupon_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, promo10().Validate())

	c := promo10()
	c.DiscountPercentage = 0
	assert.Error(t, c.Validate())

	c = promo10()
	c.DiscountPercentage = 101
	assert.Error(t, c.Validate())

	c = promo10()
	c.ValidUntil = timePtr(c.ValidFrom.Add(-time.Second))
	assert.Error(t, c.Validate())
}

func TestCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "coupon_exhausted", coupon.Code(coupon.ErrCouponExhausted))
	assert.Equal(t, "coupon_not_found", coupon.Code(errors.Join(errors.New("ctx"), coupon.ErrCouponNotFound)))
	assert.Empty(t, coupon.Code(errors.New("other")))
	assert.True(t, coupon.IsCouponError(coupon.ErrCouponExpired))
	assert.False(t, coupon.IsCouponError(nil))
}

func TestEngine_Redeem(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("second redemption of single-use coupon is exhausted", func(t *testing.T) {
		t.Parallel()
		store := coupon.NewMemoryStore(promo10())
		engine := coupon.NewEngine(store, coupon.WithClock(func() time.Time { return now }))

		r, err := engine.Redeem(ctx, "PROMO10")
		require.NoError(t, err)
		assert.Equal(t, 10, r.DiscountPercentage)
		assert.Equal(t, "cpn_1", r.CouponID)

		stored, err := store.GetByCode(ctx, "promo10")
		require.NoError(t, err)
		assert.Equal(t, 1, stored.CurrentUses)

		_, err = engine.Redeem(ctx, "promo10")
		require.ErrorIs(t, err, coupon.ErrCouponExhausted)
	})

	t.Run("unknown and empty codes", func(t *testing.T) {
		t.Parallel()
		engine := coupon.NewEngine(coupon.NewMemoryStore())
		_, err := engine.Redeem(ctx, "NOPE")
		require.ErrorIs(t, err, coupon.ErrCouponNotFound)
		_, err = engine.Redeem(ctx, "   ")
		require.ErrorIs(t, err, coupon.ErrCouponNotFound)
	})

	t.Run("failure leaves counter untouched", func(t *testing.T) {
		t.Parallel()
		c := promo10()
		c.IsActive = false
		store := coupon.NewMemoryStore(c)
		engine := coupon.NewEngine(store, coupon.WithClock(func() time.Time { return now }))

		_, err := engine.Redeem(ctx, c.Code)
		require.ErrorIs(t, err, coupon.ErrCouponInactive)

		stored, err := store.GetByCode(ctx, c.Code)
		require.NoError(t, err)
		assert.Zero(t, stored.CurrentUses)
	})

	t.Run("rolled back unit of work releases the use", func(t *testing.T) {
		t.Parallel()
		store := coupon.NewMemoryStore(promo10())
		engine := coupon.NewEngine(store, coupon.WithClock(func() time.Time { return now }))

		err := txn.NewMemory().WithinTx(ctx, func(ctx context.Context) error {
			if _, err := engine.Redeem(ctx, "PROMO10"); err != nil {
				return err
			}
			return errors.New("subscription insert failed")
		})
		require.Error(t, err)

		stored, err := store.GetByCode(ctx, "PROMO10")
		require.NoError(t, err)
		assert.Zero(t, stored.CurrentUses)

		_, err = engine.Redeem(ctx, "PROMO10")
		require.NoError(t, err)
	})

	t.Run("concurrent redemptions never exceed max uses", func(t *testing.T) {
		t.Parallel()
		store := coupon.NewMemoryStore(promo10())
		engine := coupon.NewEngine(store, coupon.WithClock(func() time.Time { return now }))

		const n = 50
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
			exhausted int
		)
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := engine.Redeem(ctx, "PROMO10")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					succeeded++
				case errors.Is(err, coupon.ErrCouponExhausted):
					exhausted++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, succeeded)
		assert.Equal(t, n-1, exhausted)
	})
}

func TestEngine_Preview(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := coupon.NewMemoryStore(promo10())
	engine := coupon.NewEngine(store, coupon.WithClock(func() time.Time { return now }))

	c, err := engine.Preview(ctx, " promo10")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Remaining())

	stored, err := store.GetByCode(ctx, "PROMO10")
	require.NoError(t, err)
	assert.Zero(t, stored.CurrentUses)
}

func TestMemoryStore_SaveCoupon(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := coupon.NewMemoryStore(promo10())
	_, err := coupon.NewEngine(store, coupon.WithClock(func() time.Time { return now })).Redeem(ctx, "PROMO10")
	require.NoError(t, err)

	updated := promo10()
	updated.MaxUses = intPtr(5)
	require.NoError(t, store.SaveCoupon(ctx, updated))

	got, err := store.GetByCode(ctx, "PROMO10")
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentUses, "usage counter survives an update")
	assert.Equal(t, 4, got.Remaining())

	other := promo10()
	other.ID = "cpn_2"
	require.ErrorIs(t, store.SaveCoupon(ctx, other), coupon.ErrDuplicateCode)
}
