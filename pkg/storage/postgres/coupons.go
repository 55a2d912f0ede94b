package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/clinicbilling/pkg/coupon"
	"github.com/dmitrymomot/clinicbilling/pkg/pg"
)

const couponColumns = `id, code, discount_percentage, max_uses, current_uses, valid_from, valid_until, is_active, created_at`

// CouponStore implements coupon.Store.
type CouponStore struct {
	pool *pgxpool.Pool
}

var _ coupon.Store = (*CouponStore)(nil)

func NewCouponStore(pool *pgxpool.Pool) *CouponStore {
	return &CouponStore{pool: pool}
}

func (s *CouponStore) GetByCode(ctx context.Context, code string) (coupon.Coupon, error) {
	row := pg.Executor(ctx, s.pool).QueryRow(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE code = $1`, coupon.NormalizeCode(code))
	c, err := scanCoupon(row)
	if pg.IsNotFoundError(err) {
		return coupon.Coupon{}, coupon.ErrCouponNotFound
	}
	if err != nil {
		return coupon.Coupon{}, fmt.Errorf("get coupon: %w", err)
	}
	return c, nil
}

// SaveCoupon inserts or replaces a coupon definition. The usage counter of an
// existing coupon is kept.
func (s *CouponStore) SaveCoupon(ctx context.Context, c coupon.Coupon) error {
	c.Code = coupon.NormalizeCode(c.Code)
	if err := c.Validate(); err != nil {
		return err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = nowUTC()
	}

	_, err := pg.Executor(ctx, s.pool).Exec(ctx, `INSERT INTO coupons (`+couponColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code,
			discount_percentage = EXCLUDED.discount_percentage,
			max_uses = EXCLUDED.max_uses,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			is_active = EXCLUDED.is_active`,
		c.ID, c.Code, c.DiscountPercentage, c.MaxUses, c.CurrentUses, c.ValidFrom, c.ValidUntil, c.IsActive, c.CreatedAt)
	if pg.IsDuplicateKeyError(err) {
		return coupon.ErrDuplicateCode
	}
	if err != nil {
		return fmt.Errorf("save coupon %s: %w", c.ID, err)
	}
	return nil
}

// TryReserve consumes one use with a single conditional UPDATE, so
// concurrent redemptions of the last use cannot both succeed. When no row
// qualifies the coupon is re-read to report why.
func (s *CouponStore) TryReserve(ctx context.Context, code string, now time.Time) (coupon.Coupon, error) {
	code = coupon.NormalizeCode(code)
	db := pg.Executor(ctx, s.pool)

	c, err := scanCoupon(db.QueryRow(ctx, `UPDATE coupons SET current_uses = current_uses + 1
		WHERE code = $1
			AND is_active
			AND valid_from <= $2
			AND (valid_until IS NULL OR valid_until >= $2)
			AND (max_uses IS NULL OR current_uses < max_uses)
		RETURNING `+couponColumns, code, now))
	if err == nil {
		return c, nil
	}
	if !pg.IsNotFoundError(err) {
		return coupon.Coupon{}, fmt.Errorf("reserve coupon: %w", err)
	}

	current, err := s.GetByCode(ctx, code)
	if err != nil {
		return coupon.Coupon{}, err
	}
	if err := current.Check(now); err != nil {
		return coupon.Coupon{}, err
	}
	// Lost a race for the last use between the UPDATE and the re-read.
	return coupon.Coupon{}, coupon.ErrCouponExhausted
}

func scanCoupon(row pgx.Row) (coupon.Coupon, error) {
	var c coupon.Coupon
	err := row.Scan(&c.ID, &c.Code, &c.DiscountPercentage, &c.MaxUses, &c.CurrentUses,
		&c.ValidFrom, &c.ValidUntil, &c.IsActive, &c.CreatedAt)
	if err != nil {
		return coupon.Coupon{}, err
	}
	c.ValidFrom = c.ValidFrom.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	if c.ValidUntil != nil {
		until := c.ValidUntil.UTC()
		c.ValidUntil = &until
	}
	return c, nil
}

func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
