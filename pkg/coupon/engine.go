package coupon

import (
	"context"
	"log/slog"
	"time"
)

// Redemption is the result of a successful redeem.
type Redemption struct {
	CouponID           string
	Code               string
	DiscountPercentage int
}

// Engine redeems coupons at subscription creation.
type Engine struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates a coupon engine. Panics if store is nil.
func NewEngine(store Store, opts ...EngineOption) *Engine {
	if store == nil {
		panic("coupon: store is required")
	}
	e := &Engine{
		store:  store,
		now:    time.Now,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Redeem validates code and consumes one use. Call it inside the unit of
// work that creates the subscription so a later failure releases the use.
// No state changes on a validation failure.
func (e *Engine) Redeem(ctx context.Context, code string) (Redemption, error) {
	code = NormalizeCode(code)
	if code == "" {
		return Redemption{}, ErrCouponNotFound
	}

	c, err := e.store.TryReserve(ctx, code, e.now().UTC())
	if err != nil {
		e.logger.DebugContext(ctx, "coupon redemption refused", slog.String("code", code), slog.String("reason", err.Error()))
		return Redemption{}, err
	}

	e.logger.InfoContext(ctx, "coupon redeemed",
		slog.String("code", c.Code),
		slog.Int("discount_percentage", c.DiscountPercentage),
		slog.Int("remaining", c.Remaining()),
	)

	return Redemption{
		CouponID:           c.ID,
		Code:               c.Code,
		DiscountPercentage: c.DiscountPercentage,
	}, nil
}

// Preview validates code without consuming a use.
func (e *Engine) Preview(ctx context.Context, code string) (Coupon, error) {
	c, err := e.store.GetByCode(ctx, code)
	if err != nil {
		return Coupon{}, err
	}
	if err := c.Check(e.now().UTC()); err != nil {
		return Coupon{}, err
	}
	return c, nil
}
