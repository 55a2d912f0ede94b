package coupon

import "errors"

var (
	ErrCouponNotFound  = errors.New("coupon not found")
	ErrCouponExpired   = errors.New("coupon expired")
	ErrCouponInactive  = errors.New("coupon inactive")
	ErrCouponExhausted = errors.New("coupon exhausted")
)

// Code returns a stable machine-readable code for a coupon error, or "" for other errors.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrCouponNotFound):
		return "coupon_not_found"
	case errors.Is(err, ErrCouponExpired):
		return "coupon_expired"
	case errors.Is(err, ErrCouponInactive):
		return "coupon_inactive"
	case errors.Is(err, ErrCouponExhausted):
		return "coupon_exhausted"
	default:
		return ""
	}
}

// IsCouponError reports whether err is one of the redemption failures.
func IsCouponError(err error) bool {
	return Code(err) != ""
}
