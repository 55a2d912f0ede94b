package billing

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/clinicbilling/handler"
	"github.com/dmitrymomot/clinicbilling/pkg/coupon"
	"github.com/dmitrymomot/clinicbilling/pkg/gateway"
	"github.com/dmitrymomot/clinicbilling/pkg/subscription"
	svc "github.com/dmitrymomot/clinicbilling/svc/billing"
)

// MapError is the handler.ErrorMapper of billing errors.
// Order matters: a decline is also a validation error, and an unavailable
// plan also wraps plan.ErrPlanNotFound.
func MapError(err error) (handler.HTTPError, bool) {
	switch {
	case errors.Is(err, gateway.ErrCircuitOpen):
		return handler.NewHTTPError(http.StatusServiceUnavailable, "processor_unavailable"), true
	case coupon.IsCouponError(err):
		return handler.NewHTTPError(http.StatusUnprocessableEntity, coupon.Code(err)), true
	case errors.Is(err, gateway.ErrPaymentDeclined):
		return handler.NewHTTPError(http.StatusUnprocessableEntity, "payment_declined"), true
	case errors.Is(err, svc.ErrPlanUnavailable):
		return handler.NewHTTPError(http.StatusUnprocessableEntity, "plan_unavailable"), true
	case errors.Is(err, svc.ErrSamePlan):
		return handler.NewHTTPError(http.StatusUnprocessableEntity, "same_plan"), true
	case errors.Is(err, subscription.ErrValidation):
		return handler.ErrUnprocessableEntity, true
	case errors.Is(err, subscription.ErrSubscriptionNotFound):
		return handler.NewHTTPError(http.StatusNotFound, "subscription_not_found"), true
	case errors.Is(err, subscription.ErrTransitionNotAllowed):
		return handler.NewHTTPError(http.StatusConflict, "transition_not_allowed"), true
	case errors.Is(err, subscription.ErrConflict):
		return handler.ErrConflict, true
	case errors.Is(err, subscription.ErrExternalService):
		return handler.NewHTTPError(http.StatusBadGateway, "external_service_error"), true
	}
	return handler.HTTPError{}, false
}
