package billing

import (
	"errors"
	"fmt"

	"github.com/dmitrymomot/clinicbilling/pkg/gateway"
	"github.com/dmitrymomot/clinicbilling/pkg/subscription"
)

var (
	ErrPlanUnavailable = fmt.Errorf("%w: plan is not available", subscription.ErrValidation)
	ErrSamePlan        = fmt.Errorf("%w: subscription is already on this plan", subscription.ErrValidation)
	ErrInvalidCatalog  = errors.New("billing: invalid catalog")
)

// processorError keeps declines and already classified errors, and marks
// everything else as an external service failure.
func processorError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gateway.ErrPaymentDeclined), errors.Is(err, subscription.ErrExternalService):
		return err
	default:
		return subscription.External(op, err)
	}
}
