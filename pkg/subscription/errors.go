package subscription

import (
	"errors"
	"fmt"
)

// Error categories.
var (
	ErrValidation      = errors.New("validation error")
	ErrConflict        = errors.New("conflict")
	ErrExternalService = errors.New("external service error")
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")

	ErrSubscriptionExists   = fmt.Errorf("%w: subscription already exists", ErrConflict)
	ErrTransitionNotAllowed = fmt.Errorf("%w: transition not allowed", ErrConflict)
	ErrStaleEvent           = fmt.Errorf("%w: stale event", ErrConflict)
	ErrRevisionMismatch     = fmt.Errorf("%w: subscription was modified concurrently", ErrConflict)

	ErrInvalidEvent = fmt.Errorf("%w: invalid event", ErrValidation)
)

// IsConflict reports whether err is a conflict: a stale or disallowed
// transition, or a lost concurrent write.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// External wraps err as an ExternalServiceError.
func External(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrExternalService, op, err)
}
