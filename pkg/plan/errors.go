package plan

import "errors"

var (
	ErrPlanNotFound  = errors.New("plan: not found")
	ErrPlanInactive  = errors.New("plan: not available for new subscriptions")
	ErrPlanImmutable = errors.New("plan: billing terms of an existing plan cannot change")
)
