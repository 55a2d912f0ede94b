// Package validator builds declarative input checks out of small Rule values.
//
// Each rule pairs a Check func with the ValidationError reported when the
// check fails. Apply evaluates rules in order and collects every failure into
// ValidationErrors, which implements error:
//
//	err := validator.Apply(
//		validator.RequiredString("plan_id", p.PlanID),
//		validator.RangeNum("discount_percentage", p.Discount, 0, 100),
//		validator.If(p.Email != "", validator.ValidEmail("customer_email", p.Email)),
//	)
//	if verrs := validator.ExtractValidationErrors(err); verrs != nil {
//		for _, field := range verrs.Fields() {
//			_ = verrs.Get(field)
//		}
//	}
//
// The package is stateless and safe for concurrent use.
package validator
