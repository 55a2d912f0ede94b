// Package handler provides typed HTTP handlers for JSON APIs.
//
// A HandlerFunc receives a request struct filled by binders and returns a
// Response. Wrap turns it into an http.HandlerFunc:
//
//	type CancelRequest struct {
//		ID          uuid.UUID `path:"id"`
//		Immediately bool      `json:"immediately"`
//	}
//
//	func cancel(ctx handler.Context, req CancelRequest) handler.Response {
//		sub, err := svc.Cancel(ctx, req.ID, req.Immediately)
//		if err != nil {
//			return handler.Error(err)
//		}
//		return handler.JSON(sub)
//	}
//
//	r.Post("/subscriptions/{id}/cancel", handler.Wrap(cancel,
//		handler.WithBinders(binder.Path(chi.URLParam), binder.JSON()),
//		handler.WithErrorHandler(handler.NewErrorHandler(log, mapBillingError)),
//	))
//
// # Responses
//
// JSON bodies use one envelope:
//
//	{"data": ..., "meta": {...}}
//	{"error": {"code": "coupon_expired", "message": "...", "details": {...}}}
//
// # Errors
//
// Handlers return Error(err). The error handler classifies err with the
// given ErrorMapper functions, logs it with the request id and renders it.
// Binding failures map to 400 and validator.ValidationErrors to 422.
// Server errors never expose the underlying error text.
package handler
