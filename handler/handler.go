package handler

import (
	"net/http"
)

// HandlerFunc handles a request bound into R.
//
//	func cancel(ctx handler.Context, req CancelRequest) handler.Response {
//		sub, err := svc.Cancel(ctx, req.ID, req.Immediately)
//		if err != nil {
//			return handler.Error(err)
//		}
//		return handler.JSON(sub)
//	}
type HandlerFunc[R any] func(ctx Context, req R) Response

// Response renders itself to an http.ResponseWriter.
type Response interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// Bind parses HTTP requests into typed values.
type Bind func(r *http.Request, v any) error

// ErrorHandler writes the response for a failed request.
type ErrorHandler func(ctx Context, err error)

// WrapOption configures Wrap.
type WrapOption func(*wrapConfig)

type wrapConfig struct {
	binders      []Bind
	errorHandler ErrorHandler
}

// WithBinders sets request binders applied in order. Each binder only
// reads its own struct tags, so path, query and body binders can be combined.
func WithBinders(binders ...Bind) WrapOption {
	return func(c *wrapConfig) {
		c.binders = append(c.binders, binders...)
	}
}

// WithErrorHandler sets the error handler. Handlers built with
// NewErrorHandler log the failure and render a JSON error body.
func WithErrorHandler(h ErrorHandler) WrapOption {
	return func(c *wrapConfig) {
		if h != nil {
			c.errorHandler = h
		}
	}
}

// defaultErrorHandler writes a plain JSON error without logging.
func defaultErrorHandler(ctx Context, err error) {
	resp := JSONError(err)
	if rerr := resp.Render(ctx.ResponseWriter(), ctx.Request()); rerr != nil {
		http.Error(ctx.ResponseWriter(), http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// Wrap converts a typed HandlerFunc to http.HandlerFunc.
//
//	r.Post("/subscriptions/{id}/cancel", handler.Wrap(cancel,
//		handler.WithBinders(binder.Path(chi.URLParam), binder.JSON()),
//		handler.WithErrorHandler(errHandler),
//	))
//
// Binding failures and error responses go through the error handler.
func Wrap[R any](h HandlerFunc[R], opts ...WrapOption) http.HandlerFunc {
	cfg := &wrapConfig{errorHandler: defaultErrorHandler}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := NewContext(w, r)

		var req R
		for _, bind := range cfg.binders {
			if err := bind(r, &req); err != nil {
				cfg.errorHandler(ctx, err)
				return
			}
		}

		response := h(ctx, req)
		switch resp := response.(type) {
		case nil:
			cfg.errorHandler(ctx, ErrNilResponse)
			return
		case errorResponse:
			cfg.errorHandler(ctx, resp.err)
			return
		}
		if err := response.Render(w, r); err != nil {
			cfg.errorHandler(ctx, err)
		}
	}
}

// errorResponse defers rendering of err to the error handler of Wrap.
type errorResponse struct {
	err error
}

func (e errorResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return JSONError(e.err).Render(w, r)
}

// Error returns a response that is rendered by the error handler of Wrap.
// Outside Wrap it renders as JSONError.
func Error(err error) Response {
	return errorResponse{err: err}
}
