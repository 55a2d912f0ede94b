package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/clinicbilling/binder"
	"github.com/dmitrymomot/clinicbilling/pkg/logger"
	"github.com/dmitrymomot/clinicbilling/pkg/requestid"
)

// ErrorMapper translates an application error into an HTTPError.
// ok is false when the mapper does not recognize err.
type ErrorMapper func(err error) (status HTTPError, ok bool)

// WithStatus attaches status to err. The result matches both with errors.Is.
func WithStatus(err error, status HTTPError) error {
	return &mappedError{status: status, cause: err}
}

type mappedError struct {
	status HTTPError
	cause  error
}

func (e *mappedError) Error() string   { return e.cause.Error() }
func (e *mappedError) Unwrap() []error { return []error{e.status, e.cause} }

// Classify resolves the HTTP status of err: an attached HTTPError wins,
// binding failures are bad requests, then mappers are tried in order.
func Classify(err error, mappers ...ErrorMapper) error {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return err
	}
	if binder.IsBindError(err) {
		return WithStatus(err, ErrBadRequest)
	}
	for _, m := range mappers {
		if status, ok := m(err); ok {
			return WithStatus(err, status)
		}
	}
	return err
}

// NewErrorHandler creates the JSON error handler. Client errors are logged
// at warn level, server errors at error level.
func NewErrorHandler(log *slog.Logger, mappers ...ErrorMapper) ErrorHandler {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return func(ctx Context, err error) {
		err = Classify(err, mappers...)
		resp := JSONError(err)
		status, _ := errorToDetail(err)

		r := ctx.Request()
		level := slog.LevelError
		if status < http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		log.LogAttrs(r.Context(), level, "request error",
			logger.RequestID(requestid.FromContext(r.Context())),
			logger.Error(err),
			slog.Int("status_code", status),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Component("error_handler"),
		)

		if rerr := resp.Render(ctx.ResponseWriter(), r); rerr != nil {
			log.LogAttrs(r.Context(), slog.LevelError, "failed to render error response",
				logger.Error(rerr),
				logger.Component("error_handler"),
			)
		}
	}
}
