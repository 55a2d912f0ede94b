package binder

import "errors"

// Binding errors. All of them describe a bad request.
var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrMissingContentType   = errors.New("missing content type")
	ErrInvalidJSON          = errors.New("invalid JSON")
	ErrInvalidQuery         = errors.New("invalid query parameter")
	ErrInvalidPath          = errors.New("invalid path parameter")
)

// IsBindError reports whether err came from one of the binders.
func IsBindError(err error) bool {
	return errors.Is(err, ErrUnsupportedMediaType) ||
		errors.Is(err, ErrMissingContentType) ||
		errors.Is(err, ErrInvalidJSON) ||
		errors.Is(err, ErrInvalidQuery) ||
		errors.Is(err, ErrInvalidPath)
}
