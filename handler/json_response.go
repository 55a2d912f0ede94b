package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrymomot/clinicbilling/pkg/validator"
)

// JSONResponse is the standard JSON response structure
type JSONResponse struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string              `json:"code,omitempty"`
	Message string              `json:"message,omitempty"`
	Details map[string][]string `json:"details,omitempty"`
}

type jsonResponse struct {
	status int
	body   JSONResponse
}

func (j jsonResponse) Render(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	return json.NewEncoder(w).Encode(j.body)
}

// JSONOption configures JSON response
type JSONOption func(*jsonResponse)

// WithJSONStatus sets custom HTTP status code
func WithJSONStatus(status int) JSONOption {
	return func(r *jsonResponse) {
		r.status = status
	}
}

// WithJSONMeta adds metadata to response
func WithJSONMeta(meta map[string]any) JSONOption {
	return func(r *jsonResponse) {
		r.body.Meta = meta
	}
}

// JSON renders v under "data" with status 200 unless changed by an option.
func JSON(v any, opts ...JSONOption) Response {
	r := &jsonResponse{status: http.StatusOK}
	if body, ok := v.(JSONResponse); ok {
		r.body = body
	} else {
		r.body.Data = v
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// JSONError renders err under "error". HTTPError sets the status and code,
// validator.ValidationErrors become 422 with per-field details. Other errors
// are reported as internal errors without exposing their text.
func JSONError(err error, opts ...JSONOption) Response {
	status, detail := errorToDetail(err)
	r := &jsonResponse{
		status: status,
		body:   JSONResponse{Error: detail},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func errorToDetail(err error) (int, *ErrorDetail) {
	var httpErr HTTPError
	hasHTTP := errors.As(err, &httpErr)

	var valErr validator.ValidationErrors
	if errors.As(err, &valErr) && (!hasHTTP || httpErr.Code == http.StatusUnprocessableEntity) {
		detail := &ErrorDetail{
			Code:    ErrUnprocessableEntity.Key,
			Message: "validation failed",
			Details: make(map[string][]string),
		}
		if hasHTTP {
			detail.Code = httpErr.Key
		}
		for _, field := range valErr.Fields() {
			detail.Details[field] = valErr.Get(field)
		}
		return http.StatusUnprocessableEntity, detail
	}

	if hasHTTP {
		return httpErr.Code, &ErrorDetail{Code: httpErr.Key, Message: publicMessage(err, httpErr)}
	}

	return http.StatusInternalServerError, &ErrorDetail{
		Code:    ErrInternalServerError.Key,
		Message: http.StatusText(http.StatusInternalServerError),
	}
}

// publicMessage keeps the wrapped text for client errors only.
func publicMessage(err error, httpErr HTTPError) string {
	if httpErr.Code >= http.StatusInternalServerError {
		return http.StatusText(httpErr.Code)
	}
	var wrapped *mappedError
	if errors.As(err, &wrapped) {
		return wrapped.cause.Error()
	}
	return http.StatusText(httpErr.Code)
}
