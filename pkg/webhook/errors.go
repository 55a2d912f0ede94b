package webhook

import "errors"

var (
	// ErrInvalidSignature is returned by a Source when a delivery fails authentication.
	ErrInvalidSignature = errors.New("webhook: invalid signature")
	// ErrMalformedPayload is returned by a Source when a delivery cannot be decoded.
	ErrMalformedPayload = errors.New("webhook: malformed payload")

	ErrEventNotFound = errors.New("webhook: event not recorded")
)
