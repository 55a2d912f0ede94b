package requestid

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/clinicbilling/pkg/logger"
)

// LoggerExtractor adds the request id of ctx to every log record.
func LoggerExtractor() logger.ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		if requestID := FromContext(ctx); requestID != "" {
			return logger.RequestID(requestID), true
		}
		return slog.Attr{}, false
	}
}
