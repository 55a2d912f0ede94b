// Package logger builds *slog.Logger values configured with functional
// options and supplies attribute helpers so that billing logs use the same
// keys everywhere.
//
// New picks a text or JSON handler and, when ContextExtractor callbacks are
// registered, wraps it so that request-scoped values such as the request id
// are added to every record logged with a context.
//
//	log := logger.New(
//		logger.WithEnvironment(cfg.AppEnv, "clinicbilling"),
//		logger.WithLevelName(cfg.LogLevel),
//		logger.WithContextExtractors(requestid.LoggerExtractor()),
//	)
//	log.InfoContext(ctx, "subscription activated",
//		logger.SubscriptionID(sub.ID),
//		logger.PlanID(sub.PlanID),
//	)
//
// Error and SubscriptionID return an empty attribute for nil input, so they
// can be passed without a nil check.
package logger
