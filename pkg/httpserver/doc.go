// Package httpserver runs the billing API with graceful shutdown and serves
// the liveness and readiness probes.
//
//	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
//	r.Get("/health/live", httpserver.LivenessHandler())
//	r.Get("/health/ready", httpserver.ReadinessHandler(log, 5*time.Second,
//		httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(pool)},
//	))
//	err := srv.Run(ctx, r) // returns nil once ctx is cancelled and requests drain
//
// Start failures wrap ErrStart and drain failures wrap ErrShutdown.
package httpserver
