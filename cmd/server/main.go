// Command server runs the clinic subscription billing API, the charge retry
// worker and the periodic billing sweep in one process.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/clinicbilling/modules/billing"
	"github.com/dmitrymomot/clinicbilling/pkg/config"
	"github.com/dmitrymomot/clinicbilling/pkg/coupon"
	"github.com/dmitrymomot/clinicbilling/pkg/email"
	"github.com/dmitrymomot/clinicbilling/pkg/events"
	"github.com/dmitrymomot/clinicbilling/pkg/gateway"
	"github.com/dmitrymomot/clinicbilling/pkg/httpserver"
	"github.com/dmitrymomot/clinicbilling/pkg/logger"
	"github.com/dmitrymomot/clinicbilling/pkg/pg"
	"github.com/dmitrymomot/clinicbilling/pkg/queue"
	"github.com/dmitrymomot/clinicbilling/pkg/redis"
	"github.com/dmitrymomot/clinicbilling/pkg/requestid"
	"github.com/dmitrymomot/clinicbilling/pkg/retry"
	"github.com/dmitrymomot/clinicbilling/pkg/subscription"
	"github.com/dmitrymomot/clinicbilling/pkg/webhook"
	svc "github.com/dmitrymomot/clinicbilling/svc/billing"
)

type appConfig struct {
	AppEnv        string `env:"APP_ENV" envDefault:"development"`
	ServiceName   string `env:"SERVICE_NAME" envDefault:"clinicbilling"`
	LogLevel      string `env:"LOG_LEVEL"`
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"memory"` // postgres | memory

	HTTP    httpserver.Config
	PG      pg.Config
	Redis   redis.Config
	Stripe  gateway.StripeConfig
	Paddle  gateway.PaddleConfig
	Breaker gateway.BreakerConfig
	Email   email.Config
	Events  events.Config
	Billing svc.Config
}

func main() {
	var cfg appConfig
	config.MustLoad(&cfg)

	log := logger.New(
		logger.WithEnvironment(cfg.AppEnv, cfg.ServiceName),
		logger.WithLevelName(cfg.LogLevel),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)
	logger.SetAsDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.Billing.CatalogFile != "" {
		catalog, err := svc.LoadCatalog(cfg.Billing.CatalogFile)
		if err != nil {
			return err
		}
		if err := catalog.Seed(ctx, store.plans, store.coupons); err != nil {
			return err
		}
		log.Info("catalog seeded",
			slog.Int("plans", len(catalog.Plans)),
			slog.Int("coupons", len(catalog.Coupons)))
	}

	gw, stripeSource, err := newGateway(cfg, log)
	if err != nil {
		return err
	}
	mailer, err := newMailer(cfg.Email)
	if err != nil {
		return err
	}
	publisher, err := newPublisher(ctx, cfg.Events, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Warn("failed to close event publisher", logger.Error(err))
		}
	}()

	enqueuer, err := queue.NewEnqueuer(store.tasks, queue.WithDefaultQueue(cfg.Billing.Queue))
	if err != nil {
		return err
	}
	retries := retry.NewScheduler(enqueuer,
		retry.WithQueue(cfg.Billing.Queue),
		retry.WithLogger(log.With(logger.Component("retry"))),
	)

	listener := svc.NewListener(retries, gw,
		svc.WithMailer(mailer),
		svc.WithPublisher(publisher),
		svc.WithPlanCatalog(store.plans),
		svc.WithListenerLogger(log.With(logger.Component("listener"))),
	)
	ledger := subscription.NewLedger(store.subscriptions,
		subscription.WithLocker(store.locker),
		subscription.WithTransactor(store.tx),
		subscription.WithListener(listener.Observe),
		subscription.WithLogger(log.With(logger.Component("ledger"))),
	)
	service := svc.NewService(store.plans,
		coupon.NewEngine(store.coupons, coupon.WithLogger(log.With(logger.Component("coupon")))),
		ledger,
		gw,
		svc.WithTransactor(store.tx),
		svc.WithRetryScheduler(retries),
		svc.WithSweepBatch(cfg.Billing.SweepBatch),
		svc.WithCompensationTimeout(cfg.Billing.CompensationTimeout),
		svc.WithLogger(log.With(logger.Component("billing"))),
	)
	processor := webhook.NewProcessor(ledger, store.events,
		webhook.WithLocker(store.locker),
		webhook.WithLogger(log.With(logger.Component("webhook"))),
	)

	worker, err := queue.NewWorker(store.tasks,
		queue.WithQueues(cfg.Billing.Queue),
		queue.WithWorkerLogger(log.With(logger.Component("worker"))),
	)
	if err != nil {
		return err
	}
	worker.RegisterHandlers(service.TaskHandlers()...)

	scheduler, err := queue.NewScheduler(store.tasks,
		queue.WithSchedulerQueue(cfg.Billing.Queue),
		queue.WithSchedulerLogger(log.With(logger.Component("scheduler"))),
	)
	if err != nil {
		return err
	}
	if err := scheduler.AddTask(svc.SweepTaskName, queue.EveryInterval(cfg.Billing.SweepInterval)); err != nil {
		return err
	}

	webhooks := []billing.WebhookEndpoint{}
	if stripeSource != nil {
		webhooks = append(webhooks, billing.WebhookEndpoint{Path: "/payments", SignatureHeader: "Stripe-Signature", Source: stripeSource})
	}
	if cfg.Paddle.WebhookSecret != "" {
		paddleSource, err := gateway.NewPaddleSource(cfg.Paddle)
		if err != nil {
			return err
		}
		webhooks = append(webhooks, billing.WebhookEndpoint{Path: "/paddle", SignatureHeader: gateway.PaddleSignatureHeader, Source: paddleSource})
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware, middleware.Recoverer)
	r.Get("/health/live", httpserver.LivenessHandler())
	r.Get("/health/ready", httpserver.ReadinessHandler(log, 5*time.Second, store.checks...))
	r.Mount("/", billing.Router(billing.RouterOptions{
		Service:   service,
		Processor: processor,
		Webhooks:  webhooks,
		Logger:    log,
	}))

	server := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log.With(logger.Component("http"))))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx, r) })
	g.Go(func() error { return worker.Run(ctx) })
	g.Go(func() error { return scheduler.Run(ctx) })
	return g.Wait()
}
