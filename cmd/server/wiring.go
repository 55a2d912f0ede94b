package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/clinicbilling/pkg/coupon"
	"github.com/dmitrymomot/clinicbilling/pkg/email"
	"github.com/dmitrymomot/clinicbilling/pkg/events"
	"github.com/dmitrymomot/clinicbilling/pkg/gateway"
	"github.com/dmitrymomot/clinicbilling/pkg/httpserver"
	"github.com/dmitrymomot/clinicbilling/pkg/keylock"
	"github.com/dmitrymomot/clinicbilling/pkg/logger"
	"github.com/dmitrymomot/clinicbilling/pkg/pg"
	"github.com/dmitrymomot/clinicbilling/pkg/plan"
	"github.com/dmitrymomot/clinicbilling/pkg/queue"
	"github.com/dmitrymomot/clinicbilling/pkg/redis"
	"github.com/dmitrymomot/clinicbilling/pkg/storage/postgres"
	"github.com/dmitrymomot/clinicbilling/pkg/subscription"
	"github.com/dmitrymomot/clinicbilling/pkg/txn"
	"github.com/dmitrymomot/clinicbilling/pkg/webhook"
)

const (
	driverPostgres = "postgres"
	driverMemory   = "memory"
)

var errUnknownDriver = errors.New("unknown STORAGE_DRIVER")

// storage groups the stores of one backend.
type storage struct {
	plans         plan.Store
	coupons       coupon.Store
	subscriptions subscription.Store
	events        webhook.EventLog
	tasks         queue.Repository
	tx            txn.Transactor
	locker        keylock.Locker
	checks        []httpserver.Check
	closers       []func()
}

func (s *storage) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStorage(ctx context.Context, cfg appConfig, log *slog.Logger) (*storage, error) {
	s := &storage{}

	switch cfg.StorageDriver {
	case driverPostgres:
		pool, err := pg.Connect(ctx, cfg.PG)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pool.Close)

		if err := pg.Migrate(ctx, pool, postgres.Migrations, postgres.MigrationsDir, cfg.PG, log); err != nil {
			pool.Close()
			return nil, err
		}

		s.plans = postgres.NewPlanStore(pool)
		s.coupons = postgres.NewCouponStore(pool)
		s.subscriptions = postgres.NewSubscriptionStore(pool)
		s.events = postgres.NewEventLog(pool)
		s.tasks = postgres.NewTaskStore(pool)
		s.tx = pg.NewTransactor(pool)
		s.checks = append(s.checks, httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(pool)})

	case driverMemory:
		log.Warn("using in-memory storage, data is lost on restart")
		s.plans = plan.NewMemoryStore()
		s.coupons = coupon.NewMemoryStore()
		s.subscriptions = subscription.NewMemoryStore()
		s.events = webhook.NewMemoryEventLog()
		s.tasks = queue.NewMemoryStorage()
		s.tx = txn.NewMemory()

	default:
		return nil, fmt.Errorf("%w: %q", errUnknownDriver, cfg.StorageDriver)
	}

	locker, err := newLocker(ctx, cfg.Redis, log, s)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.locker = locker
	return s, nil
}

// newLocker uses Redis when configured so that several instances serialize
// work on one subscription. A single instance can use a process lock.
func newLocker(ctx context.Context, cfg redis.Config, log *slog.Logger, s *storage) (keylock.Locker, error) {
	if cfg.ConnectionURL == "" {
		return keylock.NewLocal(), nil
	}
	client, err := redis.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() {
		if err := client.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			log.Warn("failed to close redis client", logger.Error(err))
		}
	})
	s.checks = append(s.checks, httpserver.Check{Name: "redis", Fn: redis.Healthcheck(client)})
	return redis.NewLocker(client, cfg, redis.WithLockerLogger(log.With(logger.Component("locker")))), nil
}

// newGateway returns the Stripe gateway behind a circuit breaker and its
// webhook source. Without a Stripe key an in-process gateway is used.
func newGateway(cfg appConfig, log *slog.Logger) (gateway.Gateway, *gateway.StripeSource, error) {
	if cfg.Stripe.SecretKey == "" {
		log.Warn("STRIPE_SECRET_KEY is not set, using in-memory payment gateway")
		return gateway.NewMemory(), nil, nil
	}

	stripe, err := gateway.NewStripe(cfg.Stripe, gateway.WithStripeLogger(log.With(logger.Component("stripe"))))
	if err != nil {
		return nil, nil, err
	}
	source, err := gateway.NewStripeSource(cfg.Stripe,
		gateway.WithDeclineLookup(stripe),
		gateway.WithStripeSourceLogger(log.With(logger.Component("stripe_webhook"))),
	)
	if err != nil {
		return nil, nil, err
	}
	gw := gateway.NewBreaker(stripe, cfg.Breaker,
		gateway.WithBreakerName("stripe"),
		gateway.WithBreakerLogger(log.With(logger.Component("breaker"))),
	)
	return gw, source, nil
}

func newMailer(cfg email.Config) (email.Sender, error) {
	if !cfg.UsePostmark() {
		return email.NewDevSender(cfg.DevDir), nil
	}
	return email.NewPostmarkClient(cfg)
}

func newPublisher(ctx context.Context, cfg events.Config, log *slog.Logger) (events.Publisher, error) {
	opts := []events.Option{events.WithLogger(log.With(logger.Component("events")))}
	if cfg.URL == "" {
		return events.NewLogPublisher(opts...), nil
	}
	return events.NewRabbitMQPublisher(ctx, cfg, opts...)
}
