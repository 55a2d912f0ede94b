// Package billing mounts the subscription billing HTTP API.
package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/clinicbilling/binder"
	"github.com/dmitrymomot/clinicbilling/handler"
	"github.com/dmitrymomot/clinicbilling/pkg/plan"
	"github.com/dmitrymomot/clinicbilling/pkg/subscription"
	"github.com/dmitrymomot/clinicbilling/pkg/webhook"
	svc "github.com/dmitrymomot/clinicbilling/svc/billing"
)

// Service is the part of svc/billing.Service the API calls.
type Service interface {
	Create(ctx context.Context, p svc.CreateParams) (*subscription.Subscription, error)
	Cancel(ctx context.Context, id uuid.UUID, immediately bool) (*subscription.Subscription, error)
	ChangePlan(ctx context.Context, id uuid.UUID, newPlanID string) (*subscription.Subscription, error)
	GetSubscription(ctx context.Context, id uuid.UUID, includeRetry bool) (svc.View, error)
	ListPlans(ctx context.Context) ([]plan.Plan, error)
}

// WebhookProcessor handles verified processor deliveries.
type WebhookProcessor interface {
	Handle(ctx context.Context, src webhook.Source, payload []byte, signature string) (webhook.Result, error)
}

// WebhookEndpoint binds an event source to a path under /webhooks.
type WebhookEndpoint struct {
	Path            string // e.g. "/payments"
	SignatureHeader string // e.g. "Stripe-Signature"
	Source          webhook.Source
}

// RouterOptions configures the billing router.
type RouterOptions struct {
	Service   Service
	Processor WebhookProcessor
	Webhooks  []WebhookEndpoint
	Logger    *slog.Logger
	Now       func() time.Time
}

// Router creates the billing API router.
//
//	r := chi.NewRouter()
//	r.Use(requestid.Middleware)
//	r.Mount("/", billing.Router(billing.RouterOptions{
//		Service:   billingSvc,
//		Processor: processor,
//		Webhooks: []billing.WebhookEndpoint{
//			{Path: "/payments", SignatureHeader: "Stripe-Signature", Source: stripeSource},
//		},
//		Logger: log,
//	}))
func Router(opts RouterOptions) chi.Router {
	if opts.Service == nil {
		panic("billing: service is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	h := &handlers{service: opts.Service, processor: opts.Processor, now: opts.Now}
	onError := handler.WithErrorHandler(handler.NewErrorHandler(opts.Logger.With(slog.String("module", "billing")), MapError))
	path := binder.Path(chi.URLParam)

	r := chi.NewRouter()

	r.Get("/plans", handler.Wrap(h.listPlans, onError))

	r.Route("/subscriptions", func(r chi.Router) {
		r.Post("/", handler.Wrap(h.create, handler.WithBinders(binder.JSON()), onError))
		r.Get("/{id}", handler.Wrap(h.get, handler.WithBinders(path, binder.Query()), onError))
		r.Post("/{id}/cancel", handler.Wrap(h.cancel, handler.WithBinders(path, optionalJSON), onError))
		r.Post("/{id}/plan", handler.Wrap(h.changePlan, handler.WithBinders(path, binder.JSON()), onError))
	})

	if opts.Processor != nil && len(opts.Webhooks) > 0 {
		r.Route("/webhooks", func(r chi.Router) {
			for _, ep := range opts.Webhooks {
				r.Post(ep.Path, handler.Wrap(h.webhook(ep.Source), handler.WithBinders(rawBody(ep.SignatureHeader)), onError))
			}
		})
	}

	return r
}
