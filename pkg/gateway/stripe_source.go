package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dmitrymomot/clinicbilling/pkg/logger"
	whk "github.com/dmitrymomot/clinicbilling/pkg/webhook"
)

// SourceStripe is the name of the Stripe event source.
const SourceStripe = "stripe"

// DeclineLookup resolves the decline code of a payment intent that the event
// payload does not carry. *Stripe implements it.
type DeclineLookup interface {
	PaymentDeclineCode(ctx context.Context, paymentIntentID string) (string, error)
}

// StripeSource verifies and normalizes Stripe webhook deliveries.
type StripeSource struct {
	secret    string
	tolerance time.Duration
	declines  DeclineLookup
	logger    *slog.Logger
}

// StripeSourceOption configures a StripeSource.
type StripeSourceOption func(*StripeSource)

// WithDeclineLookup fetches decline codes of failed invoice payments when the
// payment intent is not expanded in the event.
func WithDeclineLookup(l DeclineLookup) StripeSourceOption {
	return func(s *StripeSource) {
		s.declines = l
	}
}

// WithStripeSourceLogger sets the source logger.
func WithStripeSourceLogger(l *slog.Logger) StripeSourceOption {
	return func(s *StripeSource) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStripeSource creates a Stripe webhook source.
func NewStripeSource(cfg StripeConfig, opts ...StripeSourceOption) (*StripeSource, error) {
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: STRIPE_WEBHOOK_SECRET is required", ErrInvalidConfig)
	}
	s := &StripeSource{
		secret:    cfg.WebhookSecret,
		tolerance: cfg.WebhookTolerance,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *StripeSource) Name() string { return SourceStripe }

// Parse checks the Stripe-Signature header and maps the event.
func (s *StripeSource) Parse(ctx context.Context, payload []byte, signature string) (whk.Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, s.secret, webhook.ConstructEventOptions{
		Tolerance:                s.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	switch {
	case errors.Is(err, webhook.ErrNotSigned),
		errors.Is(err, webhook.ErrInvalidHeader),
		errors.Is(err, webhook.ErrNoValidSignature),
		errors.Is(err, webhook.ErrTooOld):
		return whk.Event{}, errors.Join(whk.ErrInvalidSignature, err)
	case err != nil:
		return whk.Event{}, errors.Join(whk.ErrMalformedPayload, err)
	}

	out := whk.Event{
		ID:         ev.ID,
		Source:     SourceStripe,
		Type:       string(ev.Type),
		OccurredAt: time.Unix(ev.Created, 0).UTC(),
	}
	if ev.Data == nil {
		return out, nil
	}

	switch out.Type {
	case "invoice.paid", "invoice.payment_succeeded":
		inv, err := decodeStripeInvoice(ev.Data.Raw)
		if err != nil {
			return whk.Event{}, err
		}
		out.Action = whk.ActionChargeSucceeded
		out.ProcessorSubscriptionID = inv.subscriptionID()
		out.ProcessorPaymentID = inv.ID
		out.Amount = inv.AmountPaid
		out.PeriodEnd = inv.periodEnd()

	case "invoice.payment_failed":
		inv, err := decodeStripeInvoice(ev.Data.Raw)
		if err != nil {
			return whk.Event{}, err
		}
		out.Action = whk.ActionChargeFailed
		out.ProcessorSubscriptionID = inv.subscriptionID()
		out.ProcessorPaymentID = inv.ID
		out.Amount = inv.AmountDue
		out.DeclineCode = s.declineCode(ctx, inv)

	case "customer.subscription.deleted":
		var sub struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(ev.Data.Raw, &sub); err != nil {
			return whk.Event{}, errors.Join(whk.ErrMalformedPayload, err)
		}
		out.Action = whk.ActionSubscriptionEnded
		out.ProcessorSubscriptionID = sub.ID
	}

	if out.Action != whk.ActionNone && out.ProcessorSubscriptionID == "" {
		// One-off invoices are not tied to a subscription.
		out.Action = whk.ActionNone
	}
	return out, nil
}

// declineCode reads the card decline of a failed invoice payment from the
// expanded payment intent, or asks the lookup for it. A failed lookup leaves
// the code empty; the failure is still recorded.
func (s *StripeSource) declineCode(ctx context.Context, inv stripeInvoice) string {
	pi := inv.paymentIntent()
	if code := pi.LastPaymentError.code(); code != "" {
		return code
	}
	if pi.ID == "" || s.declines == nil {
		return ""
	}
	code, err := s.declines.PaymentDeclineCode(ctx, pi.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "payment decline code lookup failed",
			slog.String("invoice_id", inv.ID),
			slog.String("payment_intent_id", pi.ID),
			logger.Error(err))
		return ""
	}
	return code
}

// stripeInvoice holds the invoice fields used for reconciliation. Read from
// raw JSON so that moves between API versions (subscription on the invoice
// or under parent.subscription_details) do not matter.
type stripeInvoice struct {
	ID           string `json:"id"`
	AmountPaid   int64  `json:"amount_paid"`
	AmountDue    int64  `json:"amount_due"`
	Subscription any    `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription any `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
	PaymentIntent any `json:"payment_intent"`
	Payments      struct {
		Data []struct {
			Payment struct {
				PaymentIntent any `json:"payment_intent"`
			} `json:"payment"`
		} `json:"data"`
	} `json:"payments"`
}

// stripePaymentIntent is the part of an expanded payment intent that explains a decline.
type stripePaymentIntent struct {
	ID               string
	LastPaymentError *stripePaymentError
}

type stripePaymentError struct {
	Code        string
	DeclineCode string
}

func (e *stripePaymentError) code() string {
	if e == nil {
		return ""
	}
	if e.DeclineCode != "" {
		return e.DeclineCode
	}
	return e.Code
}

func decodeStripeInvoice(raw json.RawMessage) (stripeInvoice, error) {
	var inv stripeInvoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return stripeInvoice{}, errors.Join(whk.ErrMalformedPayload, err)
	}
	return inv, nil
}

func (i stripeInvoice) subscriptionID() string {
	if id := expandableID(i.Subscription); id != "" {
		return id
	}
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		return expandableID(i.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

// paymentIntent returns the invoice's payment intent. Older API versions put
// it on the invoice, newer ones under payments; either may be expanded.
func (i stripeInvoice) paymentIntent() stripePaymentIntent {
	v := i.PaymentIntent
	if v == nil {
		for _, p := range slices.Backward(i.Payments.Data) {
			if p.Payment.PaymentIntent != nil {
				v = p.Payment.PaymentIntent
				break
			}
		}
	}

	pi := stripePaymentIntent{ID: expandableID(v)}
	if obj, ok := v.(map[string]any); ok {
		if raw, ok := obj["last_payment_error"].(map[string]any); ok {
			pi.LastPaymentError = &stripePaymentError{}
			pi.LastPaymentError.Code, _ = raw["code"].(string)
			pi.LastPaymentError.DeclineCode, _ = raw["decline_code"].(string)
		}
	}
	return pi
}

func (i stripeInvoice) periodEnd() *time.Time {
	if len(i.Lines.Data) == 0 || i.Lines.Data[0].Period.End == 0 {
		return nil
	}
	end := time.Unix(i.Lines.Data[0].Period.End, 0).UTC()
	return &end
}

// expandableID reads a Stripe field that is either an id or an expanded object.
func expandableID(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if id, ok := t["id"].(string); ok {
			return id
		}
	}
	return ""
}
