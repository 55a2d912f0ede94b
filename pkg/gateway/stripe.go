package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/price"
	stripesub "github.com/stripe/stripe-go/v82/subscription"

	"github.com/dmitrymomot/clinicbilling/pkg/plan"
	"github.com/dmitrymomot/clinicbilling/pkg/subscription"
)

// Stripe implements Gateway on the Stripe API.
type Stripe struct {
	customers     customer.Client
	prices        price.Client
	subscriptions stripesub.Client
	invoices      invoice.Client
	intents       paymentintent.Client
	timeout       time.Duration
	logger        *slog.Logger
}

// StripeOption configures the Stripe gateway.
type StripeOption func(*stripeOptions)

type stripeOptions struct {
	httpClient *http.Client
	maxRetries int64
	logger     *slog.Logger
}

// WithStripeHTTPClient sets the HTTP client used for API calls.
func WithStripeHTTPClient(c *http.Client) StripeOption {
	return func(o *stripeOptions) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithStripeMaxRetries sets how many times the SDK retries a failed request.
func WithStripeMaxRetries(n int64) StripeOption {
	return func(o *stripeOptions) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithStripeLogger sets the gateway logger.
func WithStripeLogger(l *slog.Logger) StripeOption {
	return func(o *stripeOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewStripe creates a Stripe gateway. The SDK's own logging is silenced;
// calls are logged through the slog logger instead.
func NewStripe(cfg StripeConfig, opts ...StripeOption) (*Stripe, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: STRIPE_SECRET_KEY is required", ErrInvalidConfig)
	}

	o := stripeOptions{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: 2,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&o)
	}

	bc := &stripe.BackendConfig{
		HTTPClient:        o.httpClient,
		MaxNetworkRetries: stripe.Int64(o.maxRetries),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	if cfg.APIURL != "" {
		bc.URL = stripe.String(cfg.APIURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, bc)

	return &Stripe{
		customers:     customer.Client{B: backend, Key: cfg.SecretKey},
		prices:        price.Client{B: backend, Key: cfg.SecretKey},
		subscriptions: stripesub.Client{B: backend, Key: cfg.SecretKey},
		invoices:      invoice.Client{B: backend, Key: cfg.SecretKey},
		intents:       paymentintent.Client{B: backend, Key: cfg.SecretKey},
		timeout:       cfg.Timeout,
		logger:        o.logger,
	}, nil
}

// CreateSubscription creates the customer, the price when needed and the
// subscription. Every request carries an idempotency key derived from the
// local subscription id.
func (s *Stripe) CreateSubscription(ctx context.Context, req CreateRequest) (CreateResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	key := req.SubscriptionID.String()
	metadata := map[string]string{
		"subscription_id": key,
		"customer_id":     req.CustomerID,
		"plan_id":         req.Terms.PlanID,
	}
	if req.CouponCode != "" {
		metadata["coupon_code"] = req.CouponCode
		metadata["discount_percentage"] = strconv.Itoa(req.DiscountPercentage)
	}

	cp := &stripe.CustomerParams{
		Email:         stripe.String(req.CustomerEmail),
		PaymentMethod: stripe.String(req.PaymentMethodToken),
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(req.PaymentMethodToken),
		},
		Metadata: map[string]string{"customer_id": req.CustomerID},
	}
	cp.Context = ctx
	cp.IdempotencyKey = stripe.String(key + ":customer")
	cust, err := s.customers.New(cp)
	if err != nil {
		return CreateResult{}, stripeError("create customer", err)
	}

	priceID, err := s.priceFor(ctx, req.PlanName, req.ProcessorPriceID, req.Terms, req.DiscountPercentage)
	if err != nil {
		return CreateResult{}, err
	}

	start := req.StartAt
	if start.IsZero() {
		start = time.Now()
	}
	sp := &stripe.SubscriptionParams{
		Customer:             stripe.String(cust.ID),
		Items:                []*stripe.SubscriptionItemsParams{{Price: stripe.String(priceID)}},
		DefaultPaymentMethod: stripe.String(req.PaymentMethodToken),
		PaymentBehavior:      stripe.String("error_if_incomplete"),
		Metadata:             metadata,
	}
	if req.Terms.HasTrial && req.Terms.TrialDays > 0 {
		sp.TrialEnd = stripe.Int64(req.Terms.TrialEndsAt(start).Unix())
	}
	if anchor := req.Terms.BillingAnchor(start); anchor != nil {
		sp.BillingCycleAnchor = stripe.Int64(anchor.Unix())
		sp.ProrationBehavior = stripe.String("create_prorations")
	}
	sp.Context = ctx
	sp.IdempotencyKey = stripe.String(key + ":subscription")

	sub, err := s.subscriptions.New(sp)
	if err != nil {
		return CreateResult{}, stripeError("create subscription", err)
	}

	s.logger.InfoContext(ctx, "stripe subscription created",
		slog.String("subscription_id", key),
		slog.String("processor_subscription_id", sub.ID),
		slog.String("processor_customer_id", cust.ID))

	return CreateResult{
		ProcessorSubscriptionID: sub.ID,
		ProcessorCustomerID:     cust.ID,
		Status:                  string(sub.Status),
	}, nil
}

// CancelSubscription cancels the subscription now or flags it to end with
// the current period.
func (s *Stripe) CancelSubscription(ctx context.Context, processorSubscriptionID string, immediately bool) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if immediately {
		params := &stripe.SubscriptionCancelParams{
			InvoiceNow: stripe.Bool(false),
			Prorate:    stripe.Bool(false),
		}
		params.Context = ctx
		if _, err := s.subscriptions.Cancel(processorSubscriptionID, params); err != nil {
			return stripeError("cancel subscription", err)
		}
		return nil
	}

	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx
	if _, err := s.subscriptions.Update(processorSubscriptionID, params); err != nil {
		return stripeError("schedule subscription cancellation", err)
	}
	return nil
}

// ChangePlan swaps the price of the subscription's only item, prorating the
// remainder of the current period.
func (s *Stripe) ChangePlan(ctx context.Context, req ChangePlanRequest) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	get := &stripe.SubscriptionParams{}
	get.Context = ctx
	current, err := s.subscriptions.Get(req.ProcessorSubscriptionID, get)
	if err != nil {
		return stripeError("get subscription", err)
	}
	if current.Items == nil || len(current.Items.Data) == 0 {
		return subscription.External("stripe change plan",
			fmt.Errorf("subscription %s has no items", req.ProcessorSubscriptionID))
	}

	priceID, err := s.priceFor(ctx, req.PlanName, req.ProcessorPriceID, req.Terms, req.DiscountPercentage)
	if err != nil {
		return err
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{{
			ID:    stripe.String(current.Items.Data[0].ID),
			Price: stripe.String(priceID),
		}},
		ProrationBehavior: stripe.String("create_prorations"),
		Metadata: map[string]string{
			"plan_id": req.Terms.PlanID,
		},
	}
	params.Context = ctx
	if _, err := s.subscriptions.Update(req.ProcessorSubscriptionID, params); err != nil {
		return stripeError("change subscription plan", err)
	}
	return nil
}

// RetryPayment pays a failed invoice off-session with the default method.
func (s *Stripe) RetryPayment(ctx context.Context, processorPaymentID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	params := &stripe.InvoicePayParams{OffSession: stripe.Bool(true)}
	params.Context = ctx
	if _, err := s.invoices.Pay(processorPaymentID, params); err != nil {
		return stripeError("pay invoice", err)
	}
	return nil
}

// priceFor returns the processor price to bill. A catalog price is reused
// when no discount applies; otherwise a dedicated price is created.
// PaymentDeclineCode returns the decline code of the last failed charge of a
// payment intent, falling back to the error code. Empty when the intent has
// no payment error.
func (s *Stripe) PaymentDeclineCode(ctx context.Context, paymentIntentID string) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.intents.Get(paymentIntentID, params)
	if err != nil {
		return "", stripeError("get payment intent", err)
	}
	if pi.LastPaymentError == nil {
		return "", nil
	}
	if pi.LastPaymentError.DeclineCode != "" {
		return string(pi.LastPaymentError.DeclineCode), nil
	}
	return string(pi.LastPaymentError.Code), nil
}

func (s *Stripe) priceFor(ctx context.Context, name, catalogPriceID string, terms plan.Terms, discount int) (string, error) {
	if catalogPriceID != "" && discount <= 0 {
		return catalogPriceID, nil
	}

	if name == "" {
		name = terms.PlanID
	}
	months := int64(max(terms.DurationMonths, 1))
	recurring := &stripe.PriceRecurringParams{
		Interval:      stripe.String("day"),
		IntervalCount: stripe.Int64(plan.DefaultBillingIntervalDays * months),
	}
	if terms.BillingDay != nil {
		recurring.Interval = stripe.String("month")
		recurring.IntervalCount = stripe.Int64(months)
	}

	params := &stripe.PriceParams{
		Currency:    stripe.String(terms.Currency),
		UnitAmount:  stripe.Int64(terms.DiscountedPrice(discount)),
		ProductData: &stripe.PriceProductDataParams{Name: stripe.String(name)},
		Recurring:   recurring,
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String(fmt.Sprintf("price:%s:%d:%d", terms.PlanID, terms.PriceMinorUnits, discount))

	p, err := s.prices.New(params)
	if err != nil {
		return "", stripeError("create price", err)
	}
	return p.ID, nil
}

func (s *Stripe) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// stripeError classifies an SDK error.
func stripeError(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch {
		case se.Type == stripe.ErrorTypeCard:
			code := string(se.DeclineCode)
			if code == "" {
				code = string(se.Code)
			}
			return Declined(code)
		case se.Code == stripe.ErrorCodeResourceMissing:
			return fmt.Errorf("%w: %s: %s", ErrNotFound, op, se.Msg)
		}
	}
	return subscription.External("stripe "+op, err)
}
