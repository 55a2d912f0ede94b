package billing_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/clinicbilling/pkg/coupon"
	"github.com/dmitrymomot/clinicbilling/pkg/email"
	"github.com/dmitrymomot/clinicbilling/pkg/events"
	"github.com/dmitrymomot/clinicbilling/pkg/gateway"
	"github.com/dmitrymomot/clinicbilling/pkg/plan"
	"github.com/dmitrymomot/clinicbilling/pkg/queue"
	"github.com/dmitrymomot/clinicbilling/pkg/retry"
	"github.com/dmitrymomot/clinicbilling/pkg/subscription"
	"github.com/dmitrymomot/clinicbilling/svc/billing"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func intPtr(v int) *int { return &v }

func trialPlan() plan.Plan {
	return plan.Plan{
		ID:                "basic-monthly",
		Name:              "Basic",
		PriceMinorUnits:   4900,
		Currency:          "usd",
		DurationMonths:    1,
		HasTrial:          true,
		TrialDays:         7,
		RetryEnabled:      true,
		MaxRetryAttempts:  3,
		RetryIntervalDays: 3,
		IsActive:          true,
	}
}

func premiumPlan() plan.Plan {
	return plan.Plan{
		ID:                "premium-monthly",
		Name:              "Premium",
		PriceMinorUnits:   9900,
		Currency:          "usd",
		DurationMonths:    1,
		RetryEnabled:      true,
		MaxRetryAttempts:  2,
		RetryIntervalDays: 2,
		IsActive:          true,
	}
}

func legacyPlan() plan.Plan {
	return plan.Plan{ID: "legacy", Name: "Legacy", PriceMinorUnits: 2900, IsActive: false}
}

type fixture struct {
	clock   *clock
	plans   *plan.MemoryStore
	coupons *coupon.MemoryStore
	gateway *gateway.Memory
	tasks   *queue.MemoryStorage
	mailer  *email.MemorySender
	events  *events.MemoryPublisher
	ledger  *subscription.Ledger
	svc     *billing.Service
	worker  *queue.Worker
}

type fixtureConfig struct {
	store      subscription.Store
	noListener bool
}

type fixtureOption func(*fixtureConfig)

func withStore(s subscription.Store) fixtureOption {
	return func(c *fixtureConfig) { c.store = s }
}

func withoutListener() fixtureOption {
	return func(c *fixtureConfig) { c.noListener = true }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	cfg := fixtureConfig{store: subscription.NewMemoryStore()}
	for _, opt := range opts {
		opt(&cfg)
	}

	f := &fixture{
		clock:   &clock{t: time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)},
		plans:   plan.NewMemoryStore(trialPlan(), premiumPlan(), legacyPlan()),
		gateway: gateway.NewMemory(),
		tasks:   queue.NewMemoryStorage(),
		mailer:  email.NewMemorySender(),
		events:  events.NewMemoryPublisher(),
	}
	f.coupons = coupon.NewMemoryStore(
		coupon.Coupon{ID: "promo10", Code: "PROMO10", DiscountPercentage: 10, MaxUses: intPtr(1), ValidFrom: f.clock.t.AddDate(0, -1, 0), IsActive: true},
		coupon.Coupon{ID: "clinic25", Code: "CLINIC25", DiscountPercentage: 25, ValidFrom: f.clock.t.AddDate(0, -1, 0), IsActive: true},
	)
	f.tasks.SetClock(f.clock.now)

	enq, err := queue.NewEnqueuer(f.tasks, queue.WithEnqueuerClock(f.clock.now))
	require.NoError(t, err)
	retries := retry.NewScheduler(enq, retry.WithQueue("billing"))

	ledgerOpts := []subscription.LedgerOption{subscription.WithClock(f.clock.now)}
	if !cfg.noListener {
		listener := billing.NewListener(retries, f.gateway,
			billing.WithMailer(f.mailer),
			billing.WithPublisher(f.events),
			billing.WithPlanCatalog(f.plans),
		)
		ledgerOpts = append(ledgerOpts, subscription.WithListener(listener.Observe))
	}
	f.ledger = subscription.NewLedger(cfg.store, ledgerOpts...)

	f.svc = billing.NewService(f.plans,
		coupon.NewEngine(f.coupons, coupon.WithClock(f.clock.now)),
		f.ledger,
		f.gateway,
		billing.WithRetryScheduler(retries),
		billing.WithClock(f.clock.now),
	)

	f.worker, err = queue.NewWorker(f.tasks, queue.WithQueues("billing"), queue.WithWorkerClock(f.clock.now))
	require.NoError(t, err)
	f.worker.RegisterHandlers(f.svc.TaskHandlers()...)
	return f
}

func (f *fixture) create(t *testing.T, planID, couponCode string) *subscription.Subscription {
	t.Helper()
	sub, err := f.svc.Create(context.Background(), billing.CreateParams{
		CustomerID:         "cus_local_1",
		CustomerEmail:      "owner@clinic.test",
		PlanID:             planID,
		CouponCode:         couponCode,
		PaymentMethodToken: "pm_card_visa",
	})
	require.NoError(t, err)
	return sub
}

func (f *fixture) chargeFailed(t *testing.T, id uuid.UUID, paymentID string) subscription.Outcome {
	t.Helper()
	out, err := f.ledger.Apply(context.Background(), id, subscription.Event{
		Kind:               subscription.ChargeFailed,
		ProcessorPaymentID: paymentID,
		DeclineCode:        "insufficient_funds",
	})
	require.NoError(t, err)
	return out
}

func (f *fixture) usesOf(t *testing.T, code string) int {
	t.Helper()
	c, err := f.coupons.GetByCode(context.Background(), code)
	require.NoError(t, err)
	return c.CurrentUses
}

type failingCreateStore struct {
	*subscription.MemoryStore
}

func (failingCreateStore) Create(context.Context, *subscription.Subscription) error {
	return errors.New("database is gone")
}

func TestService_Create(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("trial plan starts trialing", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		sub := f.create(t, "basic-monthly", "")
		assert.Equal(t, subscription.StatusTrialing, sub.Status)
		assert.Equal(t, f.clock.t.AddDate(0, 0, 7), sub.CurrentPeriodEnd)
		assert.Equal(t, int64(4900), sub.Price())

		ps, ok := f.gateway.Subscription(sub.ProcessorSubscriptionID)
		require.True(t, ok)
		assert.Equal(t, "basic-monthly", ps.PlanID)
		assert.False(t, ps.Cancelled)
	})

	t.Run("plan without trial starts active", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		sub := f.create(t, "premium-monthly", "")
		assert.Equal(t, subscription.StatusActive, sub.Status)
	})

	t.Run("coupon discount is captured and applied at the processor", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		sub := f.create(t, "premium-monthly", " promo10 ")
		assert.Equal(t, 10, sub.DiscountPercentage)
		assert.Equal(t, "promo10", sub.CouponID)
		assert.Equal(t, int64(8910), sub.Price())
		assert.Equal(t, 1, f.usesOf(t, "PROMO10"))

		ps, ok := f.gateway.Subscription(sub.ProcessorSubscriptionID)
		require.True(t, ok)
		assert.Equal(t, int64(8910), ps.UnitAmount)
	})

	t.Run("second redemption of a single use coupon fails", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.create(t, "basic-monthly", "PROMO10")

		_, err := f.svc.Create(ctx, billing.CreateParams{
			CustomerID: "cus_local_2", PlanID: "basic-monthly", CouponCode: "PROMO10", PaymentMethodToken: "pm_card_visa",
		})
		require.ErrorIs(t, err, coupon.ErrCouponExhausted)
		assert.Equal(t, "coupon_exhausted", coupon.Code(err))
	})

	t.Run("rejected input", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		tests := []struct {
			name   string
			params billing.CreateParams
			target error
		}{
			{"missing customer", billing.CreateParams{PlanID: "basic-monthly", PaymentMethodToken: "pm"}, subscription.ErrValidation},
			{"missing token", billing.CreateParams{CustomerID: "c", PlanID: "basic-monthly"}, subscription.ErrValidation},
			{"bad email", billing.CreateParams{CustomerID: "c", CustomerEmail: "nope", PlanID: "basic-monthly", PaymentMethodToken: "pm"}, subscription.ErrValidation},
			{"unknown plan", billing.CreateParams{CustomerID: "c", PlanID: "gold", PaymentMethodToken: "pm"}, plan.ErrPlanNotFound},
			{"inactive plan", billing.CreateParams{CustomerID: "c", PlanID: "legacy", PaymentMethodToken: "pm"}, plan.ErrPlanInactive},
			{"unknown coupon", billing.CreateParams{CustomerID: "c", PlanID: "basic-monthly", CouponCode: "NOPE", PaymentMethodToken: "pm"}, coupon.ErrCouponNotFound},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.svc.Create(ctx, tt.params)
				require.ErrorIs(t, err, tt.target)
				if !coupon.IsCouponError(err) {
					assert.ErrorIs(t, err, subscription.ErrValidation)
				}
			})
		}
		assert.Empty(t, f.gateway.SubscriptionIDs())
	})

	t.Run("decline releases the coupon", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.gateway.Decline("pm_card_declined", "card_declined")

		_, err := f.svc.Create(ctx, billing.CreateParams{
			CustomerID: "c", PlanID: "basic-monthly", CouponCode: "PROMO10", PaymentMethodToken: "pm_card_declined",
		})
		require.ErrorIs(t, err, gateway.ErrPaymentDeclined)
		require.ErrorIs(t, err, subscription.ErrValidation)
		assert.Equal(t, "card_declined", gateway.DeclineCode(err))
		assert.Equal(t, 0, f.usesOf(t, "PROMO10"))
	})

	t.Run("processor outage releases the coupon", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.gateway.FailNext("create", context.DeadlineExceeded)

		_, err := f.svc.Create(ctx, billing.CreateParams{
			CustomerID: "c", PlanID: "basic-monthly", CouponCode: "PROMO10", PaymentMethodToken: "pm_card_visa",
		})
		require.ErrorIs(t, err, subscription.ErrExternalService)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 0, f.usesOf(t, "PROMO10"))
	})

	t.Run("failed local write cancels the processor subscription", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, withStore(failingCreateStore{subscription.NewMemoryStore()}))

		_, err := f.svc.Create(ctx, billing.CreateParams{
			CustomerID: "c", PlanID: "basic-monthly", CouponCode: "PROMO10", PaymentMethodToken: "pm_card_visa",
		})
		require.ErrorIs(t, err, subscription.ErrExternalService)
		assert.Equal(t, 0, f.usesOf(t, "PROMO10"))

		ids := f.gateway.SubscriptionIDs()
		require.Len(t, ids, 1)
		ps, ok := f.gateway.Subscription(ids[0])
		require.True(t, ok)
		assert.True(t, ps.Cancelled)
	})
}

func TestService_Create_ConcurrentCouponRedemption(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	const n = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		exhausted int
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Create(context.Background(), billing.CreateParams{
				CustomerID:         uuid.NewString(),
				PlanID:             "basic-monthly",
				CouponCode:         "PROMO10",
				PaymentMethodToken: "pm_" + string(rune('a'+i)),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, coupon.ErrCouponExhausted):
				exhausted++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, exhausted)
	assert.Equal(t, 1, f.usesOf(t, "PROMO10"))
}

func TestService_Cancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("at period end", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := f.create(t, "premium-monthly", "")

		got, err := f.svc.Cancel(ctx, sub.ID, false)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusPendingCancellation, got.Status)
		assert.True(t, got.CancelAtPeriodEnd)

		ps, _ := f.gateway.Subscription(sub.ProcessorSubscriptionID)
		assert.True(t, ps.CancelAtPeriodEnd)
		assert.False(t, ps.Cancelled)

		msgs := f.events.Messages(billing.StatusChangedKey)
		require.Len(t, msgs, 1)
		var ev billing.StatusChanged
		require.NoError(t, json.Unmarshal(msgs[0].Payload, &ev))
		assert.Equal(t, subscription.StatusActive, ev.From)
		assert.Equal(t, subscription.StatusPendingCancellation, ev.To)
	})

	t.Run("immediately and again", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := f.create(t, "basic-monthly", "")

		got, err := f.svc.Cancel(ctx, sub.ID, true)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusCancelled, got.Status)
		require.NotNil(t, got.CancelledAt)

		ps, _ := f.gateway.Subscription(sub.ProcessorSubscriptionID)
		assert.True(t, ps.Cancelled)

		again, err := f.svc.Cancel(ctx, sub.ID, false)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusCancelled, again.Status)
		assert.Equal(t, got.Revision, again.Revision)
	})

	t.Run("processor failure leaves the subscription untouched", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := f.create(t, "basic-monthly", "")
		f.gateway.FailNext("cancel", errors.New("connection reset"))

		_, err := f.svc.Cancel(ctx, sub.ID, true)
		require.ErrorIs(t, err, subscription.ErrExternalService)

		current, err := f.ledger.Get(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusTrialing, current.Status)
	})

	t.Run("unknown subscription", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		_, err := f.svc.Cancel(ctx, uuid.New(), true)
		require.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
	})
}

func TestService_ChangePlan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("recaptures terms and keeps discount", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := f.create(t, "basic-monthly", "CLINIC25")

		got, err := f.svc.ChangePlan(ctx, sub.ID, "premium-monthly")
		require.NoError(t, err)
		assert.Equal(t, "premium-monthly", got.PlanID)
		assert.Equal(t, 2, got.Terms.MaxRetryAttempts)
		assert.Equal(t, 25, got.DiscountPercentage)
		assert.Equal(t, int64(7425), got.Price())
		assert.Equal(t, subscription.StatusTrialing, got.Status)

		ps, _ := f.gateway.Subscription(sub.ProcessorSubscriptionID)
		assert.Equal(t, "premium-monthly", ps.PlanID)
		assert.Equal(t, int64(7425), ps.UnitAmount)
	})

	t.Run("rejections", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := f.create(t, "basic-monthly", "")

		_, err := f.svc.ChangePlan(ctx, sub.ID, "basic-monthly")
		require.ErrorIs(t, err, billing.ErrSamePlan)

		_, err = f.svc.ChangePlan(ctx, sub.ID, "legacy")
		require.ErrorIs(t, err, billing.ErrPlanUnavailable)

		_, err = f.svc.ChangePlan(ctx, sub.ID, "")
		require.ErrorIs(t, err, subscription.ErrValidation)

		_, err = f.svc.Cancel(ctx, sub.ID, true)
		require.NoError(t, err)
		_, err = f.svc.ChangePlan(ctx, sub.ID, "premium-monthly")
		require.ErrorIs(t, err, subscription.ErrConflict)
	})

	t.Run("past due subscription cannot change plan", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := f.create(t, "basic-monthly", "")
		f.chargeFailed(t, sub.ID, "in_1")

		_, err := f.svc.ChangePlan(ctx, sub.ID, "premium-monthly")
		require.ErrorIs(t, err, subscription.ErrTransitionNotAllowed)
	})
}

func TestService_GetSubscription(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	sub := f.create(t, "basic-monthly", "")
	f.chargeFailed(t, sub.ID, "in_1")

	view, err := f.svc.GetSubscription(ctx, sub.ID, false)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusPastDue, view.Status)
	assert.Nil(t, view.Retry)

	view, err = f.svc.GetSubscription(ctx, sub.ID, true)
	require.NoError(t, err)
	require.NotNil(t, view.Retry)
	assert.Equal(t, 1, view.Retry.AttemptsUsed)
	assert.Equal(t, 3, view.Retry.MaxAttempts)
	require.NotNil(t, view.Retry.NextRetryAt)
	assert.Equal(t, f.clock.t.AddDate(0, 0, 3), *view.Retry.NextRetryAt)
	require.Len(t, view.Retry.Attempts, 1)
	assert.Equal(t, subscription.AttemptFailed, view.Retry.Attempts[0].Outcome)

	_, err = f.svc.GetSubscription(ctx, uuid.New(), false)
	require.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
}

func TestService_ListPlans(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	plans, err := f.svc.ListPlans(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, "basic-monthly", plans[0].ID)
	assert.Equal(t, "premium-monthly", plans[1].ID)
}

func TestRetryFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("failed charge schedules a retry that pays the invoice", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := f.create(t, "basic-monthly", "")

		out := f.chargeFailed(t, sub.ID, "in_1")
		require.NotNil(t, out.Retry)
		assert.Equal(t, 1, out.Retry.Attempt)

		tasks := f.tasks.Tasks(retry.TaskName)
		require.Len(t, tasks, 1)
		assert.Equal(t, retry.TaskID(sub.ID, 1, 1), tasks[0].ID)
		assert.Equal(t, "billing", tasks[0].Queue)

		sent := f.mailer.Sent(billing.TagPaymentFailed)
		require.Len(t, sent, 1)
		assert.Equal(t, "owner@clinic.test", sent[0].SendTo)
		assert.Contains(t, sent[0].BodyHTML, "Basic")
		assert.Contains(t, sent[0].BodyHTML, gateway.DeclineMessage("insufficient_funds"))

		processed, err := f.worker.ProcessNext(ctx)
		require.NoError(t, err)
		assert.False(t, processed, "retry is not due yet")

		f.clock.advance(3 * 24 * time.Hour)
		processed, err = f.worker.ProcessNext(ctx)
		require.NoError(t, err)
		assert.True(t, processed)
		assert.Equal(t, []string{"in_1"}, f.gateway.PaidInvoices())
	})

	t.Run("each failure cycle gets its own retry", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := f.create(t, "basic-monthly", "")

		f.chargeFailed(t, sub.ID, "in_1")
		f.clock.advance(3 * 24 * time.Hour)
		processed, err := f.worker.ProcessNext(ctx)
		require.NoError(t, err)
		require.True(t, processed)

		_, err = f.ledger.Apply(ctx, sub.ID, subscription.Event{Kind: subscription.ChargeSucceeded, ProcessorPaymentID: "in_1"})
		require.NoError(t, err)

		f.clock.advance(30 * 24 * time.Hour)
		out := f.chargeFailed(t, sub.ID, "in_2")
		require.NotNil(t, out.Retry)
		assert.Equal(t, 1, out.Retry.Attempt)
		assert.Equal(t, 2, out.Retry.Cycle)
		assert.Equal(t, 2, out.Subscription.RetryCycle)

		f.clock.advance(3 * 24 * time.Hour)
		require.NoError(t, f.svc.Sweep(ctx))
		assert.Len(t, f.tasks.Tasks(retry.TaskName), 2)

		processed, err = f.worker.ProcessNext(ctx)
		require.NoError(t, err)
		assert.True(t, processed)
		assert.Equal(t, []string{"in_1", "in_2"}, f.gateway.PaidInvoices())
	})

	t.Run("retry from an earlier cycle is skipped", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := f.create(t, "basic-monthly", "")
		f.chargeFailed(t, sub.ID, "in_1")
		_, err := f.ledger.Apply(ctx, sub.ID, subscription.Event{Kind: subscription.ChargeSucceeded})
		require.NoError(t, err)
		f.chargeFailed(t, sub.ID, "in_2")

		require.NoError(t, f.svc.RetryCharge(ctx, retry.ChargeRetry{SubscriptionID: sub.ID, Cycle: 1, Attempt: 1}))
		assert.Empty(t, f.gateway.PaidInvoices())

		require.NoError(t, f.svc.RetryCharge(ctx, retry.ChargeRetry{SubscriptionID: sub.ID, Cycle: 2, Attempt: 1}))
		assert.Equal(t, []string{"in_2"}, f.gateway.PaidInvoices())
	})

	t.Run("stale retry task is skipped", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := f.create(t, "basic-monthly", "")
		f.chargeFailed(t, sub.ID, "in_1")

		_, err := f.ledger.Apply(ctx, sub.ID, subscription.Event{Kind: subscription.ChargeSucceeded})
		require.NoError(t, err)

		require.NoError(t, f.svc.RetryCharge(ctx, retry.ChargeRetry{SubscriptionID: sub.ID, Cycle: 1, Attempt: 1}))
		require.NoError(t, f.svc.RetryCharge(ctx, retry.ChargeRetry{SubscriptionID: uuid.New(), Cycle: 1, Attempt: 1}))
		assert.Empty(t, f.gateway.PaidInvoices())
	})

	t.Run("declined retry is not a task failure", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := f.create(t, "basic-monthly", "")
		f.chargeFailed(t, sub.ID, "in_1")
		f.gateway.Decline("in_1", "card_declined")

		require.NoError(t, f.svc.RetryCharge(ctx, retry.ChargeRetry{SubscriptionID: sub.ID, Cycle: 1, Attempt: 1}))
	})

	t.Run("processor outage fails the task", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := f.create(t, "basic-monthly", "")
		f.chargeFailed(t, sub.ID, "in_1")
		f.gateway.FailNext("retry_payment", errors.New("timeout"))

		require.Error(t, f.svc.RetryCharge(ctx, retry.ChargeRetry{SubscriptionID: sub.ID, Cycle: 1, Attempt: 1}))
	})

	t.Run("exhaustion cancels locally and at the processor", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := f.create(t, "basic-monthly", "")

		for i := 1; i <= 3; i++ {
			out := f.chargeFailed(t, sub.ID, "in_1")
			assert.Equal(t, subscription.StatusPastDue, out.Subscription.Status)
			assert.Equal(t, i, out.Subscription.RetryAttemptsUsed)
		}
		out := f.chargeFailed(t, sub.ID, "in_1")
		assert.True(t, out.Exhausted)
		assert.Equal(t, subscription.StatusCancelled, out.Subscription.Status)

		assert.Len(t, f.tasks.Tasks(retry.TaskName), 3)
		ps, _ := f.gateway.Subscription(sub.ProcessorSubscriptionID)
		assert.True(t, ps.Cancelled)
		assert.Len(t, f.mailer.Sent(billing.TagPaymentFailed), 4)
		assert.Len(t, f.mailer.Sent(billing.TagSubscriptionCancelled), 1)
	})

	t.Run("notification failures do not undo the transition", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := f.create(t, "basic-monthly", "")
		f.mailer.FailWith(errors.New("smtp down"))
		f.events.FailWith(errors.New("broker down"))

		out := f.chargeFailed(t, sub.ID, "in_1")
		assert.Equal(t, subscription.StatusPastDue, out.Subscription.Status)
		assert.Len(t, f.tasks.Tasks(retry.TaskName), 1)
	})
}

func TestService_Sweep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("ends pending cancellations after the period", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := f.create(t, "premium-monthly", "")
		_, err := f.svc.Cancel(ctx, sub.ID, false)
		require.NoError(t, err)

		require.NoError(t, f.svc.Sweep(ctx))
		current, _ := f.ledger.Get(ctx, sub.ID)
		assert.Equal(t, subscription.StatusPendingCancellation, current.Status)

		f.clock.advance(31 * 24 * time.Hour)
		require.NoError(t, f.svc.Sweep(ctx))
		current, _ = f.ledger.Get(ctx, sub.ID)
		assert.Equal(t, subscription.StatusCancelled, current.Status)
	})

	t.Run("re-enqueues a lost retry once", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, withoutListener())
		sub := f.create(t, "basic-monthly", "")
		f.chargeFailed(t, sub.ID, "in_1")
		assert.Empty(t, f.tasks.Tasks(retry.TaskName))

		f.clock.advance(3 * 24 * time.Hour)
		require.NoError(t, f.svc.Sweep(ctx))
		require.NoError(t, f.svc.Sweep(ctx))

		tasks := f.tasks.Tasks(retry.TaskName)
		require.Len(t, tasks, 1)
		assert.Equal(t, retry.TaskID(sub.ID, 1, 1), tasks[0].ID)
	})

	t.Run("runs as a periodic task", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := f.create(t, "premium-monthly", "")
		_, err := f.svc.Cancel(ctx, sub.ID, false)
		require.NoError(t, err)
		f.clock.advance(31 * 24 * time.Hour)

		sched, err := queue.NewScheduler(f.tasks, queue.WithSchedulerQueue("billing"), queue.WithSchedulerClock(f.clock.now))
		require.NoError(t, err)
		require.NoError(t, sched.AddTask(billing.SweepTaskName, queue.EveryInterval(15*time.Minute)))
		sched.Tick(ctx)
		f.clock.advance(15 * time.Minute)

		processed, err := f.worker.ProcessNext(ctx)
		require.NoError(t, err)
		assert.True(t, processed)

		current, _ := f.ledger.Get(ctx, sub.ID)
		assert.Equal(t, subscription.StatusCancelled, current.Status)
	})
}
