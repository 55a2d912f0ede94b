package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/clinicbilling/pkg/pg"
	"github.com/dmitrymomot/clinicbilling/pkg/subscription"
)

const subscriptionColumns = `id, customer_id, customer_email, plan_id, processor_subscription_id,
	processor_customer_id, coupon_id, status, terms, discount_percentage, current_period_end,
	cancel_at_period_end, retry_attempts_used, next_retry_at, revision, last_event_at,
	created_at, updated_at, cancelled_at, retry_cycle, last_event_id`

// SubscriptionStore implements subscription.Store.
type SubscriptionStore struct {
	pool *pgxpool.Pool
}

var _ subscription.Store = (*SubscriptionStore)(nil)

func NewSubscriptionStore(pool *pgxpool.Pool) *SubscriptionStore {
	return &SubscriptionStore{pool: pool}
}

func (s *SubscriptionStore) Create(ctx context.Context, sub *subscription.Subscription) error {
	terms, err := json.Marshal(sub.Terms)
	if err != nil {
		return fmt.Errorf("encode terms: %w", err)
	}

	_, err = pg.Executor(ctx, s.pool).Exec(ctx, `INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		sub.ID, sub.CustomerID, sub.CustomerEmail, sub.PlanID, sub.ProcessorSubscriptionID,
		sub.ProcessorCustomerID, sub.CouponID, string(sub.Status), terms, sub.DiscountPercentage,
		sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd, sub.RetryAttemptsUsed, sub.NextRetryAt,
		sub.Revision, sub.LastEventAt, sub.CreatedAt, sub.UpdatedAt, sub.CancelledAt,
		sub.RetryCycle, sub.LastEventID)
	if pg.IsDuplicateKeyError(err) {
		return subscription.ErrSubscriptionExists
	}
	if err != nil {
		return fmt.Errorf("insert subscription %s: %w", sub.ID, err)
	}
	return nil
}

func (s *SubscriptionStore) Get(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	return s.getOne(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
}

func (s *SubscriptionStore) GetByProcessorID(ctx context.Context, processorSubscriptionID string) (*subscription.Subscription, error) {
	if processorSubscriptionID == "" {
		return nil, subscription.ErrSubscriptionNotFound
	}
	return s.getOne(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE processor_subscription_id = $1`,
		processorSubscriptionID)
}

// Update writes sub guarded by its revision.
func (s *SubscriptionStore) Update(ctx context.Context, sub *subscription.Subscription, expectedRevision int64) error {
	terms, err := json.Marshal(sub.Terms)
	if err != nil {
		return fmt.Errorf("encode terms: %w", err)
	}

	db := pg.Executor(ctx, s.pool)
	tag, err := db.Exec(ctx, `UPDATE subscriptions SET
			customer_email = $3,
			plan_id = $4,
			processor_subscription_id = $5,
			processor_customer_id = $6,
			coupon_id = $7,
			status = $8,
			terms = $9,
			discount_percentage = $10,
			current_period_end = $11,
			cancel_at_period_end = $12,
			retry_attempts_used = $13,
			next_retry_at = $14,
			revision = $15,
			last_event_at = $16,
			updated_at = $17,
			cancelled_at = $18,
			retry_cycle = $19,
			last_event_id = $20
		WHERE id = $1 AND revision = $2`,
		sub.ID, expectedRevision, sub.CustomerEmail, sub.PlanID, sub.ProcessorSubscriptionID,
		sub.ProcessorCustomerID, sub.CouponID, string(sub.Status), terms, sub.DiscountPercentage,
		sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd, sub.RetryAttemptsUsed, sub.NextRetryAt,
		sub.Revision, sub.LastEventAt, sub.UpdatedAt, sub.CancelledAt,
		sub.RetryCycle, sub.LastEventID)
	if err != nil {
		return fmt.Errorf("update subscription %s: %w", sub.ID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM subscriptions WHERE id = $1)`, sub.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check subscription %s: %w", sub.ID, err)
	}
	if !exists {
		return subscription.ErrSubscriptionNotFound
	}
	return subscription.ErrRevisionMismatch
}

// ListDue compares next_retry_at for past_due and current_period_end otherwise.
func (s *SubscriptionStore) ListDue(ctx context.Context, status subscription.Status, before time.Time, limit int) ([]*subscription.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := pg.Executor(ctx, s.pool).Query(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = $1
			AND CASE WHEN status = 'past_due' THEN next_retry_at ELSE current_period_end END <= $2
		ORDER BY CASE WHEN status = 'past_due' THEN next_retry_at ELSE current_period_end END, id
		LIMIT $3`, string(status), before, limit)
	if err != nil {
		return nil, fmt.Errorf("list due subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *SubscriptionStore) AppendAttempt(ctx context.Context, a subscription.PaymentAttempt) error {
	_, err := pg.Executor(ctx, s.pool).Exec(ctx, `INSERT INTO payment_attempts
		(id, subscription_id, amount, outcome, occurred_at, processor_payment_id, decline_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.SubscriptionID, a.Amount, string(a.Outcome), a.OccurredAt, a.ProcessorPaymentID, a.DeclineCode)
	if err != nil {
		return fmt.Errorf("insert payment attempt: %w", err)
	}
	return nil
}

func (s *SubscriptionStore) ListAttempts(ctx context.Context, subscriptionID uuid.UUID) ([]subscription.PaymentAttempt, error) {
	rows, err := pg.Executor(ctx, s.pool).Query(ctx, `SELECT
			id, subscription_id, amount, outcome, occurred_at, processor_payment_id, decline_code
		FROM payment_attempts WHERE subscription_id = $1 ORDER BY seq`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("list payment attempts: %w", err)
	}
	defer rows.Close()

	var out []subscription.PaymentAttempt
	for rows.Next() {
		var (
			a       subscription.PaymentAttempt
			outcome string
		)
		if err := rows.Scan(&a.ID, &a.SubscriptionID, &a.Amount, &outcome, &a.OccurredAt,
			&a.ProcessorPaymentID, &a.DeclineCode); err != nil {
			return nil, fmt.Errorf("scan payment attempt: %w", err)
		}
		a.Outcome = subscription.AttemptOutcome(outcome)
		a.OccurredAt = a.OccurredAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SubscriptionStore) getOne(ctx context.Context, query string, arg any) (*subscription.Subscription, error) {
	sub, err := scanSubscription(pg.Executor(ctx, s.pool).QueryRow(ctx, query, arg))
	if pg.IsNotFoundError(err) {
		return nil, subscription.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

func scanSubscription(row pgx.Row) (*subscription.Subscription, error) {
	var (
		sub    subscription.Subscription
		status string
		terms  []byte
	)
	err := row.Scan(&sub.ID, &sub.CustomerID, &sub.CustomerEmail, &sub.PlanID, &sub.ProcessorSubscriptionID,
		&sub.ProcessorCustomerID, &sub.CouponID, &status, &terms, &sub.DiscountPercentage,
		&sub.CurrentPeriodEnd, &sub.CancelAtPeriodEnd, &sub.RetryAttemptsUsed, &sub.NextRetryAt,
		&sub.Revision, &sub.LastEventAt, &sub.CreatedAt, &sub.UpdatedAt, &sub.CancelledAt,
		&sub.RetryCycle, &sub.LastEventID)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(terms, &sub.Terms); err != nil {
		return nil, fmt.Errorf("decode terms: %w", err)
	}
	sub.Status = subscription.Status(status)
	sub.CurrentPeriodEnd = sub.CurrentPeriodEnd.UTC()
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	sub.NextRetryAt = utcPtr(sub.NextRetryAt)
	sub.LastEventAt = utcPtr(sub.LastEventAt)
	sub.CancelledAt = utcPtr(sub.CancelledAt)
	return &sub, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
