package postgres

import (
	"cmp"
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/clinicbilling/pkg/pg"
	"github.com/dmitrymomot/clinicbilling/pkg/plan"
)

const planColumns = `id, name, price_minor_units, currency, duration_months, has_trial, trial_days,
	billing_day, retry_enabled, max_retry_attempts, retry_interval_days, is_active,
	processor_price_id, created_at`

// PlanStore implements plan.Store.
type PlanStore struct {
	pool *pgxpool.Pool
	tx   *pg.Transactor
}

var _ plan.Store = (*PlanStore)(nil)

func NewPlanStore(pool *pgxpool.Pool) *PlanStore {
	return &PlanStore{pool: pool, tx: pg.NewTransactor(pool)}
}

func (s *PlanStore) GetPlan(ctx context.Context, id string) (plan.Plan, error) {
	row := pg.Executor(ctx, s.pool).QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id)
	p, err := scanPlan(row)
	if pg.IsNotFoundError(err) {
		return plan.Plan{}, plan.ErrPlanNotFound
	}
	if err != nil {
		return plan.Plan{}, fmt.Errorf("get plan %s: %w", id, err)
	}
	return p, nil
}

// SavePlan inserts a plan or updates the name, availability and processor
// price of an existing one. Changed billing terms are rejected.
func (s *PlanStore) SavePlan(ctx context.Context, p plan.Plan) error {
	p.Normalize()
	if err := p.Validate(); err != nil {
		return err
	}

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		db := pg.Executor(ctx, s.pool)

		existing, err := scanPlan(db.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1 FOR UPDATE`, p.ID))
		switch {
		case pg.IsNotFoundError(err):
			if p.CreatedAt.IsZero() {
				p.CreatedAt = nowUTC()
			}
			_, err := db.Exec(ctx, `INSERT INTO plans (`+planColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
				p.ID, p.Name, p.PriceMinorUnits, p.Currency, p.DurationMonths, p.HasTrial, p.TrialDays,
				p.BillingDay, p.RetryEnabled, p.MaxRetryAttempts, p.RetryIntervalDays, p.IsActive,
				p.ProcessorPriceID, p.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert plan %s: %w", p.ID, err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("lock plan %s: %w", p.ID, err)
		}

		if !existing.Terms().Equal(p.Terms()) {
			return plan.ErrPlanImmutable
		}
		_, err = db.Exec(ctx, `UPDATE plans SET name = $2, is_active = $3, processor_price_id = $4 WHERE id = $1`,
			p.ID, p.Name, p.IsActive, cmp.Or(p.ProcessorPriceID, existing.ProcessorPriceID))
		if err != nil {
			return fmt.Errorf("update plan %s: %w", p.ID, err)
		}
		return nil
	})
}

func (s *PlanStore) ListPlans(ctx context.Context, activeOnly bool) ([]plan.Plan, error) {
	rows, err := pg.Executor(ctx, s.pool).Query(ctx, `SELECT `+planColumns+` FROM plans
		WHERE NOT $1 OR is_active
		ORDER BY price_minor_units, id`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	out := []plan.Plan{}
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PlanStore) Retire(ctx context.Context, id string) error {
	tag, err := pg.Executor(ctx, s.pool).Exec(ctx, `UPDATE plans SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("retire plan %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return plan.ErrPlanNotFound
	}
	return nil
}

func scanPlan(row pgx.Row) (plan.Plan, error) {
	var p plan.Plan
	err := row.Scan(&p.ID, &p.Name, &p.PriceMinorUnits, &p.Currency, &p.DurationMonths, &p.HasTrial,
		&p.TrialDays, &p.BillingDay, &p.RetryEnabled, &p.MaxRetryAttempts, &p.RetryIntervalDays,
		&p.IsActive, &p.ProcessorPriceID, &p.CreatedAt)
	if err != nil {
		return plan.Plan{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}
