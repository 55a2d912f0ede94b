package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/clinicbilling/pkg/pg"
	"github.com/dmitrymomot/clinicbilling/pkg/webhook"
)

// EventLog implements webhook.EventLog on the webhook_events table.
type EventLog struct {
	pool *pgxpool.Pool
}

var _ webhook.EventLog = (*EventLog)(nil)

func NewEventLog(pool *pgxpool.Pool) *EventLog {
	return &EventLog{pool: pool}
}

func (l *EventLog) Record(ctx context.Context, rec webhook.Record) (webhook.Record, bool, error) {
	db := pg.Executor(ctx, l.pool)

	stored, err := scanRecord(db.QueryRow(ctx, `INSERT INTO webhook_events
			(source, event_id, type, received_at, processed_at, outcome, subscription_id, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source, event_id) DO NOTHING
		RETURNING `+recordColumns,
		rec.Source, rec.EventID, rec.Type, rec.ReceivedAt, rec.ProcessedAt, string(rec.Outcome),
		rec.SubscriptionID, rec.Detail))
	if err == nil {
		return stored, true, nil
	}
	if !pg.IsNotFoundError(err) {
		return webhook.Record{}, false, fmt.Errorf("record webhook event %s/%s: %w", rec.Source, rec.EventID, err)
	}

	existing, err := scanRecord(db.QueryRow(ctx, `SELECT `+recordColumns+`
		FROM webhook_events WHERE source = $1 AND event_id = $2`, rec.Source, rec.EventID))
	if err != nil {
		return webhook.Record{}, false, fmt.Errorf("load webhook event %s/%s: %w", rec.Source, rec.EventID, err)
	}
	return existing, false, nil
}

func (l *EventLog) MarkProcessed(ctx context.Context, source, eventID string, result webhook.Record) error {
	processedAt := time.Now().UTC()
	if result.ProcessedAt != nil {
		processedAt = *result.ProcessedAt
	}

	tag, err := pg.Executor(ctx, l.pool).Exec(ctx, `UPDATE webhook_events
		SET processed_at = $3, outcome = $4, subscription_id = $5, detail = $6
		WHERE source = $1 AND event_id = $2`,
		source, eventID, processedAt, string(result.Outcome), result.SubscriptionID, result.Detail)
	if err != nil {
		return fmt.Errorf("mark webhook event %s/%s: %w", source, eventID, err)
	}
	if tag.RowsAffected() == 0 {
		return webhook.ErrEventNotFound
	}
	return nil
}

const recordColumns = `source, event_id, type, received_at, processed_at, outcome, subscription_id, detail`

func scanRecord(row pgx.Row) (webhook.Record, error) {
	var (
		rec     webhook.Record
		outcome string
	)
	if err := row.Scan(&rec.Source, &rec.EventID, &rec.Type, &rec.ReceivedAt, &rec.ProcessedAt,
		&outcome, &rec.SubscriptionID, &rec.Detail); err != nil {
		return webhook.Record{}, err
	}
	rec.Outcome = webhook.Outcome(outcome)
	rec.ReceivedAt = rec.ReceivedAt.UTC()
	rec.ProcessedAt = utcPtr(rec.ProcessedAt)
	return rec, nil
}
