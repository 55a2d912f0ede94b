package webhook

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Action is what a processor event means for the local ledger.
type Action string

const (
	// ActionNone marks events that are recorded but carry no ledger input.
	ActionNone            Action = ""
	ActionChargeSucceeded Action = "charge_succeeded"
	ActionChargeFailed    Action = "charge_failed"
	// ActionSubscriptionEnded is a cancellation made effective by the processor.
	ActionSubscriptionEnded Action = "subscription_ended"
)

// Event is a verified processor event, normalized across sources.
type Event struct {
	ID         string
	Source     string
	Type       string
	OccurredAt time.Time
	Action     Action

	ProcessorSubscriptionID string
	Amount                  int64
	ProcessorPaymentID      string
	DeclineCode             string
	PeriodEnd               *time.Time
}

// Source authenticates and decodes deliveries from one payment processor.
type Source interface {
	Name() string
	// Parse verifies signature over payload and decodes the event.
	// It returns ErrInvalidSignature or ErrMalformedPayload on rejection.
	Parse(ctx context.Context, payload []byte, signature string) (Event, error)
}

// Outcome records what happened to a processed event.
type Outcome string

const (
	OutcomeApplied             Outcome = "applied"
	OutcomeIgnored             Outcome = "ignored"
	OutcomeUnknownSubscription Outcome = "unknown_subscription"
	OutcomeAnomaly             Outcome = "anomaly"
	OutcomeAbsorbed            Outcome = "absorbed"
)

// Record is an entry of the dedup ledger.
type Record struct {
	EventID        string     `json:"event_id"`
	Source         string     `json:"source"`
	Type           string     `json:"type"`
	ReceivedAt     time.Time  `json:"received_at"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
	Outcome        Outcome    `json:"outcome,omitempty"`
	SubscriptionID *uuid.UUID `json:"subscription_id,omitempty"`
	Detail         string     `json:"detail,omitempty"`
}

// Processed reports whether the event already went through the pipeline.
func (r Record) Processed() bool {
	return r.ProcessedAt != nil
}
