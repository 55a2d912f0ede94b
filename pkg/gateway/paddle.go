package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"

	whk "github.com/dmitrymomot/clinicbilling/pkg/webhook"
)

const (
	// SourcePaddle is the name of the Paddle event source.
	SourcePaddle = "paddle"

	// PaddleSignatureHeader carries the Paddle webhook signature.
	PaddleSignatureHeader = "Paddle-Signature"
)

// PaddleSource verifies and normalizes Paddle Billing webhook deliveries.
type PaddleSource struct {
	verifier *paddle.WebhookVerifier
}

// NewPaddleSource creates a Paddle webhook source.
func NewPaddleSource(cfg PaddleConfig) (*PaddleSource, error) {
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: PADDLE_WEBHOOK_SECRET is required", ErrInvalidConfig)
	}
	return &PaddleSource{verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret)}, nil
}

func (s *PaddleSource) Name() string { return SourcePaddle }

// Parse verifies the Paddle-Signature value and maps the event.
// The SDK verifier works on requests, so one is rebuilt around payload.
func (s *PaddleSource) Parse(ctx context.Context, payload []byte, signature string) (whk.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhooks/paddle", bytes.NewReader(payload))
	if err != nil {
		return whk.Event{}, errors.Join(whk.ErrMalformedPayload, err)
	}
	req.Header.Set(PaddleSignatureHeader, signature)

	valid, err := s.verifier.Verify(req)
	if err != nil {
		return whk.Event{}, errors.Join(whk.ErrInvalidSignature, err)
	}
	if !valid {
		return whk.Event{}, whk.ErrInvalidSignature
	}

	var ev paddleEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return whk.Event{}, errors.Join(whk.ErrMalformedPayload, err)
	}

	out := whk.Event{
		ID:     ev.EventID,
		Source: SourcePaddle,
		Type:   ev.EventType,
	}
	if ev.OccurredAt != "" {
		at, err := time.Parse(time.RFC3339Nano, ev.OccurredAt)
		if err != nil {
			return whk.Event{}, errors.Join(whk.ErrMalformedPayload, err)
		}
		out.OccurredAt = at.UTC()
	}

	switch ev.EventType {
	case "transaction.completed", "transaction.paid":
		out.Action = whk.ActionChargeSucceeded
		out.ProcessorSubscriptionID = ev.Data.SubscriptionID
		out.ProcessorPaymentID = ev.Data.ID
		out.Amount = ev.Data.total()
		out.PeriodEnd = ev.Data.periodEnd()

	case "transaction.payment_failed":
		out.Action = whk.ActionChargeFailed
		out.ProcessorSubscriptionID = ev.Data.SubscriptionID
		out.ProcessorPaymentID = ev.Data.ID
		out.Amount = ev.Data.total()
		out.DeclineCode = ev.Data.errorCode()

	case "subscription.canceled":
		out.Action = whk.ActionSubscriptionEnded
		out.ProcessorSubscriptionID = ev.Data.ID
	}

	if out.Action != whk.ActionNone && out.ProcessorSubscriptionID == "" {
		out.Action = whk.ActionNone
	}
	return out, nil
}

type paddleEvent struct {
	EventID    string     `json:"event_id"`
	EventType  string     `json:"event_type"`
	OccurredAt string     `json:"occurred_at"`
	Data       paddleData `json:"data"`
}

type paddleData struct {
	ID             string `json:"id"`
	SubscriptionID string `json:"subscription_id"`
	Details        *struct {
		Totals *struct {
			GrandTotal string `json:"grand_total"`
			Total      string `json:"total"`
		} `json:"totals"`
	} `json:"details"`
	BillingPeriod *struct {
		EndsAt string `json:"ends_at"`
	} `json:"billing_period"`
	Payments []struct {
		ErrorCode string `json:"error_code"`
	} `json:"payments"`
}

// total returns the transaction amount in minor units. Paddle sends amounts
// as decimal strings.
func (d paddleData) total() int64 {
	if d.Details == nil || d.Details.Totals == nil {
		return 0
	}
	v := d.Details.Totals.GrandTotal
	if v == "" {
		v = d.Details.Totals.Total
	}
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}

func (d paddleData) periodEnd() *time.Time {
	if d.BillingPeriod == nil || d.BillingPeriod.EndsAt == "" {
		return nil
	}
	end, err := time.Parse(time.RFC3339Nano, d.BillingPeriod.EndsAt)
	if err != nil {
		return nil
	}
	end = end.UTC()
	return &end
}

// errorCode returns the most recent payment error. Paddle lists payments
// newest first.
func (d paddleData) errorCode() string {
	for _, p := range d.Payments {
		if p.ErrorCode != "" {
			return p.ErrorCode
		}
	}
	return ""
}
