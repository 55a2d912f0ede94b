package billing

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/clinicbilling/binder"
	"github.com/dmitrymomot/clinicbilling/handler"
	"github.com/dmitrymomot/clinicbilling/pkg/plan"
	"github.com/dmitrymomot/clinicbilling/pkg/webhook"
	svc "github.com/dmitrymomot/clinicbilling/svc/billing"
)

// MaxWebhookSize caps webhook payloads.
const MaxWebhookSize = 512 << 10

// errPayloadTooLarge rejects an oversized delivery as malformed.
var errPayloadTooLarge = handler.NewHTTPError(http.StatusBadRequest, webhook.ReasonMalformed)

type handlers struct {
	service   Service
	processor WebhookProcessor
	now       func() time.Time
}

type subscriptionRequest struct {
	ID      uuid.UUID `path:"id" query:"-"`
	Include []string  `query:"include"`
}

type cancelRequest struct {
	ID          uuid.UUID `path:"id" json:"-"`
	Immediately bool      `json:"immediately"`
}

type changePlanRequest struct {
	ID        uuid.UUID `path:"id" json:"-"`
	NewPlanID string    `json:"new_plan_id"`
}

type webhookRequest struct {
	Payload   []byte
	Signature string
}

// PlanView is the public representation of a plan.
type PlanView struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	PriceMinorUnits   int64  `json:"price_minor_units"`
	Currency          string `json:"currency"`
	DurationMonths    int    `json:"duration_months"`
	TrialDays         int    `json:"trial_days,omitempty"`
	BillingDay        *int   `json:"billing_day,omitempty"`
	RetryEnabled      bool   `json:"retry_enabled"`
	MaxRetryAttempts  int    `json:"max_retry_attempts,omitempty"`
	RetryIntervalDays int    `json:"retry_interval_days,omitempty"`
}

// WebhookResponse is the body of an accepted delivery.
type WebhookResponse struct {
	Status    webhook.Status  `json:"status"`
	EventID   string          `json:"event_id"`
	Outcome   webhook.Outcome `json:"outcome,omitempty"`
	Duplicate bool            `json:"duplicate,omitempty"`
}

func (h *handlers) create(ctx handler.Context, req svc.CreateParams) handler.Response {
	sub, err := h.service.Create(ctx, req)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(svc.NewView(sub, h.now()), handler.WithJSONStatus(http.StatusCreated))
}

func (h *handlers) get(ctx handler.Context, req subscriptionRequest) handler.Response {
	view, err := h.service.GetSubscription(ctx, req.ID, slices.Contains(req.Include, "retry"))
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(view)
}

func (h *handlers) cancel(ctx handler.Context, req cancelRequest) handler.Response {
	sub, err := h.service.Cancel(ctx, req.ID, req.Immediately)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(svc.NewView(sub, h.now()))
}

func (h *handlers) changePlan(ctx handler.Context, req changePlanRequest) handler.Response {
	sub, err := h.service.ChangePlan(ctx, req.ID, req.NewPlanID)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(svc.NewView(sub, h.now()))
}

func (h *handlers) listPlans(ctx handler.Context, _ struct{}) handler.Response {
	plans, err := h.service.ListPlans(ctx)
	if err != nil {
		return handler.Error(err)
	}
	views := make([]PlanView, 0, len(plans))
	for _, p := range plans {
		views = append(views, newPlanView(p))
	}
	return handler.JSON(views)
}

// webhook answers 200 for accepted and duplicate deliveries, 400 for
// rejected ones, and an error status when the sender should retry.
func (h *handlers) webhook(src webhook.Source) handler.HandlerFunc[webhookRequest] {
	return func(ctx handler.Context, req webhookRequest) handler.Response {
		res, err := h.processor.Handle(ctx, src, req.Payload, req.Signature)
		if err != nil {
			return handler.Error(err)
		}
		if res.Status == webhook.StatusRejected {
			return handler.Error(handler.NewHTTPError(http.StatusBadRequest, res.Reason))
		}
		return handler.JSON(WebhookResponse{
			Status:    res.Status,
			EventID:   res.EventID,
			Outcome:   res.Outcome,
			Duplicate: res.Duplicate,
		})
	}
}

func newPlanView(p plan.Plan) PlanView {
	return PlanView{
		ID:                p.ID,
		Name:              p.Name,
		PriceMinorUnits:   p.PriceMinorUnits,
		Currency:          p.Currency,
		DurationMonths:    p.DurationMonths,
		TrialDays:         p.TrialDays,
		BillingDay:        p.BillingDay,
		RetryEnabled:      p.RetryEnabled,
		MaxRetryAttempts:  p.MaxRetryAttempts,
		RetryIntervalDays: p.RetryIntervalDays,
	}
}

var jsonBinder = binder.JSON()

// optionalJSON binds a JSON body when there is one.
func optionalJSON(r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	return jsonBinder(r, v)
}

// rawBody keeps the payload byte for byte, as signatures are computed over it.
func rawBody(signatureHeader string) handler.Bind {
	return func(r *http.Request, v any) error {
		req, ok := v.(*webhookRequest)
		if !ok {
			return fmt.Errorf("raw body binder: unexpected target %T", v)
		}
		payload, err := io.ReadAll(io.LimitReader(r.Body, MaxWebhookSize+1))
		if err != nil {
			return handler.WithStatus(errors.Join(errors.New("read webhook body"), err), handler.ErrBadRequest)
		}
		if len(payload) > MaxWebhookSize {
			return errPayloadTooLarge
		}
		req.Payload = payload
		req.Signature = r.Header.Get(signatureHeader)
		return nil
	}
}
