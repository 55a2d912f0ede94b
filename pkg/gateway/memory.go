package gateway

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/dmitrymomot/clinicbilling/pkg/subscription"
)

// Memory is an in-process Gateway. It keeps processor subscriptions in a map
// and never talks to the network. Used when no processor is configured.
type Memory struct {
	mu            sync.Mutex
	subscriptions map[string]*MemorySubscription
	byLocalID     map[string]string
	declines      map[string]string
	failures      map[string]error
	paid          []string
}

// MemorySubscription is the state Memory keeps per subscription.
type MemorySubscription struct {
	ID                string
	CustomerID        string
	PlanID            string
	UnitAmount        int64
	Cancelled         bool
	CancelAtPeriodEnd bool
}

// NewMemory creates an empty in-process gateway.
func NewMemory() *Memory {
	return &Memory{
		subscriptions: make(map[string]*MemorySubscription),
		byLocalID:     make(map[string]string),
		declines:      make(map[string]string),
		failures:      make(map[string]error),
	}
}

// Decline makes payments with the given payment method token, or retries of
// the given payment id, fail with a card decline.
func (m *Memory) Decline(tokenOrPaymentID, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.declines[tokenOrPaymentID] = code
}

// FailNext makes the next call of op ("create", "cancel", "change_plan",
// "retry_payment") return err.
func (m *Memory) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = err
}

// Subscription returns a copy of a processor subscription.
func (m *Memory) Subscription(processorSubscriptionID string) (MemorySubscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[processorSubscriptionID]
	if !ok {
		return MemorySubscription{}, false
	}
	return *s, true
}

// SubscriptionIDs returns the processor subscription ids, sorted.
func (m *Memory) SubscriptionIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.subscriptions))
}

// PaidInvoices returns the payment ids passed to RetryPayment, in order.
func (m *Memory) PaidInvoices() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.paid...)
}

func (m *Memory) CreateSubscription(_ context.Context, req CreateRequest) (CreateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("create"); err != nil {
		return CreateResult{}, err
	}
	if code, ok := m.declines[req.PaymentMethodToken]; ok {
		return CreateResult{}, Declined(code)
	}

	key := req.SubscriptionID.String()
	if id, ok := m.byLocalID[key]; ok {
		s := m.subscriptions[id]
		return CreateResult{ProcessorSubscriptionID: s.ID, ProcessorCustomerID: s.CustomerID, Status: "active"}, nil
	}

	s := &MemorySubscription{
		ID:         "sub_" + key,
		CustomerID: "cus_" + key,
		PlanID:     req.Terms.PlanID,
		UnitAmount: req.Terms.DiscountedPrice(req.DiscountPercentage),
	}
	m.subscriptions[s.ID] = s
	m.byLocalID[key] = s.ID

	status := "active"
	if req.Terms.HasTrial && req.Terms.TrialDays > 0 {
		status = "trialing"
	}
	return CreateResult{ProcessorSubscriptionID: s.ID, ProcessorCustomerID: s.CustomerID, Status: status}, nil
}

func (m *Memory) CancelSubscription(_ context.Context, processorSubscriptionID string, immediately bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("cancel"); err != nil {
		return err
	}
	s, ok := m.subscriptions[processorSubscriptionID]
	if !ok {
		return fmt.Errorf("%w: subscription %s", ErrNotFound, processorSubscriptionID)
	}
	if immediately {
		s.Cancelled = true
	} else {
		s.CancelAtPeriodEnd = true
	}
	return nil
}

func (m *Memory) ChangePlan(_ context.Context, req ChangePlanRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("change_plan"); err != nil {
		return err
	}
	s, ok := m.subscriptions[req.ProcessorSubscriptionID]
	if !ok {
		return fmt.Errorf("%w: subscription %s", ErrNotFound, req.ProcessorSubscriptionID)
	}
	if s.Cancelled {
		return subscription.External("change plan", fmt.Errorf("subscription %s is cancelled", s.ID))
	}
	s.PlanID = req.Terms.PlanID
	s.UnitAmount = req.Terms.DiscountedPrice(req.DiscountPercentage)
	return nil
}

func (m *Memory) RetryPayment(_ context.Context, processorPaymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("retry_payment"); err != nil {
		return err
	}
	if code, ok := m.declines[processorPaymentID]; ok {
		return Declined(code)
	}
	m.paid = append(m.paid, processorPaymentID)
	return nil
}

func (m *Memory) takeFailure(op string) error {
	err, ok := m.failures[op]
	if !ok {
		return nil
	}
	delete(m.failures, op)
	return err
}
