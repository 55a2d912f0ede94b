package logger_test

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/clinicbilling/pkg/logger"
)

func TestError(t *testing.T) {
	err := errors.New("boom")
	attr := logger.Error(err)
	require.Equal(t, "error", attr.Key)
	assert.Equal(t, err, attr.Value.Any())

	assert.True(t, logger.Error(nil).Equal(slog.Attr{}))
}

func TestSubscriptionID(t *testing.T) {
	id := uuid.New()
	attr := logger.SubscriptionID(id)
	require.Equal(t, "subscription_id", attr.Key)
	assert.Equal(t, id, attr.Value.Any())

	assert.True(t, logger.SubscriptionID(nil).Equal(slog.Attr{}))
}

func TestBillingAttrs(t *testing.T) {
	tests := []struct {
		attr slog.Attr
		key  string
		want string
	}{
		{logger.CustomerID("clinic-7"), "customer_id", "clinic-7"},
		{logger.PlanID("pro-monthly"), "plan_id", "pro-monthly"},
		{logger.EventID("evt_1"), "event_id", "evt_1"},
		{logger.EventType("invoice.payment_failed"), "event_type", "invoice.payment_failed"},
		{logger.Source("stripe"), "source", "stripe"},
		{logger.Status("past_due"), "status", "past_due"},
		{logger.Attempt(2), "attempt", "2"},
		{logger.Component("ledger"), "component", "ledger"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			require.Equal(t, tt.key, tt.attr.Key)
			assert.Equal(t, tt.want, tt.attr.Value.String())
		})
	}
}

func TestRequestID(t *testing.T) {
	attr := logger.RequestID("abc")
	require.Equal(t, "request_id", attr.Key)
	assert.Equal(t, "abc", attr.Value.Any())

	assert.True(t, logger.RequestID(nil).Equal(slog.Attr{}))
}
