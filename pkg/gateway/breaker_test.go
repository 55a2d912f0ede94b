package gateway_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/clinicbilling/pkg/gateway"
	"github.com/dmitrymomot/clinicbilling/pkg/subscription"
)

// countingGateway fails every call with err and counts calls.
type countingGateway struct {
	calls atomic.Int32
	err   error
}

func (g *countingGateway) CreateSubscription(context.Context, gateway.CreateRequest) (gateway.CreateResult, error) {
	g.calls.Add(1)
	if g.err != nil {
		return gateway.CreateResult{}, g.err
	}
	return gateway.CreateResult{ProcessorSubscriptionID: "sub_1"}, nil
}

func (g *countingGateway) CancelSubscription(context.Context, string, bool) error {
	g.calls.Add(1)
	return g.err
}

func (g *countingGateway) ChangePlan(context.Context, gateway.ChangePlanRequest) error {
	g.calls.Add(1)
	return g.err
}

func (g *countingGateway) RetryPayment(context.Context, string) error {
	g.calls.Add(1)
	return g.err
}

func TestBreaker(t *testing.T) {
	t.Parallel()

	cfg := gateway.BreakerConfig{MaxFailures: 2, OpenTimeout: time.Hour, HalfOpenRequests: 1}

	t.Run("passes results through", func(t *testing.T) {
		t.Parallel()
		next := &countingGateway{}
		b := gateway.NewBreaker(next, cfg)

		res, err := b.CreateSubscription(context.Background(), gateway.CreateRequest{})
		require.NoError(t, err)
		assert.Equal(t, "sub_1", res.ProcessorSubscriptionID)
		assert.Equal(t, "closed", b.State())
	})

	t.Run("opens after consecutive outages", func(t *testing.T) {
		t.Parallel()
		outage := subscription.External("stripe pay invoice", errors.New("connection refused"))
		next := &countingGateway{err: outage}
		b := gateway.NewBreaker(next, cfg)

		for range 2 {
			err := b.RetryPayment(context.Background(), "in_1")
			require.ErrorIs(t, err, subscription.ErrExternalService)
			require.NotErrorIs(t, err, gateway.ErrCircuitOpen)
		}
		assert.Equal(t, "open", b.State())

		err := b.CancelSubscription(context.Background(), "sub_1", true)
		require.ErrorIs(t, err, gateway.ErrCircuitOpen)
		assert.ErrorIs(t, err, subscription.ErrExternalService)
		assert.Equal(t, int32(2), next.calls.Load())
	})

	t.Run("declines do not trip", func(t *testing.T) {
		t.Parallel()
		next := &countingGateway{err: gateway.Declined("card_declined")}
		b := gateway.NewBreaker(next, cfg)

		for range 5 {
			err := b.ChangePlan(context.Background(), gateway.ChangePlanRequest{})
			require.ErrorIs(t, err, gateway.ErrPaymentDeclined)
		}
		assert.Equal(t, "closed", b.State())
		assert.Equal(t, int32(5), next.calls.Load())
	})

	t.Run("nil next panics", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { gateway.NewBreaker(nil, cfg) })
	})
}

func TestDeclineMessage(t *testing.T) {
	t.Parallel()

	assert.Contains(t, gateway.DeclineMessage("expired_card"), "expired")
	assert.Contains(t, gateway.DeclineMessage("insufficient_funds"), "insufficient funds")
	assert.Equal(t, gateway.DeclineMessage("something_new"), gateway.DeclineMessage(""))

	var de *gateway.DeclineError
	err := gateway.Declined("lost_card")
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "lost_card", de.Code)
	assert.Equal(t, gateway.DeclineMessage("lost_card"), de.Message())
	assert.Equal(t, "lost_card", gateway.DeclineCode(err))
}
