package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/clinicbilling/pkg/events"
)

func TestPublishJSON(t *testing.T) {
	t.Parallel()

	pub := events.NewMemoryPublisher()
	err := events.PublishJSON(context.Background(), pub, "subscription.active", map[string]string{"id": "s1"})
	require.NoError(t, err)

	msgs := pub.Messages("subscription.active")
	require.Len(t, msgs, 1)

	var body map[string]string
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &body))
	assert.Equal(t, "s1", body["id"])

	assert.Empty(t, pub.Messages("subscription.cancelled"))
	assert.Len(t, pub.Messages(""), 1)
}

func TestPublishJSON_EncodeError(t *testing.T) {
	t.Parallel()

	pub := events.NewMemoryPublisher()
	err := events.PublishJSON(context.Background(), pub, "x", make(chan int))
	require.Error(t, err)
	assert.Empty(t, pub.Messages(""))
}

func TestMemoryPublisher_Failures(t *testing.T) {
	t.Parallel()

	pub := events.NewMemoryPublisher()
	boom := errors.New("broker down")

	pub.FailWith(boom)
	err := pub.Publish(context.Background(), "k", []byte("{}"))
	assert.ErrorIs(t, err, events.ErrPublish)
	assert.ErrorIs(t, err, boom)

	pub.FailWith(nil)
	require.NoError(t, pub.Publish(context.Background(), "k", []byte("{}")))

	require.NoError(t, pub.Close())
	assert.ErrorIs(t, pub.Publish(context.Background(), "k", nil), events.ErrPublisherClose)
}

func TestLogPublisher(t *testing.T) {
	t.Parallel()

	pub := events.NewLogPublisher()
	require.NoError(t, pub.Publish(context.Background(), "k", []byte("{}")))
	require.NoError(t, pub.Close())
}

func TestNewRabbitMQPublisher_EmptyURL(t *testing.T) {
	t.Parallel()

	_, err := events.NewRabbitMQPublisher(context.Background(), events.Config{})
	assert.ErrorIs(t, err, events.ErrEmptyURL)
}

func TestRabbitMQPublisher(t *testing.T) {
	url := os.Getenv("AMQP_TEST_URL")
	if url == "" {
		t.Skip("AMQP_TEST_URL not set")
	}

	ctx := context.Background()
	pub, err := events.NewRabbitMQPublisher(ctx, events.Config{URL: url, Exchange: "clinicbilling.test"})
	require.NoError(t, err)

	require.NoError(t, events.PublishJSON(ctx, pub, "subscription.active", map[string]string{"id": "s1"}))
	require.NoError(t, pub.Close())
	require.NoError(t, pub.Close())
	assert.ErrorIs(t, pub.Publish(ctx, "k", nil), events.ErrPublisherClose)
}
