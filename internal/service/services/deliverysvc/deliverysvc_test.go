package deliverysvc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corray333/message-queue/internal/service/models/message"
)

func TestDeliverRoutesByDestination(t *testing.T) {
	registry := NewRegistry()

	var delivered *message.Message
	registry.Register("billing", func(_ context.Context, msg *message.Message) error {
		delivered = msg

		return nil
	})

	msg := message.New([]byte(`{"amount":10}`), "application/json", "billing", time.Now(), 5, nil)
	err := registry.Deliver(context.Background(), &msg)

	require.NoError(t, err)
	require.NotNil(t, delivered)
	assert.Equal(t, msg.ID, delivered.ID)
}

func TestDeliverUnknownDestinationFails(t *testing.T) {
	registry := NewRegistry()

	msg := message.New(nil, "", "nowhere", time.Now(), 5, nil)
	err := registry.Deliver(context.Background(), &msg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "nowhere")
}

func TestDeliverPropagatesHandlerError(t *testing.T) {
	registry := NewRegistry()
	handlerErr := errors.New("downstream unavailable")
	registry.Register("billing", func(_ context.Context, _ *message.Message) error {
		return handlerErr
	})

	msg := message.New(nil, "", "billing", time.Now(), 5, nil)
	err := registry.Deliver(context.Background(), &msg)

	assert.ErrorIs(t, err, handlerErr)
}

func TestLogDeliveryAlwaysSucceeds(t *testing.T) {
	msg := message.New(nil, "", "log", time.Now(), 5, nil)

	assert.NoError(t, NewLogDelivery()(context.Background(), &msg))
}
