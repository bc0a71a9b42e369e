package deliverysvc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/corray333/message-queue/internal/service/models/message"
)

// DeliveryFunc performs the side effect for one message.
type DeliveryFunc func(ctx context.Context, msg *message.Message) error

// Registry routes messages to the delivery function registered for
// their destination. The pipeline treats the functions as opaque.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]DeliveryFunc
}

// NewRegistry creates an empty delivery registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]DeliveryFunc),
	}
}

// Register binds a delivery function to a destination.
func (r *Registry) Register(destination string, fn DeliveryFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[destination] = fn
}

// Deliver dispatches the message to its destination's delivery function.
// An unknown destination is a delivery failure, so the message goes
// through the normal retry path and eventually shows up in monitoring.
func (r *Registry) Deliver(ctx context.Context, msg *message.Message) error {
	r.mu.RLock()
	fn, ok := r.handlers[msg.Destination]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no delivery handler registered for destination %q", msg.Destination)
	}

	return fn(ctx, msg)
}

// NewLogDelivery returns a delivery function that only logs the message.
// It is the default wiring for destinations without a real side effect.
func NewLogDelivery() DeliveryFunc {
	return func(_ context.Context, msg *message.Message) error {
		slog.Info("Delivered message", msg.LogAttrs()...)

		return nil
	}
}
