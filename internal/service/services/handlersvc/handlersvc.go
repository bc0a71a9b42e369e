package handlersvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/corray333/message-queue/internal/service/models/message"
)

// ErrUnrecoverablePersistence is the delivery collaborator's signal that
// its storage is unusable for this message. The broker message is
// acknowledged to stop a redelivery storm, and the error propagates so
// the supervisor restarts the worker on a clean state.
var ErrUnrecoverablePersistence = errors.New("persistent storage is unusable for this message")

// deliveryService performs the actual side effect of a message. It is
// opaque to the pipeline.
type deliveryService interface {
	Deliver(ctx context.Context, msg *message.Message) error
}

// persistenceClient is the handler's narrow view of durable storage.
type persistenceClient interface {
	Persist(ctx context.Context, msg *message.Message) error
	PersistDeadLetter(ctx context.Context, payload []byte, reason string) error
	Rollback(ctx context.Context)
	Reset()
}

// MessageHandler executes message delivery and owns the retry
// bookkeeping when it fails. It handles one message at a time.
type MessageHandler struct {
	delivery    deliveryService
	persistence persistenceClient

	// msg is the in-flight message; nil between deliveries. The
	// last-resort shutdown path keys on it.
	msg *message.Message
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(delivery deliveryService, persistence persistenceClient) *MessageHandler {
	return &MessageHandler{
		delivery:    delivery,
		persistence: persistence,
	}
}

// Handle delivers the message. A nil return means the broker message
// can be acknowledged: either delivery succeeded, or the failure was
// durably recorded (retry record or dead letter). A non-nil return
// means the worker's own storage is compromised; the caller decides the
// acknowledgement per the error kind and propagates it.
func (h *MessageHandler) Handle(ctx context.Context, msg *message.Message) (err error) {
	h.msg = msg
	defer func() {
		// Last-resort safety net: a panic out of the delivery call
		// would otherwise leave the broker message unacknowledged
		// forever, looping across worker restarts. Run the same
		// failure path, but only while the message is still marked in
		// flight.
		if r := recover(); r != nil && h.IsHandlingMessage() {
			err = h.OnError(ctx, fmt.Errorf("fatal error while handling message: %v", r))
		}
		h.msg = nil
		// Workers run for a long time; without a reset, state cached
		// for one message could leak into the next one.
		h.persistence.Reset()
	}()

	slog.Info("Delivering message", msg.LogAttrs()...)

	if deliverErr := h.delivery.Deliver(ctx, msg); deliverErr != nil {
		return h.OnError(ctx, deliverErr)
	}

	return nil
}

// IsHandlingMessage reports whether a message is currently in flight.
func (h *MessageHandler) IsHandlingMessage() bool {
	return h.msg != nil
}

// Shutdown is the last-resort failure path for faults that unwind the
// stack without going through the normal error flow. It only acts when
// a message is still marked in flight, so it is idempotent with Handle.
func (h *MessageHandler) Shutdown(ctx context.Context, cause error) error {
	if !h.IsHandlingMessage() {
		return nil
	}

	return h.OnError(ctx, cause)
}

// OnError runs the failure path for the in-flight message: roll back
// whatever transaction is still open, record the failure on the message
// and persist it back into the scheduled store so it retries later. If
// that persist fails, the message goes to the dead-letter store instead
// and the persistence error is returned so the broker message stays
// unacknowledged.
func (h *MessageHandler) OnError(ctx context.Context, cause error) error {
	// A failed delivery can leave an open transaction behind; it has to
	// go before any further store write.
	h.persistence.Rollback(ctx)

	if errors.Is(cause, ErrUnrecoverablePersistence) {
		return cause
	}

	msg := h.msg
	if msg == nil || msg.ID == "" {
		// The in-flight object is not a well-formed message, most
		// likely a decoding artifact. Calling Fail on it is unsafe, so
		// it goes straight to the dead-letter store.
		reason := fmt.Sprintf("cannot reschedule malformed message: %v", cause)
		slog.Error("Cannot reschedule queued message because it is malformed", "error", cause)

		raw, _ := json.Marshal(msg)
		if dlErr := h.persistence.PersistDeadLetter(ctx, raw, reason); dlErr != nil {
			slog.Error("Failed to dead-letter malformed message", "error", dlErr)
		}

		return nil
	}

	msg.Fail(cause)

	if persistErr := h.persistence.Persist(ctx, msg); persistErr != nil {
		// Most likely a unique constraint from a race or from
		// processing the same message twice. Keep it in the
		// dead-letter store so it can be monitored and fixed.
		raw, _ := json.Marshal(msg)
		reason := fmt.Sprintf("failed to reschedule message: %v", persistErr)
		if dlErr := h.persistence.PersistDeadLetter(ctx, raw, reason); dlErr != nil {
			slog.Error("Failed to dead-letter message after reschedule failure",
				"message_id", msg.ID,
				"error", dlErr,
			)
		}

		return fmt.Errorf("failed to persist retry record for message %s: %w", msg.ID, persistErr)
	}

	slog.Info("Message rescheduled for retry", msg.LogAttrs()...)

	return nil
}
