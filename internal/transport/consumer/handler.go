package consumer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"

	"github.com/corray333/message-queue/internal/service/models/message"
	"github.com/corray333/message-queue/internal/service/services/claimsvc"
	"github.com/corray333/message-queue/internal/service/services/handlersvc"
)

// messageHandler is the broker-agnostic delivery handler.
type messageHandler interface {
	Handle(ctx context.Context, msg *message.Message) error
}

// claimGuard deduplicates broker redeliveries.
type claimGuard interface {
	Claim(ctx context.Context, messageID string) error
}

// deadLetterStore terminally stores payloads that cannot be processed.
type deadLetterStore interface {
	Persist(ctx context.Context, payload []byte, reason string) error
}

// AmqpHandler adapts broker deliveries to the broker-agnostic message
// handler: it claims the envelope identity, decodes the body and owns
// the acknowledgement.
type AmqpHandler struct {
	handler     messageHandler
	guard       claimGuard
	deadLetters deadLetterStore
}

// NewAmqpHandler creates a new AMQP delivery handler.
func NewAmqpHandler(handler messageHandler, guard claimGuard, deadLetters deadLetterStore) *AmqpHandler {
	return &AmqpHandler{
		handler:     handler,
		guard:       guard,
		deadLetters: deadLetters,
	}
}

// Handle processes a single delivery: claim, decode, handle,
// acknowledge. A non-nil return means this worker's storage is
// compromised and the consumer loop should stop.
func (h *AmqpHandler) Handle(ctx context.Context, delivery amqp.Delivery) error {
	ctx, span := otel.Tracer("consumer").Start(ctx, "AmqpHandler.Handle")
	defer span.End()

	// The broker can and will deliver duplicates. Sending the side
	// effect twice is not idempotent for us, so deduplicate as early as
	// possible, before the body is even decoded, to keep the race
	// window between two consumers minimal.
	if err := h.guard.Claim(ctx, delivery.MessageId); err != nil {
		switch {
		case errors.Is(err, claimsvc.ErrAlreadyClaimed):
			h.logAlreadyClaimed(delivery)
			// Still acknowledge it, otherwise the broker keeps
			// redelivering exactly the duplicate we suppressed.
			return h.ack(delivery)
		case errors.Is(err, claimsvc.ErrCannotClaim):
			slog.Info("Delivery has no message id, processing without a claim",
				"delivery_tag", delivery.DeliveryTag,
			)
		default:
			// An unreachable claim store must not drop messages; a
			// rare duplicate side effect is the lesser evil.
			slog.Error("Claim store unavailable, processing without a claim", "error", err)
		}
	}

	msg, err := unpack(delivery)
	if err != nil {
		slog.Warn("Failed to unpack delivery", "error", err)
		if dlErr := h.deadLetters.Persist(ctx, delivery.Body, err.Error()); dlErr != nil {
			slog.Error("Failed to dead-letter undecodable delivery", "error", dlErr)
		}

		return h.ack(delivery)
	}

	if handleErr := h.handler.Handle(ctx, msg); handleErr != nil {
		if errors.Is(handleErr, handlersvc.ErrUnrecoverablePersistence) {
			// Acknowledge to stop a redelivery storm, then let the
			// error surface so the supervisor restarts the worker.
			slog.Warn("Unrecoverable persistence failure", "message_id", msg.ID, "error", handleErr)
			if ackErr := h.ack(delivery); ackErr != nil {
				slog.Error("Failed to ack after unrecoverable persistence failure", "error", ackErr)
			}

			return handleErr
		}

		// The retry record could not be written durably. Leave the
		// delivery unacknowledged so the broker tries again; acking now
		// would lose the message.
		return handleErr
	}

	return h.ack(delivery)
}

func (h *AmqpHandler) ack(delivery amqp.Delivery) error {
	if err := delivery.Ack(false); err != nil {
		slog.Error("Failed to ack delivery", "delivery_tag", delivery.DeliveryTag, "error", err)

		return err
	}

	return nil
}

// logAlreadyClaimed logs the suppressed duplicate with full message
// detail for audit.
func (h *AmqpHandler) logAlreadyClaimed(delivery amqp.Delivery) {
	attrs := []any{"amqp_message_id", delivery.MessageId}

	if msg, err := unpack(delivery); err == nil {
		attrs = append(attrs, msg.LogAttrs()...)
	} else {
		attrs = append(attrs, "body_size", len(delivery.Body))
	}

	slog.Info("Delivery was already claimed, suppressing duplicate", attrs...)
}
