package mover

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"

	"github.com/corray333/message-queue/internal/service/models/message"
)

// scheduledQueue yields due messages in delivery order and removes the
// ones that made it onto the broker.
type scheduledQueue interface {
	FindScheduled(ctx context.Context, limit int) ([]message.Message, error)
	Unschedule(ctx context.Context, msgs ...message.Message) error
}

// producer publishes messages onto the delivery queue.
type producer interface {
	Send(msg message.Message, queueName string) error
}

// Worker moves due messages from the scheduled store onto the delivery
// queue in batches.
type Worker struct {
	queue        scheduledQueue
	producer     producer
	queueName    string
	pollInterval time.Duration
	batchSize    int
	stopCh       chan struct{}
}

// NewWorker creates a new mover worker.
func NewWorker(queue scheduledQueue, producer producer) *Worker {
	queueName := viper.GetString("rabbitmq.queue")
	if queueName == "" {
		queueName = "delivery"
	}

	pollIntervalSeconds := viper.GetInt("mover.poll_interval_seconds")
	if pollIntervalSeconds == 0 {
		pollIntervalSeconds = 10
	}

	batchSize := viper.GetInt("mover.batch_size")
	if batchSize == 0 {
		batchSize = 100
	}

	return &Worker{
		queue:        queue,
		producer:     producer,
		queueName:    queueName,
		pollInterval: time.Duration(pollIntervalSeconds) * time.Second,
		batchSize:    batchSize,
		stopCh:       make(chan struct{}),
	}
}

// Start begins moving due messages on the poll interval.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	slog.Info("Mover worker started",
		"poll_interval", w.pollInterval,
		"batch_size", w.batchSize,
		"queue", w.queueName,
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Mover worker shutting down")

			return
		case <-w.stopCh:
			slog.Info("Mover worker stopped")

			return
		case <-ticker.C:
			w.MoveBatch(ctx, w.batchSize, nil)
		}
	}
}

// Stop stops the worker.
func (w *Worker) Stop() {
	close(w.stopCh)
}

// MoveBatch fetches up to batchSize due messages and moves each to the
// delivery queue independently: one bad message never halts the batch.
// It returns the number of messages fetched, not the number moved, so
// callers can watch the backlog drain rate. onTransferred, when set,
// runs after every attempted transfer.
func (w *Worker) MoveBatch(ctx context.Context, batchSize int, onTransferred func()) int {
	ctx, span := otel.Tracer("mover").Start(ctx, "Worker.MoveBatch")
	defer span.End()

	messages, err := w.queue.FindScheduled(ctx, batchSize)
	if err != nil {
		slog.Error("Failed to fetch due messages from scheduled store", "error", err)

		return 0
	}

	for _, msg := range messages {
		w.moveMessage(ctx, msg)
		if onTransferred != nil {
			onTransferred()
		}
	}

	return len(messages)
}

// moveMessage publishes one message and removes it from the scheduled
// store. This is deliberately not atomic across the two systems: a
// crash between publish and unschedule leaves a duplicate in the
// broker, which the claim guard deduplicates at consume time.
func (w *Worker) moveMessage(ctx context.Context, msg message.Message) {
	slog.Info("Moving scheduled message to delivery queue", msg.LogAttrs()...)

	if err := w.producer.Send(msg, w.queueName); err != nil {
		slog.Error("Failed to publish scheduled message",
			"message_id", msg.ID,
			"error", err,
		)

		return
	}

	if err := w.queue.Unschedule(ctx, msg); err != nil {
		// The message stays scheduled and will be published again on the
		// next poll; the consumer-side claim absorbs the duplicate.
		slog.Error("Failed to unschedule message after publish",
			"message_id", msg.ID,
			"error", err,
		)

		return
	}

	slog.Info("Successfully moved scheduled message to delivery queue", "message_id", msg.ID)
}
