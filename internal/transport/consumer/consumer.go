package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/viper"
	"github.com/streadway/amqp"

	"github.com/corray333/message-queue/internal/dal/rabbitmq"
	"github.com/corray333/message-queue/internal/service/models/message"
)

// amqpHandler processes a single delivery end to end.
type amqpHandler interface {
	Handle(ctx context.Context, delivery amqp.Delivery) error
}

// amqpClient is the slice of the broker client the consumer loop needs.
type amqpClient interface {
	DeclareQueue(cfg rabbitmq.DeclareQueueConfig) (amqp.Queue, error)
	Consume(cfg rabbitmq.ConsumeConfig) (<-chan amqp.Delivery, error)
	CancelConsumer(consumerTag string) error
	Qos(prefetchCount int) error
}

// Consumer is the delivery-queue consumer loop. It dispatches one
// message at a time, synchronously; horizontal scaling means running
// more consumer processes, not more goroutines here.
type Consumer struct {
	client      amqpClient
	handler     amqpHandler
	queue       amqp.Queue
	consumerTag string
}

// MustNewConsumer creates a new Consumer, declares the delivery queue
// durable with priority support and caps prefetch at one delivery so
// the broker never buffers messages a one-at-a-time loop cannot ack.
func MustNewConsumer(client amqpClient, handler amqpHandler) *Consumer {
	queueName := viper.GetString("rabbitmq.queue")
	if queueName == "" {
		queueName = "delivery"
	}

	consumerTag := viper.GetString("rabbitmq.consumer_tag")
	if consumerTag == "" {
		consumerTag = "message-queue-worker"
	}

	queue, err := client.DeclareQueue(rabbitmq.DeclareQueueConfig{
		Name:    queueName,
		Durable: true,
		Args: amqp.Table{
			"x-max-priority": int32(message.MaxPriority),
		},
	})
	if err != nil {
		panic(err)
	}

	if err := client.Qos(1); err != nil {
		panic(err)
	}

	return &Consumer{
		client:      client,
		handler:     handler,
		queue:       queue,
		consumerTag: consumerTag,
	}
}

// Run consumes until the context is cancelled, restarting the bounded
// consume loop each time its wall-clock budget runs out.
func (c *Consumer) Run(ctx context.Context) error {
	maxSeconds := viper.GetInt("rabbitmq.consume_max_seconds")
	if maxSeconds == 0 {
		maxSeconds = 300
	}

	for {
		if err := c.StartConsuming(ctx, maxSeconds); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

// StartConsuming binds to the delivery queue and dispatches messages
// synchronously until the context is cancelled, the wall-clock budget
// elapses, or the broker closes the channel. Cancellation is
// cooperative: it is only observed between messages, never by
// interrupting an in-flight handler call. A handler error stops the
// loop and propagates.
func (c *Consumer) StartConsuming(ctx context.Context, maxSeconds int) error {
	deliveries, err := c.client.Consume(rabbitmq.ConsumeConfig{
		Queue:    c.queue.Name,
		Consumer: c.consumerTag,
		AutoAck:  false,
	})
	if err != nil {
		return err
	}

	slog.Info("Consumer started",
		"queue", c.queue.Name,
		"consumer_tag", c.consumerTag,
		"max_seconds", maxSeconds,
	)

	budget := time.NewTimer(time.Duration(maxSeconds) * time.Second)
	defer budget.Stop()

	for {
		select {
		case <-ctx.Done():
			// Idle, so it is safe to stop deliveries right away instead
			// of waiting for the next message.
			slog.Info("Stop requested, cancelling consumer", "consumer_tag", c.consumerTag)
			if err := c.client.CancelConsumer(c.consumerTag); err != nil {
				slog.Error("Failed to cancel consumer", "error", err)
			}

			return nil
		case <-budget.C:
			slog.Info("Consume time budget elapsed", "max_seconds", maxSeconds)
			if err := c.client.CancelConsumer(c.consumerTag); err != nil {
				slog.Error("Failed to cancel consumer", "error", err)
			}

			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				slog.Info("Delivery channel closed")

				return nil
			}

			if err := c.handler.Handle(ctx, delivery); err != nil {
				return err
			}
		}
	}
}
