package rabbitmq

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"github.com/corray333/message-queue/internal/service/models/message"
)

// publisher is the slice of an AMQP channel the producer needs.
type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
}

// IDGenerator generates wire-level message identities. The broker
// envelope id is what the consumer claims on, so it is generated per
// publish rather than reusing the entity id.
type IDGenerator interface {
	GenerateID() string
}

// UUIDGenerator generates UUID v4 identities.
type UUIDGenerator struct{}

func (UUIDGenerator) GenerateID() string {
	return uuid.NewString()
}

// Producer publishes queue messages to the delivery queue.
type Producer struct {
	channel  publisher
	idGen    IDGenerator
	declared map[string]struct{}
}

// NewProducer creates a new producer on top of an open AMQP channel.
func NewProducer(channel publisher, idGen IDGenerator) *Producer {
	return &Producer{
		channel:  channel,
		idGen:    idGen,
		declared: make(map[string]struct{}),
	}
}

// Send publishes the message to the given queue. The queue is declared
// durable with priority support before the first publish. The envelope
// carries an identity, the message priority and a timestamp.
func (p *Producer) Send(msg message.Message, queueName string) error {
	if err := p.setupQueue(queueName); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message %s: %w", msg.ID, err)
	}

	err = p.channel.Publish(
		"",
		queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    p.idGen.GenerateID(),
			Priority:     uint8(msg.Priority),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message %s: %w", msg.ID, err)
	}

	return nil
}

func (p *Producer) setupQueue(queueName string) error {
	if _, ok := p.declared[queueName]; ok {
		return nil
	}

	_, err := p.channel.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-max-priority": int32(message.MaxPriority),
		},
	)
	if err != nil {
		return err
	}

	p.declared[queueName] = struct{}{}

	return nil
}
