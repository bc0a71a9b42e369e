package consumer

import (
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"

	"github.com/corray333/message-queue/internal/service/models/message"
)

const (
	reasonUndecodableBody = "it was not possible to decode the message body"
	reasonNotQueueMessage = "the message body is not a queue message"
)

// UnpackingError means a delivery body could not be turned into a queue
// message. Such deliveries are dead-lettered and acknowledged; retrying
// them can never succeed.
type UnpackingError struct {
	Reason string
	Err    error
}

func (e *UnpackingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}

	return e.Reason
}

func (e *UnpackingError) Unwrap() error {
	return e.Err
}

// unpack decodes the broker envelope body into a queue message.
func unpack(delivery amqp.Delivery) (*message.Message, error) {
	var msg message.Message
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		return nil, &UnpackingError{Reason: reasonUndecodableBody, Err: err}
	}

	if msg.ID == "" {
		return nil, &UnpackingError{Reason: reasonNotQueueMessage}
	}

	return &msg, nil
}
