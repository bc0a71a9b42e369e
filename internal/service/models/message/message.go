package message

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxDeliveryTries is the attempt ceiling. Messages at or over it are
	// considered stuck and surface through monitoring rather than being
	// discarded automatically.
	MaxDeliveryTries = 4

	MinPriority = 1
	MaxPriority = 10
)

// Message is a unit of deferred delivery. It lives in the scheduled
// store until due, rides the broker to a consumer, and returns to the
// store with an increased backoff when delivery fails.
type Message struct {
	ID          string            `json:"id"`
	Destination string            `json:"destination"`
	Payload     []byte            `json:"payload"`
	PayloadType string            `json:"payload_type"`
	Priority    int               `json:"priority"`
	DeliverAt   time.Time         `json:"deliver_at"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Tries       int               `json:"tries"`
	Errors      string            `json:"errors"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// New builds a message scheduled for deliverAt. Priority is clamped to
// the broker's supported range.
func New(
	payload []byte,
	payloadType string,
	destination string,
	deliverAt time.Time,
	priority int,
	metadata map[string]string,
) Message {
	now := time.Now()

	return Message{
		ID:          uuid.NewString(),
		Destination: destination,
		Payload:     payload,
		PayloadType: payloadType,
		Priority:    clampPriority(priority),
		DeliverAt:   deliverAt,
		CreatedAt:   now,
		UpdatedAt:   now,
		Metadata:    metadata,
	}
}

// Fail records a delivery failure: the cause is appended to the error
// log, the try counter advances and the next attempt is pushed out by a
// quadratically growing backoff. The first retry happens a minute after
// the original schedule, the second four minutes later, the third nine.
func (m *Message) Fail(cause error) {
	now := time.Now()
	m.Errors += fmt.Sprintf("[%s] %v\n\n", now.Format(time.RFC3339), cause)
	m.Tries++
	m.DeliverAt = m.DeliverAt.Add(backoffForTry(m.Tries + 1))
	m.UpdatedAt = now
}

// backoffForTry returns how long to wait before the given attempt
// number, counted from the previous schedule.
func backoffForTry(try int) time.Duration {
	minutes := (try - 1) * (try - 1)

	return time.Duration(minutes) * time.Minute
}

// LogAttrs returns the message's identifying fields as slog key-value
// pairs.
func (m *Message) LogAttrs() []any {
	return []any{
		"message_id", m.ID,
		"destination", m.Destination,
		"deliver_at", m.DeliverAt,
		"created_at", m.CreatedAt,
		"updated_at", m.UpdatedAt,
		"tries", m.Tries,
		"priority", m.Priority,
		"payload_type", m.PayloadType,
	}
}

func clampPriority(priority int) int {
	if priority < MinPriority {
		return MinPriority
	}

	if priority > MaxPriority {
		return MaxPriority
	}

	return priority
}
