package ideadletterrepo

import (
	"context"

	"github.com/corray333/message-queue/internal/service/models/deadletter"
)

// IDeadLetterRepository stores undeliverable messages. The payload is
// raw bytes because dead-lettered bodies may not decode at all.
type IDeadLetterRepository interface {
	Persist(ctx context.Context, payload []byte, reason string) error
	FindAll(ctx context.Context) ([]deadletter.Record, error)
}
