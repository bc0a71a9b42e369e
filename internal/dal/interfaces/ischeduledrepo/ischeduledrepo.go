package ischeduledrepo

import (
	"context"

	"github.com/corray333/message-queue/internal/service/models/message"
)

// IScheduledMessageRepository is the scheduled store contract. FindDue
// must return only messages whose delivery date has passed, highest
// priority first with oldest delivery date as tie-break; the mover's
// correctness depends on that ordering.
type IScheduledMessageRepository interface {
	FindDue(ctx context.Context, limit int) ([]message.Message, error)
	FindAll(ctx context.Context) ([]message.Message, error)
	Save(ctx context.Context, msg message.Message) error
	Delete(ctx context.Context, id string) error
	FindFailed(ctx context.Context) ([]message.FailedMessage, error)
	CountStuck(ctx context.Context) (int64, error)
}
