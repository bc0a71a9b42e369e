package queuesvc

import (
	"context"
	"fmt"
	"time"

	"github.com/corray333/message-queue/internal/dal/interfaces/ischeduledrepo"
	"github.com/corray333/message-queue/internal/dal/postgres"
	scheduledrepo "github.com/corray333/message-queue/internal/dal/repositories/scheduled/postgres"
	"github.com/corray333/message-queue/internal/service/models/message"
)

// MessageQueueService is the enqueue API and the scheduled-queue
// operations the mover works with.
type MessageQueueService struct {
	scheduledRepo ischeduledrepo.IScheduledMessageRepository
}

// option is a function that configures the MessageQueueService.
type option func(*MessageQueueService)

// MustNewMessageQueueService creates a new MessageQueueService.
func MustNewMessageQueueService(opts ...option) *MessageQueueService {
	s := &MessageQueueService{}
	for _, opt := range opts {
		opt(s)
	}

	if s.scheduledRepo == nil {
		panic("queuesvc: scheduled message repository is not configured")
	}

	return s
}

// WithPostgresClient backs the service with the Postgres scheduled
// store.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithPostgresClient(pgClient *postgres.Client) option {
	return func(s *MessageQueueService) {
		s.scheduledRepo = scheduledrepo.NewScheduledMessageRepository(pgClient.Pool())
	}
}

// WithScheduledRepository sets the scheduled store directly.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithScheduledRepository(repo ischeduledrepo.IScheduledMessageRepository) option {
	return func(s *MessageQueueService) {
		s.scheduledRepo = repo
	}
}

// Enqueue creates a message and persists it into the scheduled store,
// where the mover picks it up once it is due.
func (s *MessageQueueService) Enqueue(
	ctx context.Context,
	payload []byte,
	payloadType string,
	destination string,
	deliverAt time.Time,
	priority int,
	metadata map[string]string,
) (message.Message, error) {
	msg := message.New(payload, payloadType, destination, deliverAt, priority, metadata)

	if err := s.scheduledRepo.Save(ctx, msg); err != nil {
		return message.Message{}, fmt.Errorf("failed to schedule message: %w", err)
	}

	return msg, nil
}

// FindScheduled retrieves up to limit due messages in delivery order.
func (s *MessageQueueService) FindScheduled(ctx context.Context, limit int) ([]message.Message, error) {
	return s.scheduledRepo.FindDue(ctx, limit)
}

// Unschedule removes messages from the scheduled store.
func (s *MessageQueueService) Unschedule(ctx context.Context, msgs ...message.Message) error {
	for _, msg := range msgs {
		if err := s.scheduledRepo.Delete(ctx, msg.ID); err != nil {
			return fmt.Errorf("failed to unschedule message %s: %w", msg.ID, err)
		}
	}

	return nil
}

// FailedMessages lists messages that failed at least one delivery.
func (s *MessageQueueService) FailedMessages(ctx context.Context) ([]message.FailedMessage, error) {
	return s.scheduledRepo.FindFailed(ctx)
}

// StuckMessageCount counts messages at or over the try ceiling.
func (s *MessageQueueService) StuckMessageCount(ctx context.Context) (int64, error) {
	return s.scheduledRepo.CountStuck(ctx)
}
