package uow

import (
	"context"
	"log/slog"

	"github.com/corray333/message-queue/internal/dal/postgres"
	"github.com/corray333/message-queue/internal/service/models/message"
)

// PersistenceClient is the message handler's view of durable storage.
// Each consumed message gets its own transactional scope; the handler
// resets the client between messages so long-lived workers never carry
// state from one delivery into the next.
type PersistenceClient struct {
	work *UnitOfWork
}

// NewPersistenceClient creates a persistence client for the handler.
func NewPersistenceClient(client *postgres.Client) *PersistenceClient {
	return &PersistenceClient{
		work: NewUnitOfWork(client),
	}
}

// Persist writes the retry record back into the scheduled store in its
// own short transaction, so it is durable before the broker message is
// acknowledged.
func (p *PersistenceClient) Persist(ctx context.Context, msg *message.Message) error {
	if err := p.work.Begin(ctx); err != nil {
		return err
	}

	if err := p.work.ScheduledRepository().Save(ctx, *msg); err != nil {
		if rbErr := p.work.Rollback(ctx); rbErr != nil {
			slog.Error("Failed to roll back after save error", "error", rbErr)
		}

		return err
	}

	return p.work.Commit(ctx)
}

// PersistDeadLetter writes directly against the pool so it works even
// when the transactional path is broken.
func (p *PersistenceClient) PersistDeadLetter(ctx context.Context, payload []byte, reason string) error {
	return p.work.DeadLetterRepository().Persist(ctx, payload, reason)
}

// Rollback aborts whatever transaction is still open. It has to run
// before any further store write on the failure path.
func (p *PersistenceClient) Rollback(ctx context.Context) {
	if err := p.work.Rollback(ctx); err != nil {
		slog.Error("Failed to roll back transaction", "error", err)
	}
}

// Reset drops any dangling transaction reference between messages.
func (p *PersistenceClient) Reset() {
	if p.work.InTransaction() {
		if err := p.work.Rollback(context.Background()); err != nil {
			slog.Error("Failed to roll back stale transaction on reset", "error", err)
		}
	}
}
