package uow

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corray333/message-queue/internal/dal/interfaces/ideadletterrepo"
	"github.com/corray333/message-queue/internal/dal/interfaces/ischeduledrepo"
	"github.com/corray333/message-queue/internal/dal/postgres"
	deadletterrepo "github.com/corray333/message-queue/internal/dal/repositories/deadletter/postgres"
	scheduledrepo "github.com/corray333/message-queue/internal/dal/repositories/scheduled/postgres"
)

// UnitOfWork scopes repository calls to a single transaction. Outside a
// transaction the repositories run directly against the pool.
type UnitOfWork struct {
	pool           *pgxpool.Pool
	tx             pgx.Tx
	scheduledRepo  ischeduledrepo.IScheduledMessageRepository
	deadLetterRepo ideadletterrepo.IDeadLetterRepository
}

// NewUnitOfWork creates a unit of work bound to the pool.
func NewUnitOfWork(client *postgres.Client) *UnitOfWork {
	u := &UnitOfWork{
		pool: client.Pool(),
	}
	u.bind(client.Pool())

	return u
}

// ScheduledRepository returns the scheduled store, transaction-scoped if
// one is open.
func (u *UnitOfWork) ScheduledRepository() ischeduledrepo.IScheduledMessageRepository {
	return u.scheduledRepo
}

// DeadLetterRepository returns the dead-letter store, transaction-scoped
// if one is open.
func (u *UnitOfWork) DeadLetterRepository() ideadletterrepo.IDeadLetterRepository {
	return u.deadLetterRepo
}

// Begin opens a transaction and rebinds the repositories to it.
func (u *UnitOfWork) Begin(ctx context.Context) error {
	tx, err := u.pool.Begin(ctx)
	if err != nil {
		return err
	}

	u.tx = tx
	u.bind(tx)

	return nil
}

// Commit commits the open transaction, if any.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.tx == nil {
		return nil
	}

	err := u.tx.Commit(ctx)
	u.release()

	return err
}

// Rollback rolls back the open transaction, if any. Rolling back an
// already-closed transaction is not an error.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	if u.tx == nil {
		return nil
	}

	err := u.tx.Rollback(ctx)
	u.release()

	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}

	return nil
}

// InTransaction reports whether a transaction is open.
func (u *UnitOfWork) InTransaction() bool {
	return u.tx != nil
}

func (u *UnitOfWork) release() {
	u.tx = nil
	u.bind(u.pool)
}

func (u *UnitOfWork) bind(db postgres.Querier) {
	u.scheduledRepo = scheduledrepo.NewScheduledMessageRepository(db)
	u.deadLetterRepo = deadletterrepo.NewDeadLetterRepository(db)
}
