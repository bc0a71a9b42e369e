package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/corray333/message-queue/internal/dal/postgres"
	"github.com/corray333/message-queue/internal/service/models/deadletter"
)

// DeadLetterRepository implements the dead-letter store for PostgreSQL.
type DeadLetterRepository struct {
	db postgres.Querier
}

// NewDeadLetterRepository creates a new dead-letter repository over a
// pool or an open transaction.
func NewDeadLetterRepository(db postgres.Querier) *DeadLetterRepository {
	return &DeadLetterRepository{
		db: db,
	}
}

// Persist stores an undeliverable payload with a human-readable reason.
func (r *DeadLetterRepository) Persist(ctx context.Context, payload []byte, reason string) error {
	query, args, err := sq.Insert("dead_letter_messages").
		Columns("payload", "reason", "created_at").
		Values(payload, reason, time.Now()).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert query: %w", err)
	}

	_, err = r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to insert dead letter: %w", err)
	}

	return nil
}

// FindAll retrieves every dead-letter record, oldest first.
func (r *DeadLetterRepository) FindAll(ctx context.Context) ([]deadletter.Record, error) {
	query, args, err := sq.Select("id", "payload", "reason", "created_at").
		From("dead_letter_messages").
		OrderBy("created_at ASC").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}
	defer rows.Close()

	var records []deadletter.Record
	for rows.Next() {
		var rec deadletter.Record
		if err := rows.Scan(&rec.ID, &rec.Payload, &rec.Reason, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dead letters: %w", err)
	}

	return records, nil
}
