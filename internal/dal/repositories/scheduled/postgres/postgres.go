package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/corray333/message-queue/internal/dal/postgres"
	"github.com/corray333/message-queue/internal/service/models/message"
)

var messageColumns = []string{
	"id",
	"destination",
	"payload",
	"payload_type",
	"priority",
	"deliver_at",
	"created_at",
	"updated_at",
	"tries",
	"errors",
	"metadata",
}

// ScheduledMessageRepository implements the scheduled store for
// PostgreSQL.
type ScheduledMessageRepository struct {
	db postgres.Querier
}

// NewScheduledMessageRepository creates a new scheduled message
// repository over a pool or an open transaction.
func NewScheduledMessageRepository(db postgres.Querier) *ScheduledMessageRepository {
	return &ScheduledMessageRepository{
		db: db,
	}
}

// Save inserts a message into the scheduled store. Inserting the same
// message id twice fails on the primary key, which is the signal that a
// message was processed twice.
func (r *ScheduledMessageRepository) Save(ctx context.Context, msg message.Message) error {
	query, args, err := sq.Insert("scheduled_messages").
		Columns(messageColumns...).
		Values(
			msg.ID,
			msg.Destination,
			msg.Payload,
			msg.PayloadType,
			msg.Priority,
			msg.DeliverAt,
			msg.CreatedAt,
			msg.UpdatedAt,
			msg.Tries,
			msg.Errors,
			msg.Metadata,
		).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert query: %w", err)
	}

	_, err = r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to insert scheduled message: %w", err)
	}

	return nil
}

// FindDue retrieves up to limit messages whose delivery date has passed,
// highest priority first, oldest delivery date as tie-break.
func (r *ScheduledMessageRepository) FindDue(
	ctx context.Context,
	limit int,
) ([]message.Message, error) {
	query, args, err := sq.Select(messageColumns...).
		From("scheduled_messages").
		Where(sq.LtOrEq{"deliver_at": time.Now()}).
		OrderBy("priority DESC", "deliver_at ASC").
		Limit(uint64(limit)).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduled messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// FindAll retrieves every scheduled message.
func (r *ScheduledMessageRepository) FindAll(ctx context.Context) ([]message.Message, error) {
	query, args, err := sq.Select(messageColumns...).
		From("scheduled_messages").
		OrderBy("deliver_at ASC").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduled messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// Delete removes a message from the scheduled store.
func (r *ScheduledMessageRepository) Delete(ctx context.Context, id string) error {
	query, args, err := sq.Delete("scheduled_messages").
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete query: %w", err)
	}

	_, err = r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete scheduled message: %w", err)
	}

	return nil
}

// FindFailed retrieves messages that failed at least one delivery, with
// their attempt counts, newest schedule last.
func (r *ScheduledMessageRepository) FindFailed(ctx context.Context) ([]message.FailedMessage, error) {
	query, args, err := sq.Select(messageColumns...).
		From("scheduled_messages").
		Where(sq.Gt{"tries": 0}).
		OrderBy("deliver_at ASC").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	failed := make([]message.FailedMessage, 0, len(msgs))
	for _, msg := range msgs {
		failed = append(failed, message.FailedMessage{
			Message: msg,
			Count:   msg.Tries,
		})
	}

	return failed, nil
}

// CountStuck counts messages at or over the delivery try ceiling.
func (r *ScheduledMessageRepository) CountStuck(ctx context.Context) (int64, error) {
	query, args, err := sq.Select("COUNT(*)").
		From("scheduled_messages").
		Where(sq.GtOrEq{"tries": message.MaxDeliveryTries}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build count query: %w", err)
	}

	var count int64
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count stuck messages: %w", err)
	}

	return count, nil
}

func scanMessages(rows pgx.Rows) ([]message.Message, error) {
	var messages []message.Message
	for rows.Next() {
		var msg message.Message
		err := rows.Scan(
			&msg.ID,
			&msg.Destination,
			&msg.Payload,
			&msg.PayloadType,
			&msg.Priority,
			&msg.DeliverAt,
			&msg.CreatedAt,
			&msg.UpdatedAt,
			&msg.Tries,
			&msg.Errors,
			&msg.Metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheduled message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scheduled messages: %w", err)
	}

	return messages, nil
}
