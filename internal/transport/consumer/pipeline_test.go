package consumer

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corray333/message-queue/internal/service/models/message"
	"github.com/corray333/message-queue/internal/service/services/claimsvc"
	"github.com/corray333/message-queue/internal/service/services/deliverysvc"
	"github.com/corray333/message-queue/internal/service/services/handlersvc"
	"github.com/corray333/message-queue/internal/service/services/queuesvc"
	"github.com/corray333/message-queue/internal/worker/mover"
)

// memoryScheduledRepo is an in-memory scheduled store honoring the
// contract's ordering: priority first, oldest delivery date breaking
// ties.
type memoryScheduledRepo struct {
	mu       sync.Mutex
	messages map[string]message.Message
}

func newMemoryScheduledRepo() *memoryScheduledRepo {
	return &memoryScheduledRepo{messages: make(map[string]message.Message)}
}

func (r *memoryScheduledRepo) FindDue(_ context.Context, limit int) ([]message.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	due := make([]message.Message, 0, len(r.messages))
	for _, msg := range r.messages {
		if !msg.DeliverAt.After(now) {
			due = append(due, msg)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}

		return due[i].DeliverAt.Before(due[j].DeliverAt)
	})

	if limit < len(due) {
		due = due[:limit]
	}

	return due, nil
}

func (r *memoryScheduledRepo) FindAll(_ context.Context) ([]message.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]message.Message, 0, len(r.messages))
	for _, msg := range r.messages {
		all = append(all, msg)
	}

	return all, nil
}

func (r *memoryScheduledRepo) Save(_ context.Context, msg message.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages[msg.ID] = msg

	return nil
}

func (r *memoryScheduledRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.messages, id)

	return nil
}

func (r *memoryScheduledRepo) FindFailed(_ context.Context) ([]message.FailedMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var failed []message.FailedMessage
	for _, msg := range r.messages {
		if msg.Tries > 0 {
			failed = append(failed, message.FailedMessage{Message: msg, Count: msg.Tries})
		}
	}

	return failed, nil
}

func (r *memoryScheduledRepo) CountStuck(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for _, msg := range r.messages {
		if msg.Tries >= message.MaxDeliveryTries {
			count++
		}
	}

	return count, nil
}

// memoryBroker captures publishes as envelope bodies with sequential
// wire ids, standing in for the delivery queue.
type memoryBroker struct {
	bodies [][]byte
}

func (b *memoryBroker) Send(msg message.Message, _ string) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	b.bodies = append(b.bodies, body)

	return nil
}

type memoryClaimStore struct {
	mu     sync.Mutex
	claims map[string]struct{}
}

func (s *memoryClaimStore) SetIfAbsent(_ context.Context, key string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.claims == nil {
		s.claims = make(map[string]struct{})
	}
	if _, ok := s.claims[key]; ok {
		return false, nil
	}
	s.claims[key] = struct{}{}

	return true, nil
}

// TestPipelineEndToEnd walks one message through the whole pipeline:
// enqueue into the scheduled store, move onto the broker, consume,
// deliver, acknowledge.
func TestPipelineEndToEnd(t *testing.T) {
	ctx := context.Background()

	repo := newMemoryScheduledRepo()
	queueSvc := queuesvc.MustNewMessageQueueService(queuesvc.WithScheduledRepository(repo))
	broker := &memoryBroker{}
	worker := mover.NewWorker(queueSvc, broker)

	// Enqueue a message that is already due.
	enqueued, err := queueSvc.Enqueue(ctx, []byte(`{"amount":10}`), "application/json", "billing",
		time.Now().Add(-time.Second), 8, nil)
	require.NoError(t, err)

	scheduled, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)

	// Move it onto the broker.
	moved := worker.MoveBatch(ctx, 10, nil)
	require.Equal(t, 1, moved)
	require.Len(t, broker.bodies, 1)

	scheduled, err = repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, scheduled, "moved message must leave the scheduled store")

	// Consume it.
	var delivered *message.Message
	registry := deliverysvc.NewRegistry()
	registry.Register("billing", func(_ context.Context, msg *message.Message) error {
		delivered = msg

		return nil
	})

	persistence := &fakePersistencePipeline{}
	msgHandler := handlersvc.NewMessageHandler(registry, persistence)
	guard := claimsvc.NewGuard(&memoryClaimStore{})
	deadLetters := &fakeDeadLetters{}
	amqpHandler := NewAmqpHandler(msgHandler, guard, deadLetters)

	ack := &fakeAcknowledger{}
	delivery := amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  1,
		MessageId:    "wire-1",
		Body:         broker.bodies[0],
	}

	require.NoError(t, amqpHandler.Handle(ctx, delivery))

	require.NotNil(t, delivered)
	assert.Equal(t, enqueued.ID, delivered.ID)
	assert.Equal(t, []byte(`{"amount":10}`), delivered.Payload)
	assert.Equal(t, 1, ack.acks)
	assert.Empty(t, deadLetters.reasons)

	// A broker redelivery of the same envelope is suppressed and acked.
	require.NoError(t, amqpHandler.Handle(ctx, delivery))
	assert.Equal(t, 2, ack.acks)
	assert.NotNil(t, delivered)
}

// TestPipelinePriorityOrdering enqueues equal-schedule messages with
// shuffled priorities and expects them on the broker highest first.
func TestPipelinePriorityOrdering(t *testing.T) {
	ctx := context.Background()

	repo := newMemoryScheduledRepo()
	queueSvc := queuesvc.MustNewMessageQueueService(queuesvc.WithScheduledRepository(repo))
	broker := &memoryBroker{}
	worker := mover.NewWorker(queueSvc, broker)

	deliverAt := time.Now().Add(-time.Second)
	for _, priority := range []int{9, 3, 1, 7, 5} {
		_, err := queueSvc.Enqueue(ctx, []byte(`{}`), "application/json", "billing", deliverAt, priority, nil)
		require.NoError(t, err)
	}

	require.Equal(t, 5, worker.MoveBatch(ctx, 10, nil))
	require.Len(t, broker.bodies, 5)

	var priorities []int
	for _, body := range broker.bodies {
		var msg message.Message
		require.NoError(t, json.Unmarshal(body, &msg))
		priorities = append(priorities, msg.Priority)
	}

	assert.Equal(t, []int{9, 7, 5, 3, 1}, priorities)
}

// TestPipelineFailedDeliveryReturnsToStore exercises the retry leg: a
// failing delivery must put the message back into the scheduled store
// with backoff applied.
func TestPipelineFailedDeliveryReturnsToStore(t *testing.T) {
	ctx := context.Background()

	repo := newMemoryScheduledRepo()
	queueSvc := queuesvc.MustNewMessageQueueService(queuesvc.WithScheduledRepository(repo))
	broker := &memoryBroker{}
	worker := mover.NewWorker(queueSvc, broker)

	enqueued, err := queueSvc.Enqueue(ctx, []byte(`{}`), "application/json", "billing",
		time.Now().Add(-time.Second), 5, nil)
	require.NoError(t, err)
	require.Equal(t, 1, worker.MoveBatch(ctx, 10, nil))

	registry := deliverysvc.NewRegistry()
	registry.Register("billing", func(_ context.Context, _ *message.Message) error {
		return assert.AnError
	})

	persistence := &fakePersistencePipeline{repo: repo}
	msgHandler := handlersvc.NewMessageHandler(registry, persistence)
	amqpHandler := NewAmqpHandler(msgHandler, claimsvc.NewGuard(&memoryClaimStore{}), &fakeDeadLetters{})

	ack := &fakeAcknowledger{}
	require.NoError(t, amqpHandler.Handle(ctx, amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  1,
		MessageId:    "wire-1",
		Body:         broker.bodies[0],
	}))

	// Recorded durably, so the broker copy is acknowledged.
	assert.Equal(t, 1, ack.acks)

	scheduled, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.Equal(t, enqueued.ID, scheduled[0].ID)
	assert.Equal(t, 1, scheduled[0].Tries)
	assert.True(t, scheduled[0].DeliverAt.After(enqueued.DeliverAt))

	failed, err := queueSvc.FailedMessages(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].Count)
}

// fakePersistencePipeline persists retries into the in-memory scheduled
// store when one is attached.
type fakePersistencePipeline struct {
	repo        *memoryScheduledRepo
	deadLetters []string
}

func (p *fakePersistencePipeline) Persist(ctx context.Context, msg *message.Message) error {
	if p.repo == nil {
		return nil
	}

	return p.repo.Save(ctx, *msg)
}

func (p *fakePersistencePipeline) PersistDeadLetter(_ context.Context, _ []byte, reason string) error {
	p.deadLetters = append(p.deadLetters, reason)

	return nil
}

func (p *fakePersistencePipeline) Rollback(_ context.Context) {}

func (p *fakePersistencePipeline) Reset() {}
