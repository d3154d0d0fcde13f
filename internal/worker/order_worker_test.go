package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flicky/storefront/internal/docstore"
	"github.com/flicky/storefront/internal/events"
	"github.com/flicky/storefront/internal/model"
	"github.com/flicky/storefront/internal/repository"
)

type ackResult struct {
	acked   bool
	nacked  bool
	requeue bool
}

type recordingAcker struct {
	mu      sync.Mutex
	results []ackResult
}

func (a *recordingAcker) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, ackResult{acked: true})
	return nil
}

func (a *recordingAcker) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, ackResult{nacked: true, requeue: requeue})
	return nil
}

func (a *recordingAcker) Reject(_ uint64, requeue bool) error {
	return a.Nack(0, false, requeue)
}

func (a *recordingAcker) last() ackResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.results[len(a.results)-1]
}

func (a *recordingAcker) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.results)
}

type fakeConsumer struct {
	queue string
	msgs  chan amqp.Delivery
}

func (c *fakeConsumer) Consume(queue, _ string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	c.queue = queue
	return c.msgs, nil
}

func setupWorker(t *testing.T) (*OrderWorker, repository.OrderRepository, *miniredis.Miniredis, *fakeConsumer) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	orders := repository.NewOrderRepository(docstore.NewMemoryStore())
	ch := &fakeConsumer{msgs: make(chan amqp.Delivery, 4)}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newOrderWorker(ch, orders, client, log), orders, mr, ch
}

func delivery(t *testing.T, acker *recordingAcker, msg model.OrderMessage) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: acker, Body: body}
}

func createPending(t *testing.T, orders repository.OrderRepository) *model.Order {
	t.Helper()
	order := &model.Order{UserID: "u1", Status: model.OrderStatusPending}
	require.NoError(t, orders.Create(context.Background(), order))
	return order
}

func TestOrderWorker_CompletesPendingOrder(t *testing.T) {
	w, orders, mr, _ := setupWorker(t)
	order := createPending(t, orders)
	acker := &recordingAcker{}

	w.processMessage(context.Background(), delivery(t, acker, model.OrderMessage{OrderID: order.ID, UserID: "u1"}))

	assert.True(t, acker.last().acked)
	stored, err := orders.GetByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCompleted, stored.Status)
	assert.True(t, mr.Exists(idempotencyKey(order.ID)))
}

func TestOrderWorker_ResumesProcessingOrder(t *testing.T) {
	w, orders, _, _ := setupWorker(t)
	order := createPending(t, orders)
	_, err := orders.UpdateStatus(context.Background(), order.ID, model.OrderStatusProcessing)
	require.NoError(t, err)
	acker := &recordingAcker{}

	w.processMessage(context.Background(), delivery(t, acker, model.OrderMessage{OrderID: order.ID}))

	assert.True(t, acker.last().acked)
	stored, _ := orders.GetByID(context.Background(), order.ID)
	assert.Equal(t, model.OrderStatusCompleted, stored.Status)
}

func TestOrderWorker_LeavesCancelledOrder(t *testing.T) {
	w, orders, _, _ := setupWorker(t)
	order := createPending(t, orders)
	_, err := orders.UpdateStatus(context.Background(), order.ID, model.OrderStatusCancelled)
	require.NoError(t, err)
	acker := &recordingAcker{}

	w.processMessage(context.Background(), delivery(t, acker, model.OrderMessage{OrderID: order.ID}))

	assert.True(t, acker.last().acked)
	stored, _ := orders.GetByID(context.Background(), order.ID)
	assert.Equal(t, model.OrderStatusCancelled, stored.Status)
}

func TestOrderWorker_SkipsAlreadyProcessed(t *testing.T) {
	w, orders, mr, _ := setupWorker(t)
	order := createPending(t, orders)
	require.NoError(t, mr.Set(idempotencyKey(order.ID), "1"))
	acker := &recordingAcker{}

	w.processMessage(context.Background(), delivery(t, acker, model.OrderMessage{OrderID: order.ID}))

	assert.True(t, acker.last().acked)
	stored, _ := orders.GetByID(context.Background(), order.ID)
	assert.Equal(t, model.OrderStatusPending, stored.Status)
}

func TestOrderWorker_DeadLettersFailures(t *testing.T) {
	w, _, _, _ := setupWorker(t)

	t.Run("malformed body", func(t *testing.T) {
		acker := &recordingAcker{}
		w.processMessage(context.Background(), amqp.Delivery{Acknowledger: acker, Body: []byte("{")})
		assert.Equal(t, ackResult{nacked: true}, acker.last())
	})

	t.Run("unknown order", func(t *testing.T) {
		acker := &recordingAcker{}
		w.processMessage(context.Background(), delivery(t, acker, model.OrderMessage{OrderID: "missing"}))
		assert.Equal(t, ackResult{nacked: true}, acker.last())
	})
}

func TestOrderWorker_RequeuesWhenRedisDown(t *testing.T) {
	w, orders, mr, _ := setupWorker(t)
	order := createPending(t, orders)
	mr.Close()
	acker := &recordingAcker{}

	w.processMessage(context.Background(), delivery(t, acker, model.OrderMessage{OrderID: order.ID}))

	assert.Equal(t, ackResult{nacked: true, requeue: true}, acker.last())
}

func TestOrderWorker_StartConsumesOrderQueue(t *testing.T) {
	w, orders, _, ch := setupWorker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	defer w.Stop()
	assert.Equal(t, events.OrderQueue, ch.queue)

	order := createPending(t, orders)
	acker := &recordingAcker{}
	ch.msgs <- delivery(t, acker, model.OrderMessage{OrderID: order.ID})

	require.Eventually(t, func() bool { return acker.count() == 1 }, time.Second, 10*time.Millisecond)
	stored, _ := orders.GetByID(context.Background(), order.ID)
	assert.Equal(t, model.OrderStatusCompleted, stored.Status)
}
