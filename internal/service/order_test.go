package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flicky/storefront/internal/docstore"
	"github.com/flicky/storefront/internal/events"
	"github.com/flicky/storefront/internal/model"
	"github.com/flicky/storefront/internal/repository"
)

type publishedEvent struct {
	queue string
	event any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, queue string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{queue: queue, event: event})
	return p.err
}

func (p *recordingPublisher) on(queue string) []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []any
	for _, e := range p.events {
		if e.queue == queue {
			out = append(out, e.event)
		}
	}
	return out
}

// failingOrders fails the operations whose error is set.
type failingOrders struct {
	repository.OrderRepository
	createErr error
	listErr   error
}

func (f *failingOrders) Create(ctx context.Context, order *model.Order) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.OrderRepository.Create(ctx, order)
}

func (f *failingOrders) ListByUserID(ctx context.Context, userID string) ([]model.Order, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.OrderRepository.ListByUserID(ctx, userID)
}

func sampleOrderItems() []model.OrderItem {
	return []model.OrderItem{
		{ID: "p1", Name: "Desk", Price: decimal.NewFromInt(100), Quantity: 2},
		{ID: "p2", Name: "Lamp", Price: decimal.NewFromInt(50), Quantity: 1},
	}
}

func TestOrderStore_CreateThenFetchIncludesPending(t *testing.T) {
	repo := repository.NewOrderRepository(docstore.NewMemoryStore())
	pub := &recordingPublisher{}
	orders := NewOrderStore(repo, pub, discardLogger())
	ctx := context.Background()

	id, err := orders.CreateOrder(ctx, model.CreateOrderInput{UserID: "u1", Items: sampleOrderItems()})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, orders.FetchOrders(ctx, "u1"))
	order, ok := orders.OrderByID(id)
	require.True(t, ok)
	assert.Equal(t, model.OrderStatusPending, order.Status)
	assert.Equal(t, "305.00", order.Total.StringFixed(2))
	assert.False(t, order.CreatedAt.IsZero())

	published := pub.on(events.OrderQueue)
	require.Len(t, published, 1)
	assert.Equal(t, model.OrderMessage{OrderID: id, UserID: "u1"}, published[0])
}

func TestOrderStore_FetchOrdersNewestFirst(t *testing.T) {
	repo := repository.NewOrderRepository(docstore.NewMemoryStore())
	orders := NewOrderStore(repo, nil, discardLogger())
	ctx := context.Background()

	first, err := orders.CreateOrder(ctx, model.CreateOrderInput{UserID: "u1", Items: sampleOrderItems()})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := orders.CreateOrder(ctx, model.CreateOrderInput{UserID: "u1", Items: sampleOrderItems()})
	require.NoError(t, err)
	_, err = orders.CreateOrder(ctx, model.CreateOrderInput{UserID: "u2", Items: sampleOrderItems()})
	require.NoError(t, err)

	require.NoError(t, orders.FetchOrders(ctx, "u1"))
	list := orders.Orders()
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID)
	assert.Equal(t, first, list[1].ID)
}

func TestOrderStore_FetchFailureKeepsList(t *testing.T) {
	repo := &failingOrders{OrderRepository: repository.NewOrderRepository(docstore.NewMemoryStore())}
	orders := NewOrderStore(repo, nil, discardLogger())
	ctx := context.Background()

	_, err := orders.CreateOrder(ctx, model.CreateOrderInput{UserID: "u1", Items: sampleOrderItems()})
	require.NoError(t, err)
	require.Len(t, orders.Orders(), 1)

	repo.listErr = errors.New("connection reset")
	err = orders.FetchOrders(ctx, "u1")
	assert.ErrorIs(t, err, ErrFetch)
	assert.Len(t, orders.Orders(), 1)
	assert.Contains(t, orders.Err(), "Failed to fetch orders")
	assert.False(t, orders.Loading())
}

func TestOrderStore_CreateFailure(t *testing.T) {
	repo := &failingOrders{
		OrderRepository: repository.NewOrderRepository(docstore.NewMemoryStore()),
		createErr:       errors.New("disk full"),
	}
	pub := &recordingPublisher{}
	orders := NewOrderStore(repo, pub, discardLogger())

	id, err := orders.CreateOrder(context.Background(), model.CreateOrderInput{UserID: "u1", Items: sampleOrderItems()})
	assert.ErrorIs(t, err, ErrCreate)
	assert.Empty(t, id)
	assert.Empty(t, pub.on(events.OrderQueue))
	assert.Contains(t, orders.Err(), "Failed to create order")
}

func TestOrderStore_PublishFailureDoesNotFailCreate(t *testing.T) {
	repo := repository.NewOrderRepository(docstore.NewMemoryStore())
	orders := NewOrderStore(repo, &recordingPublisher{err: errors.New("broker down")}, discardLogger())

	id, err := orders.CreateOrder(context.Background(), model.CreateOrderInput{UserID: "u1", Items: sampleOrderItems()})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestOrderStore_UpdateOrderStatus(t *testing.T) {
	repo := repository.NewOrderRepository(docstore.NewMemoryStore())
	orders := NewOrderStore(repo, nil, discardLogger())
	ctx := context.Background()

	id, err := orders.CreateOrder(ctx, model.CreateOrderInput{UserID: "u1", Items: sampleOrderItems()})
	require.NoError(t, err)

	require.NoError(t, orders.UpdateOrderStatus(ctx, id, model.OrderStatusProcessing))
	order, _ := orders.OrderByID(id)
	assert.Equal(t, model.OrderStatusProcessing, order.Status)

	stored, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusProcessing, stored.Status)

	err = orders.UpdateOrderStatus(ctx, id, model.OrderStatusPending)
	assert.ErrorIs(t, err, ErrUpdate)
	assert.ErrorIs(t, err, repository.ErrInvalidTransition)
	order, _ = orders.OrderByID(id)
	assert.Equal(t, model.OrderStatusProcessing, order.Status)

	err = orders.UpdateOrderStatus(ctx, "missing", model.OrderStatusCancelled)
	assert.ErrorIs(t, err, ErrUpdate)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestOrderStore_AttachDetach(t *testing.T) {
	repo := repository.NewOrderRepository(docstore.NewMemoryStore())
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &model.Order{UserID: "u1", Status: model.OrderStatusPending}))

	orders := NewOrderStore(repo, nil, discardLogger())
	require.NoError(t, orders.Attach(ctx, &model.User{ID: "u1"}))
	assert.Len(t, orders.Orders(), 1)

	orders.Detach()
	assert.Empty(t, orders.Orders())
}
