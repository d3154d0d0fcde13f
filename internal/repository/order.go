package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flicky/storefront/internal/docstore"
	"github.com/flicky/storefront/internal/model"
)

type OrderRepository interface {
	Create(ctx context.Context, order *model.Order) error
	GetByID(ctx context.Context, id string) (*model.Order, error)
	ListByUserID(ctx context.Context, userID string) ([]model.Order, error)
	// UpdateStatus applies a status transition atomically and returns the
	// updated order. It fails with ErrNotFound or ErrInvalidTransition.
	UpdateStatus(ctx context.Context, id string, status model.OrderStatus) (*model.Order, error)
}

type docOrderRepo struct {
	store docstore.Store
	now   func() time.Time
}

func NewOrderRepository(store docstore.Store) OrderRepository {
	return &docOrderRepo{store: store, now: time.Now}
}

// Create assigns the id and timestamps from the store side.
func (r *docOrderRepo) Create(ctx context.Context, order *model.Order) error {
	order.ID = model.NewID()
	order.CreatedAt = r.now().UTC()
	order.UpdatedAt = order.CreatedAt
	if err := docstore.SetJSON(ctx, r.store, CollectionOrders, order.ID, order); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *docOrderRepo) GetByID(ctx context.Context, id string) (*model.Order, error) {
	order, err := docstore.GetJSON[model.Order](ctx, r.store, CollectionOrders, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

func (r *docOrderRepo) ListByUserID(ctx context.Context, userID string) ([]model.Order, error) {
	docs, err := docstore.QueryJSON[model.Order](ctx, r.store, CollectionOrders,
		docstore.Where("userId", userID).Order("createdAt", true))
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	orders := make([]model.Order, len(docs))
	for i, d := range docs {
		orders[i] = d.Value
		if orders[i].ID == "" {
			orders[i].ID = d.ID
		}
	}
	return orders, nil
}

func (r *docOrderRepo) UpdateStatus(ctx context.Context, id string, status model.OrderStatus) (*model.Order, error) {
	var updated *model.Order
	err := r.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		order, err := docstore.TxGetJSON[model.Order](ctx, tx, CollectionOrders, id)
		if err != nil {
			return err
		}
		if order == nil {
			return fmt.Errorf("order %s: %w", id, ErrNotFound)
		}
		if !order.Status.CanTransitionTo(status) {
			return fmt.Errorf("order %s %s -> %s: %w", id, order.Status, status, ErrInvalidTransition)
		}
		order.Status = status
		order.UpdatedAt = r.now().UTC()
		updated = order
		return docstore.TxSetJSON(tx, CollectionOrders, id, order)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
		return nil, fmt.Errorf("update order status: %w", err)
	}
	return updated, nil
}
