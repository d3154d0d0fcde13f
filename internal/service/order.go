package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/flicky/storefront/internal/events"
	"github.com/flicky/storefront/internal/model"
	"github.com/flicky/storefront/internal/repository"
)

// OrderStore keeps the signed-in user's orders, newest first.
type OrderStore struct {
	changeNotifier

	orders    repository.OrderRepository
	publisher events.Publisher
	log       *slog.Logger

	mu      sync.RWMutex
	userID  string
	list    []model.Order
	loading bool
	errMsg  string
	gen     uint64
}

// NewOrderStore builds an order store. publisher may be nil, in which case
// no order events are emitted.
func NewOrderStore(orders repository.OrderRepository, publisher events.Publisher, log *slog.Logger) *OrderStore {
	return &OrderStore{orders: orders, publisher: publisher, log: log}
}

func (s *OrderStore) Attach(ctx context.Context, user *model.User) error {
	s.mu.Lock()
	s.gen++
	s.userID = user.ID
	s.list = nil
	s.errMsg = ""
	s.mu.Unlock()
	return s.FetchOrders(ctx, user.ID)
}

func (s *OrderStore) Detach() {
	s.mu.Lock()
	s.gen++
	s.userID = ""
	s.list = nil
	s.loading = false
	s.errMsg = ""
	s.mu.Unlock()
	s.changed()
}

// FetchOrders replaces the in-memory list with every order of userID.
func (s *OrderStore) FetchOrders(ctx context.Context, userID string) error {
	gen := s.begin()

	orders, err := s.orders.ListByUserID(ctx, userID)
	if err != nil {
		return s.fail(gen, "Failed to fetch orders", fmt.Errorf("%w: %w", ErrFetch, err))
	}

	s.mu.Lock()
	if gen == s.gen {
		s.list = orders
		s.loading = false
	}
	s.mu.Unlock()
	s.changed()
	return nil
}

// CreateOrder persists a pending order priced from its items and returns
// its id. The cart is left alone.
func (s *OrderStore) CreateOrder(ctx context.Context, input model.CreateOrderInput) (string, error) {
	gen := s.begin()

	order := &model.Order{
		UserID:          input.UserID,
		Items:           slices.Clone(input.Items),
		Total:           model.PriceItems(input.Items).Total,
		Status:          model.OrderStatusPending,
		ShippingAddress: input.ShippingAddress,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return "", s.fail(gen, "Failed to create order", fmt.Errorf("%w: %w", ErrCreate, err))
	}

	log := s.log.With("order_id", order.ID, "user_id", order.UserID)
	log.Info("order created", "total", order.Total.StringFixed(2), "items", len(order.Items))

	if s.publisher != nil {
		msg := model.OrderMessage{OrderID: order.ID, UserID: order.UserID}
		if err := s.publisher.Publish(ctx, events.OrderQueue, msg); err != nil {
			log.Error("failed to publish order event", "error", err)
		}
	}

	// The order exists from here on; a failed refresh only leaves the list stale.
	if err := s.FetchOrders(ctx, input.UserID); err != nil {
		log.Warn("refresh orders after create", "error", err)
	}
	return order.ID, nil
}

// UpdateOrderStatus moves an order along its lifecycle and mirrors the change
// into the in-memory list.
func (s *OrderStore) UpdateOrderStatus(ctx context.Context, id string, status model.OrderStatus) error {
	gen := s.begin()

	updated, err := s.orders.UpdateStatus(ctx, id, status)
	if err != nil {
		return s.fail(gen, "Failed to update order status", fmt.Errorf("%w: %w", ErrUpdate, err))
	}

	s.mu.Lock()
	if gen == s.gen {
		for i := range s.list {
			if s.list[i].ID == id {
				s.list[i].Status = updated.Status
				s.list[i].UpdatedAt = updated.UpdatedAt
			}
		}
		s.loading = false
	}
	s.mu.Unlock()
	s.changed()

	s.log.Info("order status updated", "order_id", id, "status", status)
	return nil
}

func (s *OrderStore) OrderByID(id string) (model.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.list {
		if o.ID == id {
			return o, true
		}
	}
	return model.Order{}, false
}

func (s *OrderStore) Orders() []model.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.list)
}

func (s *OrderStore) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *OrderStore) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errMsg
}

func (s *OrderStore) begin() uint64 {
	s.mu.Lock()
	s.loading = true
	s.errMsg = ""
	gen := s.gen
	s.mu.Unlock()
	s.changed()
	return gen
}

func (s *OrderStore) fail(gen uint64, msg string, err error) error {
	s.mu.Lock()
	if gen == s.gen {
		s.loading = false
		s.errMsg = fmt.Sprintf("%s: %v", msg, err)
	}
	s.mu.Unlock()
	s.changed()

	s.log.Error(msg, "error", err)
	return err
}
