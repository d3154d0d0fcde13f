package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flicky/storefront/internal/events"
	"github.com/flicky/storefront/internal/model"
)

// Identity reports the signed-in user, or nil.
type Identity interface {
	CurrentUser() *model.User
}

// Checkout turns the signed-in user's cart into an order.
type Checkout struct {
	identity  Identity
	cart      *CartStore
	orders    *OrderStore
	publisher events.Publisher
	log       *slog.Logger
}

func NewCheckout(identity Identity, cart *CartStore, orders *OrderStore, publisher events.Publisher, log *slog.Logger) *Checkout {
	return &Checkout{identity: identity, cart: cart, orders: orders, publisher: publisher, log: log}
}

// PlaceOrder creates an order from the current cart items and then clears
// the cart. The cart is only cleared once the order exists.
//
// If the order is created but the cart cannot be cleared, the order id is
// returned together with an error wrapping ErrCartNotCleared. The order is
// not rolled back; the pair is logged and published for reconciliation.
func (c *Checkout) PlaceOrder(ctx context.Context, shipping *model.ShippingAddress) (string, error) {
	user := c.identity.CurrentUser()
	if user == nil {
		return "", ErrAuthRequired
	}

	items := c.cart.Items()
	if len(items) == 0 {
		return "", ErrEmptyCart
	}
	if shipping == nil {
		shipping = &model.ShippingAddress{}
	}

	orderID, err := c.orders.CreateOrder(ctx, model.CreateOrderInput{
		UserID:          user.ID,
		Items:           model.OrderItemsFromCart(items),
		ShippingAddress: shipping,
	})
	if err != nil {
		return "", fmt.Errorf("place order: %w", err)
	}

	if err := c.cart.ClearCart(ctx); err != nil {
		log := c.log.With("order_id", orderID, "user_id", user.ID)
		log.Error("order placed but cart not cleared, needs reconciliation", "error", err)
		if c.publisher != nil {
			msg := model.ReconcileMessage{OrderID: orderID, UserID: user.ID, Reason: err.Error()}
			if perr := c.publisher.Publish(ctx, events.ReconcileQueue, msg); perr != nil {
				log.Error("failed to publish reconcile event", "error", perr)
			}
		}
		return orderID, fmt.Errorf("%w: %w", ErrCartNotCleared, err)
	}

	c.log.Info("order placed", "order_id", orderID, "user_id", user.ID)
	return orderID, nil
}
