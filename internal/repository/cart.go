package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/flicky/storefront/internal/docstore"
	"github.com/flicky/storefront/internal/model"
)

// CartRepository stores one cart document per user, keyed by user id. A
// missing document reads as an empty cart.
type CartRepository interface {
	Get(ctx context.Context, userID string) (*model.Cart, error)
	GetForUpdate(ctx context.Context, tx docstore.Tx, userID string) (*model.Cart, error)
	Save(ctx context.Context, cart *model.Cart) error
	SaveTx(tx docstore.Tx, cart *model.Cart) error
	// Watch calls fn with the persisted cart after every write to it.
	Watch(ctx context.Context, userID string, fn func(*model.Cart)) (func(), error)
}

type docCartRepo struct {
	store docstore.Store
	now   func() time.Time
	log   *slog.Logger
}

func NewCartRepository(store docstore.Store, log *slog.Logger) CartRepository {
	return &docCartRepo{store: store, now: time.Now, log: log}
}

func (r *docCartRepo) Get(ctx context.Context, userID string) (*model.Cart, error) {
	cart, err := docstore.GetJSON[model.Cart](ctx, r.store, CollectionCarts, userID)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	return orEmptyCart(cart, userID), nil
}

func (r *docCartRepo) GetForUpdate(ctx context.Context, tx docstore.Tx, userID string) (*model.Cart, error) {
	cart, err := docstore.TxGetJSON[model.Cart](ctx, tx, CollectionCarts, userID)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	return orEmptyCart(cart, userID), nil
}

func (r *docCartRepo) Save(ctx context.Context, cart *model.Cart) error {
	r.stamp(cart)
	if err := docstore.SetJSON(ctx, r.store, CollectionCarts, cart.UserID, cart); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

func (r *docCartRepo) SaveTx(tx docstore.Tx, cart *model.Cart) error {
	r.stamp(cart)
	if err := docstore.TxSetJSON(tx, CollectionCarts, cart.UserID, cart); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

func (r *docCartRepo) Watch(ctx context.Context, userID string, fn func(*model.Cart)) (func(), error) {
	cancel, err := r.store.Subscribe(ctx, CollectionCarts, userID, func(data []byte) {
		var cart *model.Cart
		if data != nil {
			cart = &model.Cart{}
			if err := json.Unmarshal(data, cart); err != nil {
				r.log.Warn("decode cart change", "user_id", userID, "error", err)
				return
			}
		}
		fn(orEmptyCart(cart, userID))
	})
	if err != nil {
		return nil, fmt.Errorf("watch cart: %w", err)
	}
	return cancel, nil
}

func (r *docCartRepo) stamp(cart *model.Cart) {
	cart.Revision++
	cart.UpdatedAt = r.now().UTC()
	if cart.Items == nil {
		cart.Items = []model.CartItem{}
	}
}

func orEmptyCart(cart *model.Cart, userID string) *model.Cart {
	if cart == nil {
		return &model.Cart{UserID: userID, Items: []model.CartItem{}}
	}
	if cart.UserID == "" {
		cart.UserID = userID
	}
	if cart.Items == nil {
		cart.Items = []model.CartItem{}
	}
	return cart
}
