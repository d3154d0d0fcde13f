package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"

	"github.com/flicky/storefront/internal/docstore"
	"github.com/flicky/storefront/internal/model"
	"github.com/flicky/storefront/internal/repository"
)

type CartState int

const (
	CartUninitialized CartState = iota
	CartLoading
	CartReady
)

func (s CartState) String() string {
	switch s {
	case CartLoading:
		return "loading"
	case CartReady:
		return "ready"
	}
	return "uninitialized"
}

// CartRetry bounds AddToCartWithRetry.
type CartRetry struct {
	Attempts uint
	Delay    time.Duration
}

var DefaultCartRetry = CartRetry{Attempts: 3, Delay: time.Second}

// CartStore is the in-memory view of the signed-in user's cart. Every
// mutation is a transaction against the document store; the in-memory items
// only change after the transaction commits or the cart subscription
// delivers a newer revision.
type CartStore struct {
	changeNotifier

	store    docstore.Store
	carts    repository.CartRepository
	products repository.ProductRepository
	retry    CartRetry
	log      *slog.Logger

	mu          sync.RWMutex
	userID      string
	items       []model.CartItem
	revision    int64
	state       CartState
	errMsg      string
	unsubscribe func()
	// gen changes on every Attach/Detach; results from an older generation
	// are dropped.
	gen uint64
}

func NewCartStore(
	store docstore.Store,
	carts repository.CartRepository,
	products repository.ProductRepository,
	retry CartRetry,
	log *slog.Logger,
) *CartStore {
	return &CartStore{store: store, carts: carts, products: products, retry: retry, log: log}
}

// Attach loads the user's persisted cart and keeps it in sync with the
// document until Detach. The subscription is opened before the initial read
// so no write between the two is missed.
func (s *CartStore) Attach(ctx context.Context, user *model.User) error {
	s.Detach()

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.userID = user.ID
	s.state = CartLoading
	s.mu.Unlock()
	s.changed()

	log := s.log.With("user_id", user.ID)

	unsubscribe, err := s.carts.Watch(context.WithoutCancel(ctx), user.ID, func(cart *model.Cart) {
		s.apply(gen, cart)
	})
	if err != nil {
		return s.fail(gen, "sync cart", fmt.Errorf("%w: %w", ErrFetch, err))
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		unsubscribe()
		return nil
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	cart, err := s.carts.Get(ctx, user.ID)
	if err != nil {
		return s.fail(gen, "load cart", fmt.Errorf("%w: %w", ErrFetch, err))
	}
	s.apply(gen, cart)

	log.Debug("cart attached", "items", len(cart.Items))
	return nil
}

// Detach drops the subscription and resets the store to its empty state.
func (s *CartStore) Detach() {
	s.mu.Lock()
	s.gen++
	unsubscribe := s.unsubscribe
	wasAttached := s.userID != ""
	s.unsubscribe = nil
	s.userID = ""
	s.items = nil
	s.revision = 0
	s.state = CartUninitialized
	s.errMsg = ""
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if wasAttached {
		s.changed()
	}
}

// AddToCart adds quantity units of product, failing with ErrOutOfStock when
// the cart would hold more than the product's current stock.
func (s *CartStore) AddToCart(ctx context.Context, product model.Product, quantity int) error {
	userID, gen := s.session()
	if userID == "" {
		return s.fail(gen, "add to cart", ErrAuthRequired)
	}
	if quantity < 1 {
		return s.fail(gen, "add to cart", ErrInvalidQuantity)
	}

	var updated *model.Cart
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		p, err := s.products.GetForUpdate(ctx, tx, product.ID)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("%w: %s", ErrProductNotFound, product.ID)
		}
		cart, err := s.carts.GetForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}

		i := cart.IndexOf(p.ID)
		inCart := 0
		if i >= 0 {
			inCart = cart.Items[i].Quantity
		}
		if inCart+quantity > p.Stock {
			return fmt.Errorf("%w: %d of %q left", ErrOutOfStock, p.Stock, p.Name)
		}

		if i >= 0 {
			cart.Items[i].Quantity += quantity
		} else {
			cart.Items = append(cart.Items, model.CartItem{
				ProductID: p.ID,
				Quantity:  quantity,
				Price:     p.Price,
				Name:      p.Name,
				Image:     p.ImageURL,
			})
		}
		if err := s.carts.SaveTx(tx, cart); err != nil {
			return err
		}
		updated = cart
		return nil
	})
	if err != nil {
		return s.fail(gen, "add to cart", classifyTxError(err))
	}

	s.apply(gen, updated)
	s.log.Info("item added to cart", "user_id", userID, "product_id", product.ID, "quantity", quantity)
	return nil
}

// AddToCartWithRetry retries AddToCart while it fails with ErrOutOfStock,
// for stock that is being replenished. Any other error ends it.
func (s *CartStore) AddToCartWithRetry(ctx context.Context, product model.Product, quantity int) error {
	attempts := s.retry.Attempts
	if attempts == 0 {
		attempts = 1
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.AddToCart(ctx, product, quantity)
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, ErrOutOfStock) {
			s.log.Debug("add to cart retry", "product_id", product.ID, "error", err)
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(s.retry.Delay)),
		backoff.WithMaxTries(attempts),
	)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Unwrap()
	}
	return err
}

// UpdateQuantity sets the quantity of an item already in the cart.
func (s *CartStore) UpdateQuantity(ctx context.Context, productID string, quantity int) error {
	userID, gen := s.session()
	if userID == "" {
		return s.fail(gen, "update quantity", ErrAuthRequired)
	}
	if quantity < 1 {
		return s.fail(gen, "update quantity", ErrInvalidQuantity)
	}

	var updated *model.Cart
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		cart, err := s.carts.GetForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		i := cart.IndexOf(productID)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrCartItemNotFound, productID)
		}
		p, err := s.products.GetForUpdate(ctx, tx, productID)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		if quantity > p.Stock {
			return fmt.Errorf("%w: %d of %q left", ErrOutOfStock, p.Stock, p.Name)
		}

		cart.Items[i].Quantity = quantity
		if err := s.carts.SaveTx(tx, cart); err != nil {
			return err
		}
		updated = cart
		return nil
	})
	if err != nil {
		return s.fail(gen, "update quantity", classifyTxError(err))
	}

	s.apply(gen, updated)
	return nil
}

// RemoveFromCart drops the item for productID. Removing an item that is not
// in the cart succeeds without writing.
func (s *CartStore) RemoveFromCart(ctx context.Context, productID string) error {
	userID, gen := s.session()
	if userID == "" {
		return s.fail(gen, "remove from cart", ErrAuthRequired)
	}

	var current *model.Cart
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		cart, err := s.carts.GetForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		current = cart
		i := cart.IndexOf(productID)
		if i < 0 {
			return nil
		}
		cart.Items = slices.Delete(cart.Items, i, i+1)
		return s.carts.SaveTx(tx, cart)
	})
	if err != nil {
		return s.fail(gen, "remove from cart", classifyTxError(err))
	}

	s.apply(gen, current)
	return nil
}

func (s *CartStore) ClearCart(ctx context.Context) error {
	userID, gen := s.session()
	if userID == "" {
		return s.fail(gen, "clear cart", ErrAuthRequired)
	}

	var cleared *model.Cart
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		cart, err := s.carts.GetForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		cart.Items = []model.CartItem{}
		cleared = cart
		return s.carts.SaveTx(tx, cart)
	})
	if err != nil {
		return s.fail(gen, "clear cart", classifyTxError(err))
	}

	s.apply(gen, cleared)
	return nil
}

// Total is the sum of price times quantity over the current items.
func (s *CartStore) Total() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.CartSubtotal(s.items)
}

// Summary prices the current items with shipping and tax.
func (s *CartStore) Summary() model.PriceBreakdown {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.PriceCart(s.items)
}

func (s *CartStore) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, item := range s.items {
		n += item.Quantity
	}
	return n
}

func (s *CartStore) Items() []model.CartItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.items)
}

func (s *CartStore) State() CartState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *CartStore) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errMsg
}

func (s *CartStore) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *CartStore) session() (string, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.gen
}

// apply replaces the in-memory items with cart unless the store was
// re-attached since gen or already holds a newer revision.
func (s *CartStore) apply(gen uint64, cart *model.Cart) {
	s.mu.Lock()
	if gen != s.gen || (s.state == CartReady && cart.Revision < s.revision) {
		s.mu.Unlock()
		return
	}
	s.items = slices.Clone(cart.Items)
	s.revision = cart.Revision
	s.state = CartReady
	s.errMsg = ""
	s.mu.Unlock()
	s.changed()
}

func (s *CartStore) fail(gen uint64, op string, err error) error {
	s.mu.Lock()
	if gen == s.gen {
		s.errMsg = err.Error()
		if s.state == CartLoading {
			s.state = CartReady
		}
	}
	userID := s.userID
	s.mu.Unlock()
	s.changed()

	s.log.Warn(op+" failed", "user_id", userID, "error", err)
	return err
}
