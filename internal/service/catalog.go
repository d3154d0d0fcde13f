package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/flicky/storefront/internal/model"
)

type CatalogSource interface {
	ListProducts(ctx context.Context) ([]model.Product, error)
	ListCategories(ctx context.Context) ([]model.Category, error)
}

// CatalogStore holds the read-only product and category lists plus the
// category the view has selected.
type CatalogStore struct {
	changeNotifier

	source CatalogSource
	log    *slog.Logger

	mu         sync.RWMutex
	products   []model.Product
	categories []model.Category
	selected   string
	loading    bool
	errMsg     string
}

func NewCatalogStore(source CatalogSource, log *slog.Logger) *CatalogStore {
	return &CatalogStore{source: source, log: log}
}

// Load replaces both lists. On failure the previous lists are kept.
func (s *CatalogStore) Load(ctx context.Context) error {
	s.mu.Lock()
	s.loading = true
	s.errMsg = ""
	s.mu.Unlock()
	s.changed()

	products, err := s.source.ListProducts(ctx)
	if err != nil {
		return s.fail("failed to fetch products", err)
	}
	categories, err := s.source.ListCategories(ctx)
	if err != nil {
		return s.fail("failed to fetch categories", err)
	}

	s.mu.Lock()
	s.products = products
	s.categories = categories
	s.loading = false
	s.mu.Unlock()
	s.changed()

	s.log.Debug("catalog loaded", "products", len(products), "categories", len(categories))
	return nil
}

func (s *CatalogStore) fail(msg string, err error) error {
	s.mu.Lock()
	s.loading = false
	s.errMsg = msg
	s.mu.Unlock()
	s.changed()

	s.log.Error(msg, "error", err)
	return fmt.Errorf("%w: %s: %w", ErrFetch, msg, err)
}

// SelectCategory moves the category cursor; "" clears it.
func (s *CatalogStore) SelectCategory(id string) {
	s.mu.Lock()
	s.selected = id
	s.mu.Unlock()
	s.changed()
}

func (s *CatalogStore) SelectedCategory() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

func (s *CatalogStore) Products() []model.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.products)
}

func (s *CatalogStore) Categories() []model.Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.categories)
}

func (s *CatalogStore) Product(id string) (model.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.products {
		if p.ID == id {
			return p, true
		}
	}
	return model.Product{}, false
}

func (s *CatalogStore) ProductsInCategory(categoryID string) []model.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Product
	for _, p := range s.products {
		if p.CategoryID == categoryID {
			out = append(out, p)
		}
	}
	return out
}

func (s *CatalogStore) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *CatalogStore) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errMsg
}

type ProductSort string

const (
	SortFeatured     ProductSort = "featured"
	SortPriceLowHigh ProductSort = "price-low-high"
	SortPriceHighLow ProductSort = "price-high-low"
	SortStockHighLow ProductSort = "stock-high-low"
	SortStockLowHigh ProductSort = "stock-low-high"
)

// SortProducts returns a sorted copy. Featured and unknown orders keep the
// input order.
func SortProducts(products []model.Product, order ProductSort) []model.Product {
	out := slices.Clone(products)
	var cmp func(a, b model.Product) int
	switch order {
	case SortPriceLowHigh:
		cmp = func(a, b model.Product) int { return a.Price.Cmp(b.Price) }
	case SortPriceHighLow:
		cmp = func(a, b model.Product) int { return b.Price.Cmp(a.Price) }
	case SortStockHighLow:
		cmp = func(a, b model.Product) int { return b.Stock - a.Stock }
	case SortStockLowHigh:
		cmp = func(a, b model.Product) int { return a.Stock - b.Stock }
	default:
		return out
	}
	slices.SortStableFunc(out, cmp)
	return out
}
