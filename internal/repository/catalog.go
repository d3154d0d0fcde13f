package repository

import (
	"context"

	"github.com/flicky/storefront/internal/model"
)

// Catalog exposes the product and category lists as one read source.
type Catalog struct {
	Products   ProductRepository
	Categories CategoryRepository
}

func (c Catalog) ListProducts(ctx context.Context) ([]model.Product, error) {
	return c.Products.List(ctx)
}

func (c Catalog) ListCategories(ctx context.Context) ([]model.Category, error) {
	return c.Categories.List(ctx)
}
