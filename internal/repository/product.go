package repository

import (
	"context"
	"fmt"

	"github.com/flicky/storefront/internal/docstore"
	"github.com/flicky/storefront/internal/model"
)

type ProductRepository interface {
	GetByID(ctx context.Context, id string) (*model.Product, error)
	// GetForUpdate reads the authoritative product inside a transaction.
	GetForUpdate(ctx context.Context, tx docstore.Tx, id string) (*model.Product, error)
	List(ctx context.Context) ([]model.Product, error)
	Put(ctx context.Context, product *model.Product) error
}

type docProductRepo struct{ store docstore.Store }

func NewProductRepository(store docstore.Store) ProductRepository {
	return &docProductRepo{store: store}
}

func (r *docProductRepo) GetByID(ctx context.Context, id string) (*model.Product, error) {
	p, err := docstore.GetJSON[model.Product](ctx, r.store, CollectionProducts, id)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return withProductID(p, id), nil
}

func (r *docProductRepo) GetForUpdate(ctx context.Context, tx docstore.Tx, id string) (*model.Product, error) {
	p, err := docstore.TxGetJSON[model.Product](ctx, tx, CollectionProducts, id)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return withProductID(p, id), nil
}

func (r *docProductRepo) List(ctx context.Context) ([]model.Product, error) {
	docs, err := docstore.QueryJSON[model.Product](ctx, r.store, CollectionProducts, docstore.Query{OrderBy: "name"})
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	products := make([]model.Product, len(docs))
	for i, d := range docs {
		products[i] = *withProductID(&d.Value, d.ID)
	}
	return products, nil
}

func (r *docProductRepo) Put(ctx context.Context, product *model.Product) error {
	if product.ID == "" {
		product.ID = model.NewID()
	}
	if err := docstore.SetJSON(ctx, r.store, CollectionProducts, product.ID, product); err != nil {
		return fmt.Errorf("put product: %w", err)
	}
	return nil
}

// withProductID fills the id from the document key for documents written
// without one.
func withProductID(p *model.Product, id string) *model.Product {
	if p != nil && p.ID == "" {
		p.ID = id
	}
	return p
}
