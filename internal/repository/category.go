package repository

import (
	"context"
	"fmt"

	"github.com/flicky/storefront/internal/docstore"
	"github.com/flicky/storefront/internal/model"
)

type CategoryRepository interface {
	List(ctx context.Context) ([]model.Category, error)
	Put(ctx context.Context, category *model.Category) error
}

type docCategoryRepo struct{ store docstore.Store }

func NewCategoryRepository(store docstore.Store) CategoryRepository {
	return &docCategoryRepo{store: store}
}

func (r *docCategoryRepo) List(ctx context.Context) ([]model.Category, error) {
	docs, err := docstore.QueryJSON[model.Category](ctx, r.store, CollectionCategories, docstore.Query{OrderBy: "name"})
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	categories := make([]model.Category, len(docs))
	for i, d := range docs {
		categories[i] = d.Value
		if categories[i].ID == "" {
			categories[i].ID = d.ID
		}
	}
	return categories, nil
}

func (r *docCategoryRepo) Put(ctx context.Context, category *model.Category) error {
	if category.ID == "" {
		category.ID = model.NewID()
	}
	if err := docstore.SetJSON(ctx, r.store, CollectionCategories, category.ID, category); err != nil {
		return fmt.Errorf("put category: %w", err)
	}
	return nil
}
