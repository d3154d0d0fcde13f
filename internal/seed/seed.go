// Package seed loads catalog fixtures into the document store.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/flicky/storefront/internal/model"
	"github.com/flicky/storefront/internal/repository"
)

var validate = validator.New()

type Fixture struct {
	Categories []CategoryFixture `yaml:"categories" validate:"dive"`
	Products   []ProductFixture  `yaml:"products" validate:"dive"`
}

type CategoryFixture struct {
	ID          string `yaml:"id" validate:"required"`
	Name        string `yaml:"name" validate:"required"`
	Description string `yaml:"description"`
	ImageURL    string `yaml:"imageUrl"`
}

// ProductFixture keeps the price as text so it is parsed exactly.
type ProductFixture struct {
	ID          string `yaml:"id" validate:"required"`
	Name        string `yaml:"name" validate:"required"`
	Description string `yaml:"description"`
	Price       string `yaml:"price" validate:"required,numeric"`
	CategoryID  string `yaml:"categoryId"`
	ImageURL    string `yaml:"imageUrl"`
	Stock       int    `yaml:"stock" validate:"gte=0"`
}

var ErrInvalidFixture = errors.New("invalid fixture")

// Decode reads and validates a YAML fixture.
func Decode(r io.Reader) (*Fixture, error) {
	var f Fixture
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	if err := validate.Struct(&f); err != nil {
		var validationErr validator.ValidationErrors
		if errors.As(err, &validationErr) {
			first := validationErr[0]
			return nil, fmt.Errorf("%w: %s fails %q", ErrInvalidFixture, first.Namespace(), first.Tag())
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidFixture, err)
	}
	return &f, nil
}

// Apply writes every category and product in a decoded fixture, overwriting
// documents with the same id. It returns the number of documents written.
func Apply(ctx context.Context, f *Fixture, products repository.ProductRepository, categories repository.CategoryRepository) (int, error) {
	written := 0
	for _, c := range f.Categories {
		err := categories.Put(ctx, &model.Category{
			ID:          c.ID,
			Name:        c.Name,
			Description: c.Description,
			ImageURL:    c.ImageURL,
		})
		if err != nil {
			return written, err
		}
		written++
	}

	for _, p := range f.Products {
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return written, fmt.Errorf("product %q: parse price: %w", p.Name, err)
		}
		if price.IsNegative() {
			return written, fmt.Errorf("%w: product %q has a negative price", ErrInvalidFixture, p.Name)
		}
		err = products.Put(ctx, &model.Product{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Price:       price,
			CategoryID:  p.CategoryID,
			ImageURL:    p.ImageURL,
			Stock:       p.Stock,
		})
		if err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}
