package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flicky/storefront/internal/docstore"
	"github.com/flicky/storefront/internal/model"
)

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
}

type docUserRepo struct{ store docstore.Store }

func NewUserRepository(store docstore.Store) UserRepository {
	return &docUserRepo{store: store}
}

type emailIndex struct {
	UserID string `json:"userId"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create claims the email index entry and writes the user in one
// transaction, so two sign-ups with the same email cannot both succeed.
func (r *docUserRepo) Create(ctx context.Context, user *model.User) error {
	user.ID = model.NewID()
	user.Email = normalizeEmail(user.Email)
	user.CreatedAt = time.Now().UTC()

	err := r.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		existing, err := tx.Get(ctx, CollectionUserEmails, user.Email)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrDuplicate
		}
		if err := docstore.TxSetJSON(tx, CollectionUserEmails, user.Email, emailIndex{UserID: user.ID}); err != nil {
			return err
		}
		return docstore.TxSetJSON(tx, CollectionUsers, user.ID, user)
	})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *docUserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	user, err := docstore.GetJSON[model.User](ctx, r.store, CollectionUsers, id)
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return user, nil
}

func (r *docUserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	idx, err := docstore.GetJSON[emailIndex](ctx, r.store, CollectionUserEmails, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	if idx == nil {
		return nil, nil
	}
	return r.GetByID(ctx, idx.UserID)
}
