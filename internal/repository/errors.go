package repository

import "errors"

const (
	CollectionProducts   = "products"
	CollectionCategories = "category"
	CollectionCarts      = "carts"
	CollectionOrders     = "orders"
	CollectionUsers      = "users"
	CollectionUserEmails = "user_emails"
)

var (
	ErrNotFound          = errors.New("resource not found")
	ErrDuplicate         = errors.New("duplicate resource")
	ErrInvalidTransition = errors.New("invalid status transition")
)
