package service

import (
	"errors"
	"fmt"
)

var (
	ErrAuthRequired     = errors.New("please login to continue")
	ErrOutOfStock       = errors.New("product is out of stock")
	ErrInvalidQuantity  = errors.New("quantity must be at least 1")
	ErrEmptyCart        = errors.New("cart is empty")
	ErrFetch            = errors.New("fetch failed")
	ErrCreate           = errors.New("create failed")
	ErrUpdate           = errors.New("update failed")
	ErrTransaction      = errors.New("transaction failed")
	ErrProductNotFound  = errors.New("product not found")
	ErrCartItemNotFound = errors.New("cart item not found")
	ErrCartNotCleared   = errors.New("order placed but cart was not cleared")
)

// domainErrors pass through transaction wrapping unchanged.
var domainErrors = []error{ErrOutOfStock, ErrProductNotFound, ErrCartItemNotFound}

func classifyTxError(err error) error {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrTransaction, err)
}
