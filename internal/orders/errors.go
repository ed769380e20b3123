package orders

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyOrder           = errors.New("order must contain at least one item")
	ErrInvalidProductID     = errors.New("invalid product id in order items")
	ErrInvalidQuantity      = errors.New("item quantity out of range")
	ErrDuplicateProduct     = errors.New("order contains duplicate products, combine quantities for the same product")
	ErrProductNotFound      = errors.New("product not found")
	ErrProductExists        = errors.New("product already exists")
	ErrOrderNotFound        = errors.New("order not found")
	ErrOrderExists          = errors.New("order already exists")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrConcurrencyConflict  = errors.New("concurrency conflict")
	ErrConcurrencyExhausted = errors.New("unable to complete order due to concurrent modifications, please try again")
)

// InsufficientStockError names the product that could not cover the request.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product '%s': available %d, requested %d",
		e.ProductName, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// IsValidation reports errors raised before any side effect.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyOrder) ||
		errors.Is(err, ErrInvalidProductID) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrDuplicateProduct)
}
