package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors for order operations.
var (
	ErrEmptyItems     = errors.New("items required")
	ErrInvalidEmail   = errors.New("a valid customer email is required")
	ErrNotFound       = errors.New("order not found")
	ErrInvalidStatus  = errors.New("status must be PAID or FAILED")
	ErrStatusConflict = errors.New("order status is final")

	// ErrDuplicateLicenseKey is returned by Repository.Create when the
	// order's license key is already taken by another order.
	ErrDuplicateLicenseKey = errors.New("license key already issued")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InvalidQuantityError indicates a line item has a quantity below one.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be at least 1 for product %s", e.ProductID)
}

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
