package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the payment state of an order. PAID and FAILED are terminal.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusPaid    Status = "PAID"
	StatusFailed  Status = "FAILED"
)

// ParseStatus accepts only the statuses a payment callback may set.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPaid, StatusFailed:
		return st, nil
	default:
		return "", ErrInvalidStatus
	}
}

// Order is a purchase of one or more digital products. TotalAmount is always
// computed server-side from catalog prices at creation time.
type Order struct {
	ID            string
	CustomerEmail string
	TotalAmount   decimal.Decimal
	LicenseKey    string
	Status        Status
	Items         []OrderItem
	CreatedAt     time.Time
}

// OrderItem is a line of an order. Price is a snapshot of the catalog price
// and never changes after creation.
type OrderItem struct {
	ProductID   string
	ProductName string
	Price       decimal.Decimal
	Quantity    int
}

// HasProduct reports whether any line references productID.
func (o *Order) HasProduct(productID string) bool {
	for _, it := range o.Items {
		if it.ProductID == productID {
			return true
		}
	}
	return false
}

// Stats is the admin dashboard aggregate. Only PAID orders contribute to
// TotalRevenue.
type Stats struct {
	TotalRevenue decimal.Decimal
	TotalOrders  int
	RecentOrders []Order
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create persists the order and all of its items atomically.
	Create(ctx context.Context, o *Order) error
	FindByID(ctx context.Context, id string) (*Order, error)
	// UpdateStatus sets status when the order is PENDING or already has that
	// status, returning the status it had before. Returns ErrNotFound or
	// ErrStatusConflict.
	UpdateStatus(ctx context.Context, id string, status Status) (Status, error)
	ListByCustomer(ctx context.Context, email string) ([]Order, error)
	ListRecent(ctx context.Context, limit int) ([]Order, error)
	Stats(ctx context.Context, recent int) (*Stats, error)
}
