package order

import "context"

// PaymentGateway confirms payment for a freshly persisted order.
type PaymentGateway interface {
	Charge(ctx context.Context, o *Order) error
}

// StubGateway approves every charge. Real gateway integration lives outside
// this service; callbacks arrive through UpdateStatus.
type StubGateway struct{}

// Charge always succeeds.
func (StubGateway) Charge(context.Context, *Order) error { return nil }
