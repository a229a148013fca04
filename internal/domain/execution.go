package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Execution is the venue adapter the lifecycle manager trades through.
// Implementations wrap one exchange's REST surface; every method may fail
// transiently and is subject to the caller's retry policy.
type Execution interface {
	// PlaceOrder submits a limit order and returns the exchange's raw
	// acknowledgement payload. Payload shape varies by venue; the caller
	// extracts the assigned exchange order id from it.
	PlaceOrder(ctx context.Context, side Side, price, size decimal.Decimal, clientID string) ([]byte, error)

	CancelOrder(ctx context.Context, clientID, exchangeID string) error

	// CancelAllOrders cancels every resting order for the symbol and
	// returns the number of orders the exchange reports cancelling.
	CancelAllOrders(ctx context.Context) (int, error)

	GetOpenOrders(ctx context.Context) ([]OpenOrder, error)

	// GetPosition returns the current position, or nil when flat.
	GetPosition(ctx context.Context) (*PositionUpdate, error)

	SetLeverage(ctx context.Context, leverage int) error
}
