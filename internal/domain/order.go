package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side of an order or quote.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus is the lifecycle state of a tracked order.
type OrderStatus string

const (
	OrderActive          OrderStatus = "active"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderRejected        OrderStatus = "rejected"
)

// Terminal reports whether the status ends the order's lifecycle.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderRejected
}

// TrackedOrder is a resting order owned by the lifecycle manager's
// active-order table, keyed by ClientID. ExchangeID may be empty for a
// short window between placement and the exchange's acknowledgement.
type TrackedOrder struct {
	ClientID   string
	ExchangeID string
	Side       Side
	Price      decimal.Decimal
	Size       decimal.Decimal
	Status     OrderStatus
	CreatedAt  time.Time
}

// OpenOrder is an order as reported by the exchange's open-order list.
type OpenOrder struct {
	ClientID   string
	ExchangeID string
	Side       Side
	Price      decimal.Decimal
	Size       decimal.Decimal
}
