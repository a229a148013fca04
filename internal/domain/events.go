package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is one level of an order book side. Size is always positive;
// a zero size on the wire means "remove this level" and is never stored.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// BookEvent is a decoded market-data message for the order-book replica.
type BookEvent interface {
	bookEvent()
}

// BookSnapshot is a full replacement of both book sides.
type BookSnapshot struct {
	Symbol string
	Bids   []PriceLevel
	Asks   []PriceLevel
	Seq    uint64
	Time   time.Time
}

// BookDelta is an incremental book update. Levels with zero size remove
// the corresponding price.
type BookDelta struct {
	Symbol string
	Bids   []PriceLevel
	Asks   []PriceLevel
	Seq    uint64
	Time   time.Time
}

func (BookSnapshot) bookEvent() {}
func (BookDelta) bookEvent()    {}

// FillEvent is an executed trade reported on the user stream.
type FillEvent struct {
	Symbol   string
	Side     Side
	Price    decimal.Decimal
	Size     decimal.Decimal
	Fee      decimal.Decimal
	ClientID string
	Time     time.Time
}

// OrderEvent is an order-status transition reported on the user stream.
type OrderEvent struct {
	ClientID   string
	ExchangeID string
	Status     OrderStatus
	Price      decimal.Decimal
	Size       decimal.Decimal
}

// PositionEvent is an account position update reported on the user stream.
type PositionEvent struct {
	Symbol     string
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
}

// UserEvent bundles the account-stream payloads that arrive in a single
// message. Any of the slices may be empty.
type UserEvent struct {
	Fills     []FillEvent
	Orders    []OrderEvent
	Positions []PositionEvent
}
