package domain

import "github.com/shopspring/decimal"

// PositionUpdate is the exchange's view of the account position for one
// symbol. Size is signed: positive long, negative short.
type PositionUpdate struct {
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	UnrealizedPnL decimal.Decimal
}
