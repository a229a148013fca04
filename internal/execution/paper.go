// Package execution provides a paper-trading venue: an in-memory
// simulator behind the same interface as the live exchange client. Used
// in dry-run mode so the engine's exchange reads never touch a real
// venue.
package execution

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"market_maker/internal/domain"
)

// PaperExecution simulates a perpetual venue for one symbol. Orders rest
// until explicitly filled via Fill; positions and fills are tracked the
// way the live venue reports them.
type PaperExecution struct {
	symbol string

	mu       sync.Mutex
	nextOid  int64
	orders   map[string]domain.OpenOrder
	position decimal.Decimal
	entry    decimal.Decimal
	fills    []domain.FillEvent
	leverage int
}

// NewPaperExecution creates an empty simulator for symbol.
func NewPaperExecution(symbol string) *PaperExecution {
	return &PaperExecution{
		symbol:  symbol,
		nextOid: 1,
		orders:  make(map[string]domain.OpenOrder),
	}
}

// PlaceOrder rests the order and acknowledges it in the venue's resting
// shape.
func (p *PaperExecution) PlaceOrder(ctx context.Context, side domain.Side, price, size decimal.Decimal, clientID string) ([]byte, error) {
	if !price.IsPositive() || !size.IsPositive() {
		return nil, domain.NewRejectionError("place", fmt.Errorf("non-positive price or size"))
	}

	p.mu.Lock()
	oid := p.nextOid
	p.nextOid++
	p.orders[clientID] = domain.OpenOrder{
		ClientID:   clientID,
		ExchangeID: strconv.FormatInt(oid, 10),
		Side:       side,
		Price:      price,
		Size:       size,
	}
	p.mu.Unlock()

	ack := fmt.Sprintf(`{"status":{"resting":[{"oid":%d}]}}`, oid)
	return []byte(ack), nil
}

// CancelOrder removes a resting order. Unknown orders are rejected, as a
// real venue would.
func (p *PaperExecution) CancelOrder(ctx context.Context, clientID, exchangeID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.orders[clientID]; !ok {
		return domain.NewRejectionError("cancel", fmt.Errorf("order %s not resting", clientID))
	}
	delete(p.orders, clientID)
	return nil
}

// CancelAllOrders clears the book and reports how many were resting.
func (p *PaperExecution) CancelAllOrders(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.orders)
	p.orders = make(map[string]domain.OpenOrder)
	return n, nil
}

// GetOpenOrders returns all resting orders.
func (p *PaperExecution) GetOpenOrders(ctx context.Context) ([]domain.OpenOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	orders := make([]domain.OpenOrder, 0, len(p.orders))
	for _, o := range p.orders {
		orders = append(orders, o)
	}
	return orders, nil
}

// GetPosition returns the simulated position, nil when flat.
func (p *PaperExecution) GetPosition(ctx context.Context) (*domain.PositionUpdate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.position.IsZero() {
		return nil, nil
	}
	return &domain.PositionUpdate{
		Size:       p.position,
		EntryPrice: p.entry,
	}, nil
}

// SetLeverage records the requested leverage.
func (p *PaperExecution) SetLeverage(ctx context.Context, leverage int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leverage = leverage
	return nil
}

// Fill executes a resting order at its limit price, updating the
// simulated position, and returns the resulting fill event.
func (p *PaperExecution) Fill(clientID string) (domain.FillEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[clientID]
	if !ok {
		return domain.FillEvent{}, fmt.Errorf("order %s not resting", clientID)
	}
	delete(p.orders, clientID)

	delta := order.Size
	if order.Side == domain.SideSell {
		delta = delta.Neg()
	}
	newPosition := p.position.Add(delta)

	switch {
	case p.position.IsZero():
		p.entry = order.Price
	case p.position.Sign() == delta.Sign():
		oldNotional := p.position.Abs().Mul(p.entry)
		addNotional := delta.Abs().Mul(order.Price)
		p.entry = oldNotional.Add(addNotional).Div(p.position.Abs().Add(delta.Abs()))
	case newPosition.IsZero():
		p.entry = decimal.Zero
	case newPosition.Sign() != p.position.Sign():
		p.entry = order.Price
	}
	p.position = newPosition

	fill := domain.FillEvent{
		Symbol:   p.symbol,
		Side:     order.Side,
		Price:    order.Price,
		Size:     order.Size,
		ClientID: clientID,
		Time:     time.Now(),
	}
	p.fills = append(p.fills, fill)
	return fill, nil
}

// Fills returns all executed fills, oldest first.
func (p *PaperExecution) Fills() []domain.FillEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.FillEvent, len(p.fills))
	copy(out, p.fills)
	return out
}
