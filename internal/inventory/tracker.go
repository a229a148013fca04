package inventory

import (
	"sync"

	"github.com/shopspring/decimal"

	"market_maker/internal/domain"
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Config holds the capital and inventory parameters the tracker needs.
type Config struct {
	InitialCapital decimal.Decimal // account capital in quote currency
	Leverage       decimal.Decimal
	MaxPositionPct decimal.Decimal // fraction of levered capital usable as position, 0..1
	SkewThreshold  decimal.Decimal // dead-band half-width in inventory percent, 0..100
	BiasStrength   decimal.Decimal // size-adjustment strength, 0..1
	BaseNotional   decimal.Decimal // per-order notional in quote currency
}

// Tracker maintains the signed position, entry price and unrealized PnL,
// and derives the normalized inventory skew the grid strategy consumes.
// Mutated concurrently by the user-event feed and the decision loop; all
// access is serialized behind one mutex.
type Tracker struct {
	mu  sync.Mutex
	cfg Config

	size          decimal.Decimal // positive long, negative short
	entryPrice    decimal.Decimal
	unrealizedPnL decimal.Decimal

	// Price-dependent; recomputed every cycle, never cached across price
	// changes.
	maxPosition decimal.Decimal
}

// Info is a point-in-time snapshot of the tracker state.
type Info struct {
	Size          decimal.Decimal `json:"size"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	InventoryPct  decimal.Decimal `json:"inventory_pct"`
	Skew          decimal.Decimal `json:"inventory_skew"`
	MaxPosition   decimal.Decimal `json:"max_position"`
}

// NewTracker creates a flat tracker.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg}
}

// UpdateMaxPosition recomputes the position ceiling at the given price:
// capital * leverage * maxPositionPct / price.
func (t *Tracker) UpdateMaxPosition(price decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if price.IsZero() {
		t.maxPosition = decimal.Zero
		return
	}
	maxValue := t.cfg.InitialCapital.Mul(t.cfg.Leverage).Mul(t.cfg.MaxPositionPct)
	t.maxPosition = maxValue.Div(price)
}

// UpdatePosition overwrites the signed size. A non-nil entryPrice replaces
// the stored entry; unrealized PnL is recomputed when both entry and
// current price are known, otherwise reset to zero.
func (t *Tracker) UpdatePosition(size decimal.Decimal, entryPrice, currentPrice *decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.size = size
	if entryPrice != nil {
		t.entryPrice = *entryPrice
	}

	if currentPrice != nil && !t.entryPrice.IsZero() && !t.size.IsZero() {
		t.unrealizedPnL = currentPrice.Sub(t.entryPrice).Mul(t.size)
	} else {
		t.unrealizedPnL = decimal.Zero
	}
}

// InventoryPct returns the position as a percentage of the max position,
// in [-100, 100] under normal operation. Zero when no ceiling is set.
func (t *Tracker) InventoryPct() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inventoryPctLocked()
}

func (t *Tracker) inventoryPctLocked() decimal.Decimal {
	if t.maxPosition.IsZero() {
		return decimal.Zero
	}
	return t.size.Div(t.maxPosition).Mul(hundred)
}

// Skew returns the normalized inventory skew in [-1, 1]. Inside the
// symmetric dead-band the skew is zero; outside it scales linearly and
// saturates at ±1 at ±100% inventory. Positive means long (bias toward
// selling more).
func (t *Tracker) Skew() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.skewLocked()
}

func (t *Tracker) skewLocked() decimal.Decimal {
	pct := t.inventoryPctLocked()
	threshold := t.cfg.SkewThreshold

	if pct.Abs().LessThan(threshold) {
		return decimal.Zero
	}

	maxExcess := hundred.Sub(threshold)
	if !maxExcess.IsPositive() {
		return decimal.Zero
	}

	excess := pct.Abs().Sub(threshold)
	skew := excess.Div(maxExcess)
	if skew.GreaterThan(one) {
		skew = one
	}
	if pct.IsNegative() {
		skew = skew.Neg()
	}
	return skew
}

// CanTrade reports whether adding exposure on the given side would stay
// within the position ceiling.
func (t *Tracker) CanTrade(side domain.Side) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.maxPosition.IsZero() {
		return false
	}
	if side == domain.SideBuy {
		return t.size.LessThan(t.maxPosition)
	}
	return t.size.GreaterThan(t.maxPosition.Neg())
}

// TargetSize returns the per-order notional adjusted by the inventory
// bias: buys shrink when long, sells shrink when short. The adjustment is
// clamped to [0.5, 1.5] of the base notional.
func (t *Tracker) TargetSize(side domain.Side) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()

	bias := t.skewLocked().Mul(t.cfg.BiasStrength)

	var adjustment decimal.Decimal
	if side == domain.SideBuy {
		adjustment = one.Sub(bias)
	} else {
		adjustment = one.Add(bias)
	}

	half := decimal.NewFromFloat(0.5)
	if adjustment.LessThan(half) {
		adjustment = half
	}
	if upper := decimal.NewFromFloat(1.5); adjustment.GreaterThan(upper) {
		adjustment = upper
	}

	return t.cfg.BaseNotional.Mul(adjustment)
}

// Size returns the current signed position size.
func (t *Tracker) Size() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

// Info returns a consistent snapshot of the tracker state.
func (t *Tracker) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Info{
		Size:          t.size,
		EntryPrice:    t.entryPrice,
		UnrealizedPnL: t.unrealizedPnL,
		InventoryPct:  t.inventoryPctLocked(),
		Skew:          t.skewLocked(),
		MaxPosition:   t.maxPosition,
	}
}
