package book

import (
	"sort"
	"sync"
	"time"

	"market_maker/internal/domain"

	"github.com/shopspring/decimal"
)

// DefaultStalenessThreshold is how long the replica may go without an
// update before IsStale reports true.
const DefaultStalenessThreshold = 5 * time.Second

// Replica is the local mirror of one symbol's remote order book. It is
// replaced wholesale on snapshots and patched on deltas. All stored sizes
// are strictly positive.
//
// Every mutating call and every compound read (Mid, Spread, PriceAtDepth)
// runs under one mutex so concurrent feed ingestion and the decision loop
// never observe a torn book.
type Replica struct {
	mu sync.Mutex

	symbol string
	bids   []domain.PriceLevel // sorted by price descending, best first
	asks   []domain.PriceLevel // sorted by price ascending, best first

	lastUpdate time.Time
	lastSeq    uint64

	staleAfter time.Duration
	now        func() time.Time
}

// NewReplica creates an empty replica for symbol. A zero staleAfter falls
// back to DefaultStalenessThreshold.
func NewReplica(symbol string, staleAfter time.Duration) *Replica {
	if staleAfter <= 0 {
		staleAfter = DefaultStalenessThreshold
	}
	return &Replica{
		symbol:     symbol,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Symbol returns the symbol this replica mirrors.
func (r *Replica) Symbol() string {
	return r.symbol
}

// ApplySnapshot atomically replaces both sides. Levels with non-positive
// sizes are dropped.
func (r *Replica) ApplySnapshot(snap domain.BookSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bids = r.bids[:0]
	r.asks = r.asks[:0]

	for _, lvl := range snap.Bids {
		if lvl.Size.IsPositive() {
			r.bids = append(r.bids, lvl)
		}
	}
	for _, lvl := range snap.Asks {
		if lvl.Size.IsPositive() {
			r.asks = append(r.asks, lvl)
		}
	}

	sort.Slice(r.bids, func(i, j int) bool { return r.bids[i].Price.GreaterThan(r.bids[j].Price) })
	sort.Slice(r.asks, func(i, j int) bool { return r.asks[i].Price.LessThan(r.asks[j].Price) })

	if snap.Seq != 0 {
		r.lastSeq = snap.Seq
	}
	r.lastUpdate = r.now()
}

// ApplyDelta patches individual levels. A zero size removes the level;
// removing an absent level is not an error.
func (r *Replica) ApplyDelta(delta domain.BookDelta) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, lvl := range delta.Bids {
		r.bids = patchLevel(r.bids, lvl, func(a, b decimal.Decimal) bool { return a.GreaterThan(b) })
	}
	for _, lvl := range delta.Asks {
		r.asks = patchLevel(r.asks, lvl, func(a, b decimal.Decimal) bool { return a.LessThan(b) })
	}

	if delta.Seq != 0 {
		r.lastSeq = delta.Seq
	}
	r.lastUpdate = r.now()
}

// patchLevel upserts or removes lvl in a slice sorted by before(). The
// slice keeps best-first ordering.
func patchLevel(levels []domain.PriceLevel, lvl domain.PriceLevel, before func(a, b decimal.Decimal) bool) []domain.PriceLevel {
	i := sort.Search(len(levels), func(i int) bool {
		return !before(levels[i].Price, lvl.Price)
	})

	exists := i < len(levels) && levels[i].Price.Equal(lvl.Price)

	if !lvl.Size.IsPositive() {
		if exists {
			return append(levels[:i], levels[i+1:]...)
		}
		return levels
	}

	if exists {
		levels[i].Size = lvl.Size
		return levels
	}

	levels = append(levels, domain.PriceLevel{})
	copy(levels[i+1:], levels[i:])
	levels[i] = lvl
	return levels
}

// BestBid returns the highest-priced bid level.
func (r *Replica) BestBid() (domain.PriceLevel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bestBidLocked()
}

// BestAsk returns the lowest-priced ask level.
func (r *Replica) BestAsk() (domain.PriceLevel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bestAskLocked()
}

func (r *Replica) bestBidLocked() (domain.PriceLevel, bool) {
	if len(r.bids) == 0 {
		return domain.PriceLevel{}, false
	}
	return r.bids[0], true
}

func (r *Replica) bestAskLocked() (domain.PriceLevel, bool) {
	if len(r.asks) == 0 {
		return domain.PriceLevel{}, false
	}
	return r.asks[0], true
}

// Mid returns the average of best bid and best ask. Absent unless both
// sides have at least one level.
func (r *Replica) Mid() (decimal.Decimal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.midLocked()
}

func (r *Replica) midLocked() (decimal.Decimal, bool) {
	bid, okB := r.bestBidLocked()
	ask, okA := r.bestAskLocked()
	if !okB || !okA {
		return decimal.Decimal{}, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}

// Spread returns bestAsk - bestBid.
func (r *Replica) Spread() (decimal.Decimal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bid, okB := r.bestBidLocked()
	ask, okA := r.bestAskLocked()
	if !okB || !okA {
		return decimal.Decimal{}, false
	}
	return ask.Price.Sub(bid.Price), true
}

// SpreadBps returns the spread in basis points of mid.
func (r *Replica) SpreadBps() (decimal.Decimal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bid, okB := r.bestBidLocked()
	ask, okA := r.bestAskLocked()
	if !okB || !okA {
		return decimal.Decimal{}, false
	}
	mid, _ := r.midLocked()
	if mid.IsZero() {
		return decimal.Decimal{}, false
	}
	spread := ask.Price.Sub(bid.Price)
	return spread.Div(mid).Mul(decimal.NewFromInt(10000)), true
}

// PriceAtDepth walks levels outward from the best and returns the price at
// which cumulative notional (price*size) first reaches target. SideBuy
// consumes asks, SideSell consumes bids. Returns domain.ErrNoLiquidity if
// the book cannot satisfy the target.
func (r *Replica) PriceAtDepth(side domain.Side, notional decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	levels := r.asks
	if side == domain.SideSell {
		levels = r.bids
	}

	cumulative := decimal.Zero
	for _, lvl := range levels {
		cumulative = cumulative.Add(lvl.Price.Mul(lvl.Size))
		if cumulative.GreaterThanOrEqual(notional) {
			return lvl.Price, nil
		}
	}
	return decimal.Decimal{}, domain.ErrNoLiquidity
}

// TopLevels returns up to n best levels per side, best first.
func (r *Replica) TopLevels(n int) (bids, asks []domain.PriceLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n < 0 {
		n = 0
	}
	if n > len(r.bids) {
		bids = append(bids, r.bids...)
	} else {
		bids = append(bids, r.bids[:n]...)
	}
	if n > len(r.asks) {
		asks = append(asks, r.asks...)
	} else {
		asks = append(asks, r.asks[:n]...)
	}
	return bids, asks
}

// IsStale reports whether the replica has never been updated or the last
// update is older than the staleness threshold.
func (r *Replica) IsStale() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastUpdate.IsZero() {
		return true
	}
	return r.now().Sub(r.lastUpdate) > r.staleAfter
}

// LastUpdate returns the time of the most recent snapshot or delta.
func (r *Replica) LastUpdate() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastUpdate
}

// Seq returns the most recent sequence id seen, 0 if the feed carries none.
func (r *Replica) Seq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSeq
}
