package strategy

import (
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"market_maker/internal/domain"
)

var (
	one  = decimal.NewFromInt(1)
	half = decimal.RequireFromString("0.5")
)

// GridLevel is one quote of the target ladder. Levels are ephemeral:
// regenerated wholesale whenever the grid slides.
type GridLevel struct {
	Side  domain.Side
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Target is a quote the lifecycle manager should place.
type Target struct {
	Side  domain.Side
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Config holds the grid parameters.
type Config struct {
	BaseSpacingPct decimal.Decimal // per-level spacing as a fraction (0.001 = 0.1%)
	NumLevels      int             // levels per side
	OrderNotional  decimal.Decimal // fixed quote-currency notional per level
	SlideThreshold decimal.Decimal // mid drift fraction that re-centers the grid
	PricePrecision int32           // instrument price decimals
	PriceTolerance decimal.Decimal // absolute tolerance when matching orders to levels
}

// Grid derives the target quote ladder from the mid price and the
// inventory skew, and decides when to re-center.
type Grid struct {
	mu  sync.Mutex
	cfg Config
	log *slog.Logger

	lastCenter decimal.Decimal
	levels     []GridLevel
}

// Info summarizes the current grid for status logging.
type Info struct {
	Center     decimal.Decimal `json:"center"`
	NumLevels  int             `json:"num_levels"`
	BuyLevels  int             `json:"buy_levels"`
	SellLevels int             `json:"sell_levels"`
	LowestBuy  decimal.Decimal `json:"lowest_buy"`
	HighestSel decimal.Decimal `json:"highest_sell"`
}

// NewGrid creates an empty grid; the first ShouldSlide call reports true.
func NewGrid(cfg Config, log *slog.Logger) *Grid {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PriceTolerance.IsZero() {
		cfg.PriceTolerance = decimal.RequireFromString("0.01")
	}
	return &Grid{cfg: cfg, log: log.With(slog.String("component", "grid"))}
}

// ShouldSlide reports whether the grid must be re-centered: always before
// the first generation, then whenever the mid drifts from the last center
// by at least the slide threshold.
func (g *Grid) ShouldSlide(mid decimal.Decimal) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.shouldSlideLocked(mid)
}

func (g *Grid) shouldSlideLocked(mid decimal.Decimal) bool {
	if g.lastCenter.IsZero() {
		return true
	}

	drift := mid.Sub(g.lastCenter).Div(g.lastCenter).Abs()
	if drift.GreaterThanOrEqual(g.cfg.SlideThreshold) {
		g.log.Info("grid slide triggered",
			slog.String("drift_pct", drift.Mul(decimal.NewFromInt(100)).StringFixed(3)),
			slog.String("center", g.lastCenter.String()),
			slog.String("mid", mid.String()))
		return true
	}
	return false
}

// Generate rebuilds the ladder around mid. Positive skew (long inventory)
// widens buy spacing and narrows sell spacing, biasing fills toward
// reducing the position. Each level carries a constant-notional size.
func (g *Grid) Generate(mid, skew decimal.Decimal) []GridLevel {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generateLocked(mid, skew)
}

func (g *Grid) generateLocked(mid, skew decimal.Decimal) []GridLevel {
	buySpacing := g.cfg.BaseSpacingPct.Mul(one.Add(skew.Mul(half)))
	sellSpacing := g.cfg.BaseSpacingPct.Mul(one.Sub(skew.Mul(half)))

	levels := make([]GridLevel, 0, 2*g.cfg.NumLevels)

	for i := 1; i <= g.cfg.NumLevels; i++ {
		step := decimal.NewFromInt(int64(i))

		price := mid.Mul(one.Sub(buySpacing.Mul(step))).Round(g.cfg.PricePrecision)
		levels = append(levels, GridLevel{
			Side:  domain.SideBuy,
			Price: price,
			Size:  g.cfg.OrderNotional.Div(price),
		})
	}
	for i := 1; i <= g.cfg.NumLevels; i++ {
		step := decimal.NewFromInt(int64(i))

		price := mid.Mul(one.Add(sellSpacing.Mul(step))).Round(g.cfg.PricePrecision)
		levels = append(levels, GridLevel{
			Side:  domain.SideSell,
			Price: price,
			Size:  g.cfg.OrderNotional.Div(price),
		})
	}

	g.levels = levels
	g.lastCenter = mid

	g.log.Debug("grid generated",
		slog.Int("levels", len(levels)),
		slog.String("center", mid.String()),
		slog.String("skew", skew.String()))

	return levels
}

// TargetOrders regenerates the grid if it should slide, then returns a
// place-target for every level that has no active order of the same side
// within the price tolerance. Matched levels are left untouched so
// unchanged quotes never churn.
func (g *Grid) TargetOrders(mid, skew decimal.Decimal, active map[string]domain.TrackedOrder) []Target {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.shouldSlideLocked(mid) {
		g.generateLocked(mid, skew)
	}

	targets := make([]Target, 0, len(g.levels))
	for _, level := range g.levels {
		matched := false
		for _, order := range active {
			if order.Side == level.Side && order.Price.Sub(level.Price).Abs().LessThan(g.cfg.PriceTolerance) {
				matched = true
				break
			}
		}
		if !matched {
			targets = append(targets, Target{Side: level.Side, Price: level.Price, Size: level.Size})
		}
	}
	return targets
}

// OrdersToCancel returns the client ids of active orders whose price no
// longer matches any level of the current grid on their side.
func (g *Grid) OrdersToCancel(active map[string]domain.TrackedOrder, mid decimal.Decimal) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var toCancel []string
	for clientID, order := range active {
		matched := false
		for _, level := range g.levels {
			if level.Side == order.Side && order.Price.Sub(level.Price).Abs().LessThan(g.cfg.PriceTolerance) {
				matched = true
				break
			}
		}
		if !matched {
			toCancel = append(toCancel, clientID)
		}
	}
	return toCancel
}

// Levels returns a copy of the current ladder.
func (g *Grid) Levels() []GridLevel {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]GridLevel, len(g.levels))
	copy(out, g.levels)
	return out
}

// Info summarizes the grid for status logging.
func (g *Grid) Info() Info {
	g.mu.Lock()
	defer g.mu.Unlock()

	info := Info{Center: g.lastCenter, NumLevels: g.cfg.NumLevels}
	for _, level := range g.levels {
		switch level.Side {
		case domain.SideBuy:
			info.BuyLevels++
			if info.LowestBuy.IsZero() || level.Price.LessThan(info.LowestBuy) {
				info.LowestBuy = level.Price
			}
		case domain.SideSell:
			info.SellLevels++
			if level.Price.GreaterThan(info.HighestSel) {
				info.HighestSel = level.Price
			}
		}
	}
	return info
}
