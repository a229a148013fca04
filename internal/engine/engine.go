package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"market_maker/internal/book"
	"market_maker/internal/domain"
	"market_maker/internal/infra"
	"market_maker/internal/inventory"
	"market_maker/internal/risk"
	"market_maker/internal/strategy"
)

// FillRecorder persists executed fills and periodic risk snapshots.
// Implemented by the storage layer; nil disables persistence.
type FillRecorder interface {
	RecordFill(ctx context.Context, fill domain.FillEvent) error
	RecordRiskSnapshot(ctx context.Context, m risk.Metrics) error
}

// Config drives the decision loop's cadence.
type Config struct {
	Symbol                string
	DryRun                bool
	LoopInterval          time.Duration
	StartupDelay          time.Duration
	PositionRefreshCycles int // refresh position from the exchange every N cycles
	StatusLogCycles       int // emit a status line every N cycles
	ReconcileInterval     time.Duration
	SaveInterval          time.Duration
	ShutdownGrace         time.Duration
}

// Engine is the single decision loop. Feeds push decoded events into the
// inboxes; two dispatcher goroutines apply them to the book replica and
// the inventory/order state; the ticker-driven cycle reads that state and
// drives quotes toward the grid's targets. Order mutations happen only
// inside the cycle, so quoting decisions are always made against one
// consistent view.
type Engine struct {
	cfg     Config
	log     *slog.Logger
	book    *book.Replica
	tracker *inventory.Tracker
	gate    *risk.Gate
	grid    *strategy.Grid
	orders  *Manager
	exec    domain.Execution
	state   *infra.StateFile
	store   FillRecorder
	metrics *infra.Metrics

	marketInbox chan domain.BookEvent
	userInbox   chan domain.UserEvent

	// Fill accounting, written by the user dispatcher and read by the
	// cycle.
	pnlMu       sync.Mutex
	realizedPnL decimal.Decimal
	fees        decimal.Decimal

	cycle         int
	halted        bool
	lastReconcile time.Time
	lastSave      time.Time
}

// NewEngine wires the decision loop. state and store may be nil.
func NewEngine(
	cfg Config,
	log *slog.Logger,
	replica *book.Replica,
	tracker *inventory.Tracker,
	gate *risk.Gate,
	grid *strategy.Grid,
	orders *Manager,
	exec domain.Execution,
	state *infra.StateFile,
	store FillRecorder,
	metrics *infra.Metrics,
) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if cfg.LoopInterval <= 0 {
		cfg.LoopInterval = time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	return &Engine{
		cfg:         cfg,
		log:         log.With(slog.String("component", "engine")),
		book:        replica,
		tracker:     tracker,
		gate:        gate,
		grid:        grid,
		orders:      orders,
		exec:        exec,
		state:       state,
		store:       store,
		metrics:     metrics,
		marketInbox: make(chan domain.BookEvent, 1024),
		userInbox:   make(chan domain.UserEvent, 256),
	}
}

// MarketInbox receives decoded book events from the market-data feed.
func (e *Engine) MarketInbox() chan<- domain.BookEvent {
	return e.marketInbox
}

// UserInbox receives decoded account events from the user feed.
func (e *Engine) UserInbox() chan<- domain.UserEvent {
	return e.userInbox
}

// Run executes the decision loop until ctx is cancelled, then winds down:
// best-effort cancel of all resting orders and a final state save, both
// bounded by the shutdown grace period.
func (e *Engine) Run(ctx context.Context) {
	e.log.Info("engine starting",
		slog.String("symbol", e.cfg.Symbol),
		slog.Bool("dry_run", e.cfg.DryRun),
		slog.Duration("interval", e.cfg.LoopInterval))

	go e.dispatchMarket(ctx)
	go e.dispatchUser(ctx)

	if e.cfg.StartupDelay > 0 {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case <-time.After(e.cfg.StartupDelay):
		}
	}

	ticker := time.NewTicker(e.cfg.LoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case <-ticker.C:
			e.runCycle(ctx)
		}
	}
}

func (e *Engine) dispatchMarket(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.marketInbox:
			switch b := ev.(type) {
			case domain.BookSnapshot:
				e.book.ApplySnapshot(b)
			case domain.BookDelta:
				e.book.ApplyDelta(b)
			}
		}
	}
}

func (e *Engine) dispatchUser(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.userInbox:
			for _, fill := range ev.Fills {
				e.handleFill(ctx, fill)
			}
			for _, order := range ev.Orders {
				e.orders.HandleOrderUpdate(order)
			}
			for _, pos := range ev.Positions {
				e.handlePosition(pos)
			}
		}
	}
}

// handleFill books the fill into local position and PnL accounting. A
// fill against the position's sign realizes PnL on the closed quantity; a
// fill extending the position moves the entry price to the weighted
// average.
func (e *Engine) handleFill(ctx context.Context, fill domain.FillEvent) {
	if fill.Size.IsZero() {
		return
	}

	info := e.tracker.Info()

	delta := fill.Size
	if fill.Side == domain.SideSell {
		delta = delta.Neg()
	}
	newSize := info.Size.Add(delta)

	var realized decimal.Decimal
	entry := info.EntryPrice

	switch {
	case info.Size.IsZero() || info.Size.Sign() == delta.Sign():
		// Extending: weighted-average entry.
		oldNotional := info.Size.Abs().Mul(entry)
		addNotional := delta.Abs().Mul(fill.Price)
		entry = oldNotional.Add(addNotional).Div(info.Size.Abs().Add(delta.Abs()))
	default:
		closed := decimal.Min(info.Size.Abs(), delta.Abs())
		realized = fill.Price.Sub(entry).Mul(closed)
		if info.Size.IsNegative() {
			realized = realized.Neg()
		}
		if newSize.IsZero() {
			entry = decimal.Zero
		} else if newSize.Sign() != info.Size.Sign() {
			// Flipped through flat: the surplus opens at the fill price.
			entry = fill.Price
		}
	}

	var mid *decimal.Decimal
	if m, ok := e.book.Mid(); ok {
		mid = &m
	}
	e.tracker.UpdatePosition(newSize, &entry, mid)

	e.pnlMu.Lock()
	e.realizedPnL = e.realizedPnL.Add(realized)
	e.fees = e.fees.Add(fill.Fee)
	e.pnlMu.Unlock()

	e.log.Info("fill",
		slog.String("side", string(fill.Side)),
		slog.String("price", fill.Price.String()),
		slog.String("size", fill.Size.String()),
		slog.String("realized", realized.String()),
		slog.String("position", newSize.String()))

	if e.store != nil {
		if err := e.store.RecordFill(ctx, fill); err != nil {
			e.log.Warn("fill persistence failed", slog.Any("error", err))
		}
	}
}

// handlePosition applies an exchange-reported position, which overrides
// local fill accounting.
func (e *Engine) handlePosition(pos domain.PositionEvent) {
	var entry *decimal.Decimal
	if !pos.EntryPrice.IsZero() {
		entry = &pos.EntryPrice
	}
	var mid *decimal.Decimal
	if m, ok := e.book.Mid(); ok {
		mid = &m
	}
	e.tracker.UpdatePosition(pos.Size, entry, mid)
}

func (e *Engine) runCycle(ctx context.Context) {
	e.cycle++
	if e.metrics != nil {
		e.metrics.RecordCycle()
	}

	if e.halted {
		return
	}

	if e.book.IsStale() {
		if e.metrics != nil {
			e.metrics.RecordSkippedCycle()
		}
		e.log.Warn("skipping cycle: book stale",
			slog.Time("last_update", e.book.LastUpdate()))
		return
	}
	mid, ok := e.book.Mid()
	if !ok {
		if e.metrics != nil {
			e.metrics.RecordSkippedCycle()
		}
		e.log.Warn("skipping cycle: book has no mid")
		return
	}

	if e.cfg.PositionRefreshCycles > 0 && e.cycle%e.cfg.PositionRefreshCycles == 0 {
		e.refreshPosition(ctx)
	}

	e.tracker.UpdateMaxPosition(mid)

	info := e.tracker.Info()
	e.pnlMu.Lock()
	realized, fees := e.realizedPnL, e.fees
	e.pnlMu.Unlock()
	e.gate.UpdatePnL(realized, info.UnrealizedPnL, fees)

	positionValue := info.Size.Abs().Mul(mid)
	if e.gate.CheckAllLimits(info.Size, positionValue) {
		e.halt(ctx)
		return
	}
	e.gate.ShouldReduceRisk()

	skew := e.tracker.Skew()
	active := e.orders.ActiveOrders()

	targets := e.grid.TargetOrders(mid, skew, active)
	toCancel := e.grid.OrdersToCancel(active, mid)

	// Position-ceiling filter: never add exposure past the cap.
	allowed := targets[:0]
	for _, t := range targets {
		if e.tracker.CanTrade(t.Side) {
			allowed = append(allowed, t)
		}
	}

	if err := e.orders.ReplaceOrders(ctx, toCancel, allowed); err != nil {
		e.log.Warn("quote replacement incomplete", slog.Any("error", err))
	}

	now := time.Now()
	if !e.cfg.DryRun && e.cfg.ReconcileInterval > 0 && now.Sub(e.lastReconcile) >= e.cfg.ReconcileInterval {
		if err := e.orders.Reconcile(ctx); err != nil {
			e.log.Warn("reconcile failed", slog.Any("error", err))
		}
		e.lastReconcile = now
	}

	if e.cfg.SaveInterval > 0 && now.Sub(e.lastSave) >= e.cfg.SaveInterval {
		e.saveState(ctx)
		e.lastSave = now
	}

	if e.cfg.StatusLogCycles > 0 && e.cycle%e.cfg.StatusLogCycles == 0 {
		e.logStatus(mid, skew)
	}
}

func (e *Engine) refreshPosition(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pos, err := e.exec.GetPosition(callCtx)
	if err != nil {
		e.log.Warn("position refresh failed", slog.Any("error", err))
		return
	}

	var mid *decimal.Decimal
	if m, ok := e.book.Mid(); ok {
		mid = &m
	}
	if pos == nil {
		e.tracker.UpdatePosition(decimal.Zero, nil, mid)
		return
	}
	e.tracker.UpdatePosition(pos.Size, &pos.EntryPrice, mid)
}

// halt cancels everything once and stops quoting. The latch in the risk
// gate keeps it that way.
func (e *Engine) halt(ctx context.Context) {
	e.halted = true
	if e.metrics != nil {
		e.metrics.SetEmergencyStopped(true)
	}
	e.log.Error("halting: risk limit breached",
		slog.String("reason", e.gate.StopReason()))

	if err := e.orders.CancelAll(ctx); err != nil {
		e.log.Error("cancel-all during halt failed", slog.Any("error", err))
	}
	e.saveState(ctx)
}

func (e *Engine) saveState(ctx context.Context) {
	riskMetrics := e.gate.Metrics()

	if e.state != nil {
		err := e.state.Save(infra.State{
			Timestamp:    time.Now().UTC(),
			Position:     e.tracker.Info(),
			Risk:         riskMetrics,
			ActiveOrders: e.orders.ActiveCount(),
		})
		if err != nil {
			e.log.Warn("state save failed", slog.Any("error", err))
		}
	}
	if e.store != nil {
		if err := e.store.RecordRiskSnapshot(ctx, riskMetrics); err != nil {
			e.log.Warn("risk snapshot persistence failed", slog.Any("error", err))
		}
	}
}

func (e *Engine) logStatus(mid, skew decimal.Decimal) {
	info := e.tracker.Info()
	riskMetrics := e.gate.Metrics()
	gridInfo := e.grid.Info()

	bestBid, bestAsk := "-", "-"
	bids, asks := e.book.TopLevels(1)
	if len(bids) > 0 {
		bestBid = bids[0].Price.String()
	}
	if len(asks) > 0 {
		bestAsk = asks[0].Price.String()
	}

	e.log.Info("status",
		slog.String("mid", mid.String()),
		slog.String("best_bid", bestBid),
		slog.String("best_ask", bestAsk),
		slog.String("position", info.Size.String()),
		slog.String("inventory_pct", info.InventoryPct.StringFixed(2)),
		slog.String("skew", skew.StringFixed(4)),
		slog.String("total_pnl", riskMetrics.TotalPnL.String()),
		slog.String("grid_center", gridInfo.Center.String()),
		slog.Int("grid_levels", gridInfo.BuyLevels+gridInfo.SellLevels),
		slog.Int("active_orders", e.orders.ActiveCount()))
}

// shutdown runs on context cancellation: cancel resting orders and write
// the final state, bounded by the grace period.
func (e *Engine) shutdown() {
	e.log.Info("engine stopping")

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ShutdownGrace)
	defer cancel()

	if err := e.orders.CancelAll(ctx); err != nil {
		e.log.Error("cancel-all on shutdown failed", slog.Any("error", err))
	}
	e.saveState(ctx)
	e.log.Info("engine stopped")
}
