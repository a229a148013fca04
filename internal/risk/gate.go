package risk

import (
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"
)

// Config holds the hard limits the gate enforces.
type Config struct {
	InitialCapital  decimal.Decimal
	MaxLossPct      decimal.Decimal // fraction of initial capital, 0..1
	MaxLeverage     decimal.Decimal
	MaxPositionSize decimal.Decimal // absolute size ceiling in base units
}

// Gate evaluates hard risk limits and owns the one-way emergency-stop
// latch. Once tripped, the latch stays set until an explicit Reset; limit
// checks passing afterwards do not clear it.
type Gate struct {
	mu  sync.Mutex
	cfg Config
	log *slog.Logger

	currentCapital decimal.Decimal
	realizedPnL    decimal.Decimal
	unrealizedPnL  decimal.Decimal
	fees           decimal.Decimal

	stopped    bool
	stopReason string
}

// Metrics is a point-in-time snapshot of the gate's risk state.
type Metrics struct {
	InitialCapital decimal.Decimal `json:"initial_capital"`
	CurrentCapital decimal.Decimal `json:"current_capital"`
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	PnLPct         decimal.Decimal `json:"pnl_pct"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
	Fees           decimal.Decimal `json:"fees"`
	EmergencyStop  bool            `json:"emergency_stop"`
	StopReason     string          `json:"stop_reason"`
}

// NewGate creates a gate with full capital and a cleared latch.
func NewGate(cfg Config, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{
		cfg:            cfg,
		log:            log.With(slog.String("component", "risk")),
		currentCapital: cfg.InitialCapital,
	}
}

// UpdatePnL replaces the tracked PnL components and recomputes current
// capital as initial + realized - fees.
func (g *Gate) UpdatePnL(realized, unrealized, fees decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.realizedPnL = realized
	g.unrealizedPnL = unrealized
	g.fees = fees
	g.currentCapital = g.cfg.InitialCapital.Add(realized).Sub(fees)
}

// TotalPnL returns realized + unrealized - fees.
func (g *Gate) TotalPnL() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.totalPnLLocked()
}

func (g *Gate) totalPnLLocked() decimal.Decimal {
	return g.realizedPnL.Add(g.unrealizedPnL).Sub(g.fees)
}

func (g *Gate) pnlPctLocked() decimal.Decimal {
	if g.cfg.InitialCapital.IsZero() {
		return decimal.Zero
	}
	return g.totalPnLLocked().Div(g.cfg.InitialCapital).Mul(decimal.NewFromInt(100))
}

// CheckLossLimit reports whether total PnL has fallen below
// -(initialCapital * maxLossPct).
func (g *Gate) CheckLossLimit() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	maxLoss := g.cfg.InitialCapital.Mul(g.cfg.MaxLossPct)
	breached := g.totalPnLLocked().LessThan(maxLoss.Neg())
	if breached {
		g.log.Error("loss limit breached",
			slog.String("total_pnl", g.totalPnLLocked().String()),
			slog.String("limit", maxLoss.Neg().String()))
	}
	return breached
}

// CheckLeverage reports whether the position value exceeds the leverage
// ceiling relative to current capital. Depleted capital always breaches.
func (g *Gate) CheckLeverage(positionValue decimal.Decimal) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checkLeverageLocked(positionValue)
}

func (g *Gate) checkLeverageLocked(positionValue decimal.Decimal) bool {
	if !g.currentCapital.IsPositive() {
		g.log.Error("capital depleted", slog.String("capital", g.currentCapital.String()))
		return true
	}
	leverage := positionValue.Div(g.currentCapital)
	if leverage.GreaterThan(g.cfg.MaxLeverage) {
		g.log.Error("leverage limit breached",
			slog.String("leverage", leverage.String()),
			slog.String("max", g.cfg.MaxLeverage.String()))
		return true
	}
	return false
}

// CheckPositionSize reports whether |size| exceeds the configured ceiling.
func (g *Gate) CheckPositionSize(size decimal.Decimal) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checkPositionSizeLocked(size)
}

func (g *Gate) checkPositionSizeLocked(size decimal.Decimal) bool {
	if size.Abs().GreaterThan(g.cfg.MaxPositionSize) {
		g.log.Error("position size limit breached",
			slog.String("size", size.Abs().String()),
			slog.String("max", g.cfg.MaxPositionSize.String()))
		return true
	}
	return false
}

// CheckAllLimits evaluates loss, leverage and position-size limits in
// order, short-circuiting on the first breach. Any breach latches the
// emergency stop and is reported as true.
func (g *Gate) CheckAllLimits(positionSize, positionValue decimal.Decimal) bool {
	if g.CheckLossLimit() {
		g.TriggerEmergencyStop("max loss limit breached")
		return true
	}

	g.mu.Lock()
	leverageBreached := g.checkLeverageLocked(positionValue)
	g.mu.Unlock()
	if leverageBreached {
		g.TriggerEmergencyStop("max leverage exceeded")
		return true
	}

	g.mu.Lock()
	sizeBreached := g.checkPositionSizeLocked(positionSize)
	g.mu.Unlock()
	if sizeBreached {
		g.TriggerEmergencyStop("max position size exceeded")
		return true
	}

	return false
}

// ShouldReduceRisk is an advisory warning once the drawdown crosses 75% of
// the loss threshold. It never stops trading.
func (g *Gate) ShouldReduceRisk() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	warnAt := g.cfg.MaxLossPct.Mul(decimal.RequireFromString("0.75")).Mul(decimal.NewFromInt(100))
	if g.pnlPctLocked().LessThan(warnAt.Neg()) {
		g.log.Warn("approaching loss limit",
			slog.String("pnl_pct", g.pnlPctLocked().String()),
			slog.String("limit_pct", g.cfg.MaxLossPct.Mul(decimal.NewFromInt(100)).Neg().String()))
		return true
	}
	return false
}

// TriggerEmergencyStop latches the stop with the given reason.
func (g *Gate) TriggerEmergencyStop(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stopped = true
	g.stopReason = reason
	g.log.Error("EMERGENCY STOP", slog.String("reason", reason))
}

// Stopped reports whether the emergency stop is latched.
func (g *Gate) Stopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopped
}

// StopReason returns the reason recorded by the latch, empty if clear.
func (g *Gate) StopReason() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopReason
}

// Reset clears the latch. Operator action only.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stopped = false
	g.stopReason = ""
	g.log.Warn("emergency stop reset")
}

// Metrics returns a consistent snapshot of the risk state.
func (g *Gate) Metrics() Metrics {
	g.mu.Lock()
	defer g.mu.Unlock()

	return Metrics{
		InitialCapital: g.cfg.InitialCapital,
		CurrentCapital: g.currentCapital,
		TotalPnL:       g.totalPnLLocked(),
		PnLPct:         g.pnlPctLocked(),
		RealizedPnL:    g.realizedPnL,
		UnrealizedPnL:  g.unrealizedPnL,
		Fees:           g.fees,
		EmergencyStop:  g.stopped,
		StopReason:     g.stopReason,
	}
}
