package risk

import (
	"testing"

	"github.com/shopspring/decimal"
)

func testGate() *Gate {
	return NewGate(Config{
		InitialCapital:  decimal.NewFromInt(10000),
		MaxLossPct:      decimal.RequireFromString("0.1"), // 1000 max loss
		MaxLeverage:     decimal.NewFromInt(5),
		MaxPositionSize: decimal.NewFromInt(100),
	}, nil)
}

func TestGate_CheckLossLimit(t *testing.T) {
	g := testGate()

	t.Run("Within Limit", func(t *testing.T) {
		g.UpdatePnL(decimal.NewFromInt(-500), decimal.NewFromInt(-400), decimal.Zero)
		if g.CheckLossLimit() {
			t.Error("loss of 900 within 1000 limit should pass")
		}
	})

	t.Run("At Limit Boundary", func(t *testing.T) {
		g.UpdatePnL(decimal.NewFromInt(-1000), decimal.Zero, decimal.Zero)
		if g.CheckLossLimit() {
			t.Error("loss of exactly 1000 is not a breach (strictly below)")
		}
	})

	t.Run("Breached", func(t *testing.T) {
		g.UpdatePnL(decimal.NewFromInt(-800), decimal.NewFromInt(-150), decimal.NewFromInt(100))
		if !g.CheckLossLimit() {
			t.Error("total PnL -1050 should breach the 1000 limit")
		}
	})

	t.Run("Fees Count Against PnL", func(t *testing.T) {
		g.UpdatePnL(decimal.Zero, decimal.Zero, decimal.NewFromInt(1100))
		if !g.CheckLossLimit() {
			t.Error("fees alone can breach the loss limit")
		}
	})
}

func TestGate_CheckLeverage(t *testing.T) {
	g := testGate()

	if g.CheckLeverage(decimal.NewFromInt(50000)) {
		t.Error("50000 value at 10000 capital is exactly 5x, not a breach")
	}
	if !g.CheckLeverage(decimal.NewFromInt(50001)) {
		t.Error("above 5x should breach")
	}

	t.Run("Depleted Capital", func(t *testing.T) {
		g.UpdatePnL(decimal.NewFromInt(-10000), decimal.Zero, decimal.NewFromInt(1))
		if !g.CheckLeverage(decimal.Zero) {
			t.Error("non-positive capital always breaches")
		}
	})
}

func TestGate_CheckPositionSize(t *testing.T) {
	g := testGate()

	if g.CheckPositionSize(decimal.NewFromInt(100)) {
		t.Error("size at the ceiling is not a breach")
	}
	if !g.CheckPositionSize(decimal.NewFromInt(-101)) {
		t.Error("short positions count by absolute size")
	}
}

func TestGate_EmergencyStopLatch(t *testing.T) {
	g := testGate()

	// Trip via loss limit
	g.UpdatePnL(decimal.NewFromInt(-2000), decimal.Zero, decimal.Zero)
	if !g.CheckAllLimits(decimal.NewFromInt(1), decimal.NewFromInt(100)) {
		t.Fatal("expected a breach")
	}
	if !g.Stopped() {
		t.Fatal("breach must latch the emergency stop")
	}
	if g.StopReason() == "" {
		t.Error("latch should record a reason")
	}

	// Later passing checks must not clear the latch
	g.UpdatePnL(decimal.Zero, decimal.Zero, decimal.Zero)
	if g.CheckAllLimits(decimal.NewFromInt(1), decimal.NewFromInt(100)) {
		t.Error("all limits should now pass")
	}
	if !g.Stopped() {
		t.Error("latch is one-way; passing checks must not clear it")
	}

	g.Reset()
	if g.Stopped() {
		t.Error("explicit reset clears the latch")
	}
	if g.StopReason() != "" {
		t.Error("reset clears the stop reason")
	}
}

func TestGate_CheckAllLimits_Order(t *testing.T) {
	g := testGate()

	// Loss limit is evaluated first and short-circuits
	g.UpdatePnL(decimal.NewFromInt(-2000), decimal.Zero, decimal.Zero)
	g.CheckAllLimits(decimal.NewFromInt(500), decimal.NewFromInt(999999))
	if g.StopReason() != "max loss limit breached" {
		t.Errorf("expected loss-limit reason, got %q", g.StopReason())
	}

	g.Reset()
	g.UpdatePnL(decimal.Zero, decimal.Zero, decimal.Zero)
	g.CheckAllLimits(decimal.NewFromInt(500), decimal.NewFromInt(999999))
	if g.StopReason() != "max leverage exceeded" {
		t.Errorf("expected leverage reason, got %q", g.StopReason())
	}

	g.Reset()
	g.CheckAllLimits(decimal.NewFromInt(500), decimal.NewFromInt(100))
	if g.StopReason() != "max position size exceeded" {
		t.Errorf("expected position-size reason, got %q", g.StopReason())
	}
}

func TestGate_ShouldReduceRisk(t *testing.T) {
	g := testGate()

	// Warning threshold: 75% of 10% = 7.5% of capital = 750
	g.UpdatePnL(decimal.NewFromInt(-700), decimal.Zero, decimal.Zero)
	if g.ShouldReduceRisk() {
		t.Error("700 loss is under the 750 warning threshold")
	}

	g.UpdatePnL(decimal.NewFromInt(-800), decimal.Zero, decimal.Zero)
	if !g.ShouldReduceRisk() {
		t.Error("800 loss should trigger the advisory warning")
	}
	if g.Stopped() {
		t.Error("advisory warning must not stop trading")
	}
}
