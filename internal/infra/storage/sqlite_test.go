package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"market_maker/internal/domain"
	"market_maker/internal/risk"
)

func setupTestDB(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "mm_test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndQueryFills(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fills := []domain.FillEvent{
		{Symbol: "ETH", Side: domain.SideBuy, Price: decimal.NewFromInt(2000), Size: decimal.NewFromInt(1), Fee: decimal.RequireFromString("0.2"), ClientID: "mm_1_a", Time: base},
		{Symbol: "ETH", Side: domain.SideSell, Price: decimal.NewFromInt(2010), Size: decimal.NewFromInt(1), Fee: decimal.RequireFromString("0.3"), ClientID: "mm_1_b", Time: base.Add(time.Minute)},
	}
	for _, f := range fills {
		if err := s.RecordFill(ctx, f); err != nil {
			t.Fatalf("RecordFill failed: %v", err)
		}
	}

	t.Run("Recent Newest First", func(t *testing.T) {
		recent, err := s.RecentFills(ctx, 10)
		if err != nil {
			t.Fatalf("RecentFills failed: %v", err)
		}
		if len(recent) != 2 {
			t.Fatalf("expected 2 fills, got %d", len(recent))
		}
		if recent[0].ClientID != "mm_1_b" {
			t.Errorf("newest first: got %s", recent[0].ClientID)
		}
		if !recent[0].Price.Equal(decimal.NewFromInt(2010)) {
			t.Errorf("price round-trip: %v", recent[0].Price)
		}
	})

	t.Run("Since Filter", func(t *testing.T) {
		since, err := s.FillsSince(ctx, base.Add(30*time.Second))
		if err != nil {
			t.Fatalf("FillsSince failed: %v", err)
		}
		if len(since) != 1 || since[0].ClientID != "mm_1_b" {
			t.Errorf("since filter: %+v", since)
		}
	})

	t.Run("Total Fees", func(t *testing.T) {
		total, err := s.TotalFees(ctx)
		if err != nil {
			t.Fatalf("TotalFees failed: %v", err)
		}
		if !total.Equal(decimal.RequireFromString("0.5")) {
			t.Errorf("total fees %v, want 0.5", total)
		}
	})
}

func TestRiskSnapshots(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	latest, err := s.LatestRiskSnapshot(ctx)
	if err != nil {
		t.Fatalf("LatestRiskSnapshot on empty db failed: %v", err)
	}
	if latest != nil {
		t.Error("empty db must return nil snapshot")
	}

	snaps := []risk.Metrics{
		{CurrentCapital: decimal.NewFromInt(10000), TotalPnL: decimal.Zero},
		{CurrentCapital: decimal.NewFromInt(9900), TotalPnL: decimal.NewFromInt(-100), EmergencyStop: true, StopReason: "max loss limit breached"},
	}
	for _, m := range snaps {
		if err := s.RecordRiskSnapshot(ctx, m); err != nil {
			t.Fatalf("RecordRiskSnapshot failed: %v", err)
		}
	}

	latest, err = s.LatestRiskSnapshot(ctx)
	if err != nil {
		t.Fatalf("LatestRiskSnapshot failed: %v", err)
	}
	if latest == nil {
		t.Fatal("expected a snapshot")
	}
	if !latest.EmergencyStop || latest.StopReason != "max loss limit breached" {
		t.Errorf("latest snapshot %+v", latest)
	}
	if !latest.CurrentCapital.Equal(decimal.NewFromInt(9900)) {
		t.Errorf("capital %v", latest.CurrentCapital)
	}
}
