// Package storage persists fills and risk snapshots to SQLite for
// post-session analysis. The engine trades fine without it; persistence
// failures are logged upstream, never fatal.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"market_maker/internal/domain"
	"market_maker/internal/risk"
)

// FillRecord is one executed trade.
type FillRecord struct {
	ID       uint   `gorm:"primarykey"`
	Symbol   string `gorm:"index"`
	Side     string
	Price    decimal.Decimal `gorm:"type:TEXT"`
	Size     decimal.Decimal `gorm:"type:TEXT"`
	Fee      decimal.Decimal `gorm:"type:TEXT"`
	ClientID string          `gorm:"index"`
	FilledAt time.Time
}

// RiskSnapshot is a periodic record of the risk gate's state.
type RiskSnapshot struct {
	ID             uint            `gorm:"primarykey"`
	CurrentCapital decimal.Decimal `gorm:"type:TEXT"`
	TotalPnL       decimal.Decimal `gorm:"type:TEXT"`
	RealizedPnL    decimal.Decimal `gorm:"type:TEXT"`
	UnrealizedPnL  decimal.Decimal `gorm:"type:TEXT"`
	Fees           decimal.Decimal `gorm:"type:TEXT"`
	EmergencyStop  bool
	StopReason     string
	CreatedAt      time.Time
}

// Storage wraps the SQLite database.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the database at path and migrates the
// schema.
func NewStorage(path string) (*Storage, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(&FillRecord{}, &RiskSnapshot{}); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// RecordFill persists one fill.
func (s *Storage) RecordFill(ctx context.Context, fill domain.FillEvent) error {
	rec := FillRecord{
		Symbol:   fill.Symbol,
		Side:     string(fill.Side),
		Price:    fill.Price,
		Size:     fill.Size,
		Fee:      fill.Fee,
		ClientID: fill.ClientID,
		FilledAt: fill.Time,
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// RecordRiskSnapshot persists one risk-gate snapshot.
func (s *Storage) RecordRiskSnapshot(ctx context.Context, m risk.Metrics) error {
	rec := RiskSnapshot{
		CurrentCapital: m.CurrentCapital,
		TotalPnL:       m.TotalPnL,
		RealizedPnL:    m.RealizedPnL,
		UnrealizedPnL:  m.UnrealizedPnL,
		Fees:           m.Fees,
		EmergencyStop:  m.EmergencyStop,
		StopReason:     m.StopReason,
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// RecentFills returns the latest fills, newest first.
func (s *Storage) RecentFills(ctx context.Context, limit int) ([]FillRecord, error) {
	var fills []FillRecord
	err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&fills).Error
	return fills, err
}

// FillsSince returns all fills executed at or after t, oldest first.
func (s *Storage) FillsSince(ctx context.Context, t time.Time) ([]FillRecord, error) {
	var fills []FillRecord
	err := s.db.WithContext(ctx).Where("filled_at >= ?", t).Order("id ASC").Find(&fills).Error
	return fills, err
}

// TotalFees sums fees across all recorded fills.
func (s *Storage) TotalFees(ctx context.Context) (decimal.Decimal, error) {
	var fills []FillRecord
	if err := s.db.WithContext(ctx).Select("fee").Find(&fills).Error; err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, f := range fills {
		total = total.Add(f.Fee)
	}
	return total, nil
}

// LatestRiskSnapshot returns the most recent snapshot, nil when none
// exists.
func (s *Storage) LatestRiskSnapshot(ctx context.Context) (*RiskSnapshot, error) {
	var snap RiskSnapshot
	err := s.db.WithContext(ctx).Order("id DESC").First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// Close releases the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
