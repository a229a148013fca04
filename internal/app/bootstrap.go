// Package app wires configuration, logging and persistence together
// before the trading components start.
package app

import (
	"fmt"
	"log/slog"

	"market_maker/internal/infra"
	"market_maker/internal/infra/storage"
)

// Bootstrap orchestrates the application startup sequence.
type Bootstrap struct {
	Config      *infra.Config
	OrderLogger *slog.Logger
	Storage     *storage.Storage
	StateFile   *infra.StateFile
	Metrics     *infra.Metrics
}

// NewBootstrap creates an empty Bootstrap.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads configuration, installs the logger and opens the
// persistence layer. Trading components are wired by the caller.
func (b *Bootstrap) Initialize(configPath string) error {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	b.Config = cfg

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)
	b.OrderLogger = infra.NewOrderLogger()

	b.Metrics = &infra.Metrics{}

	if cfg.Persistence.Enabled {
		if cfg.Persistence.Database != "" {
			store, err := storage.NewStorage(cfg.Persistence.Database)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			b.Storage = store
			slog.Info("database initialized", slog.String("path", cfg.Persistence.Database))
		}

		sf, err := infra.NewStateFile(cfg.Persistence.StateFile)
		if err != nil {
			return fmt.Errorf("open state file: %w", err)
		}
		b.StateFile = sf

		if prev, err := sf.Load(); err != nil {
			slog.Warn("previous state unreadable, starting fresh", slog.Any("error", err))
		} else if prev != nil {
			slog.Info("previous session state found",
				slog.Time("saved_at", prev.Timestamp),
				slog.String("position", prev.Position.Size.String()),
				slog.Int("active_orders", prev.ActiveOrders))
		}
	}

	slog.Info("bootstrap complete",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("symbol", cfg.Symbol.Name),
		slog.Bool("dry_run", cfg.Operational.DryRun))
	return nil
}

// Close releases persistence resources.
func (b *Bootstrap) Close() {
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Warn("storage close failed", slog.Any("error", err))
		}
	}
}
