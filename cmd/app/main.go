package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"market_maker/internal/app"
	"market_maker/internal/book"
	"market_maker/internal/domain"
	"market_maker/internal/engine"
	"market_maker/internal/execution"
	"market_maker/internal/infra"
	"market_maker/internal/infra/hyperliquid"
	"market_maker/internal/inventory"
	"market_maker/internal/risk"
	"market_maker/internal/strategy"

	_ "net/http/pprof" // For pprof profiling
)

var hundred = decimal.NewFromInt(100)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	mode := flag.String("mode", "", "override run mode: dry-run, testnet or mainnet")
	flag.Parse()

	// Pprof server, localhost only.
	go func() {
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("pprof server failed", slog.Any("error", err))
		}
	}()

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()

	cfg := bootstrap.Config
	switch *mode {
	case "dry-run":
		cfg.Operational.DryRun = true
	case "testnet":
		cfg.Operational.DryRun = false
		cfg.Exchange.Testnet = true
	case "mainnet":
		cfg.Operational.DryRun = false
		cfg.Exchange.Testnet = false
	case "":
	default:
		slog.Error("unknown mode", slog.String("mode", *mode))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Core components.
	replica := book.NewReplica(cfg.Symbol.Name, time.Duration(cfg.Operational.StalenessSec)*time.Second)

	tracker := inventory.NewTracker(inventory.Config{
		InitialCapital: cfg.Capital.InitialUSD,
		Leverage:       cfg.Capital.Leverage,
		MaxPositionPct: cfg.Inventory.MaxPositionPct,
		SkewThreshold:  cfg.Inventory.SkewThreshold,
		BiasStrength:   cfg.Inventory.BiasStrength,
		BaseNotional:   cfg.Grid.OrderNotional,
	})

	gate := risk.NewGate(risk.Config{
		InitialCapital:  cfg.Capital.InitialUSD,
		MaxLossPct:      cfg.Risk.MaxLossPct.Div(hundred),
		MaxLeverage:     cfg.Risk.MaxLeverage,
		MaxPositionSize: cfg.Risk.MaxPositionSize,
	}, slog.Default())

	grid := strategy.NewGrid(strategy.Config{
		BaseSpacingPct: cfg.Grid.SpacingPct.Div(hundred),
		NumLevels:      cfg.Grid.NumLevels,
		OrderNotional:  cfg.Grid.OrderNotional,
		SlideThreshold: cfg.Grid.SlideThreshold.Div(hundred),
		PricePrecision: cfg.Symbol.PricePrecision,
		PriceTolerance: cfg.Grid.PriceTolerance,
	}, slog.Default())

	// In dry-run mode the engine's exchange reads go to an in-memory
	// simulator; order placement is synthesized by the lifecycle manager
	// and never reaches an execution backend.
	requestTimeout := time.Duration(cfg.Orders.RequestTimeoutMS) * time.Millisecond
	var exec domain.Execution
	if cfg.Operational.DryRun {
		exec = execution.NewPaperExecution(cfg.Symbol.Name)
	} else {
		exec = hyperliquid.NewClient(
			cfg.Exchange.RestURL,
			cfg.Exchange.Account,
			cfg.Exchange.APIKey,
			cfg.Symbol.Name,
			requestTimeout,
			slog.Default(),
		)
	}

	orders := engine.NewManager(engine.ManagerConfig{
		DryRun: cfg.Operational.DryRun,
		RetryPolicy: infra.RetryPolicy{
			MaxAttempts: cfg.Orders.RetryAttempts,
			BaseDelay:   time.Duration(cfg.Orders.RetryDelayMS) * time.Millisecond,
			Multiplier:  2,
		},
		RequestTimeout: requestTimeout,
		PriceTolerance: cfg.Grid.PriceTolerance,
	}, exec, slog.Default(), bootstrap.OrderLogger, bootstrap.Metrics)

	var store engine.FillRecorder
	if bootstrap.Storage != nil {
		store = bootstrap.Storage
	}

	eng := engine.NewEngine(engine.Config{
		Symbol:                cfg.Symbol.Name,
		DryRun:                cfg.Operational.DryRun,
		LoopInterval:          time.Duration(cfg.Operational.LoopIntervalSec) * time.Second,
		StartupDelay:          time.Duration(cfg.Operational.StartupDelaySec) * time.Second,
		PositionRefreshCycles: cfg.Operational.PositionRefreshCycles,
		StatusLogCycles:       cfg.Operational.StatusLogCycles,
		ReconcileInterval:     time.Duration(cfg.Orders.ReconcileIntervalSec) * time.Second,
		SaveInterval:          time.Duration(cfg.Persistence.SaveIntervalSec) * time.Second,
		ShutdownGrace:         time.Duration(cfg.Operational.ShutdownGraceSec) * time.Second,
	}, slog.Default(), replica, tracker, gate, grid, orders, exec, bootstrap.StateFile, store, bootstrap.Metrics)

	// Leverage is set once per session; a failure here means the venue
	// would reject every order anyway.
	if !cfg.Operational.DryRun {
		levCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		if err := exec.SetLeverage(levCtx, int(cfg.Capital.Leverage.IntPart())); err != nil {
			cancel()
			slog.Error("setting leverage failed", slog.Any("error", err))
			os.Exit(1)
		}
		cancel()
	}

	// Market-data and user-event feed. In dry-run mode only the book is
	// subscribed; user events require a live account.
	account := cfg.Exchange.Account
	if cfg.Operational.DryRun {
		account = ""
	}
	worker := hyperliquid.NewWorker(
		cfg.Exchange.WSURL,
		cfg.Symbol.Name,
		account,
		eng.MarketInbox(),
		eng.UserInbox(),
		slog.Default(),
		bootstrap.Metrics,
	)
	if err := worker.Connect(ctx); err != nil {
		slog.Error("feed connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer worker.Disconnect()

	slog.Info("market maker running, press Ctrl+C to exit")
	eng.Run(ctx)
}
