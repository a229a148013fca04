package infra

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of the market maker. Loaded from YAML, then
// sensitive values are overridden from the environment.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Exchange struct {
		Name    string `yaml:"name"`
		RestURL string `yaml:"rest_url"`
		WSURL   string `yaml:"ws_url"`
		Testnet bool   `yaml:"testnet"`
		Account string `yaml:"account"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"exchange"`

	Symbol struct {
		Name           string `yaml:"name"`
		PricePrecision int32  `yaml:"price_precision"`
	} `yaml:"symbol"`

	Capital struct {
		InitialUSD decimal.Decimal `yaml:"initial_usd"`
		Leverage   decimal.Decimal `yaml:"leverage"`
	} `yaml:"capital"`

	Grid struct {
		SpacingPct     decimal.Decimal `yaml:"spacing_pct"` // percent per level
		NumLevels      int             `yaml:"num_levels"`
		OrderNotional  decimal.Decimal `yaml:"order_notional_usd"`
		SlideThreshold decimal.Decimal `yaml:"slide_threshold_pct"` // percent of mid
		PriceTolerance decimal.Decimal `yaml:"price_tolerance"`     // absolute
	} `yaml:"grid"`

	Inventory struct {
		MaxPositionPct decimal.Decimal `yaml:"max_position_pct"` // fraction 0..1
		SkewThreshold  decimal.Decimal `yaml:"skew_threshold_pct"`
		BiasStrength   decimal.Decimal `yaml:"bias_strength"`
	} `yaml:"inventory"`

	Risk struct {
		MaxLossPct      decimal.Decimal `yaml:"max_loss_pct"` // percent of capital
		MaxLeverage     decimal.Decimal `yaml:"max_leverage"`
		MaxPositionSize decimal.Decimal `yaml:"max_position_size"`
	} `yaml:"risk"`

	Orders struct {
		RetryAttempts        int `yaml:"retry_attempts"`
		RetryDelayMS         int `yaml:"retry_delay_ms"`
		RequestTimeoutMS     int `yaml:"request_timeout_ms"`
		ReconcileIntervalSec int `yaml:"reconcile_interval_sec"`
	} `yaml:"orders"`

	Operational struct {
		DryRun                bool `yaml:"dry_run"`
		LoopIntervalSec       int  `yaml:"main_loop_interval_sec"`
		StartupDelaySec       int  `yaml:"startup_delay_sec"`
		PositionRefreshCycles int  `yaml:"position_refresh_cycles"`
		StatusLogCycles       int  `yaml:"status_log_cycles"`
		StalenessSec          int  `yaml:"staleness_sec"`
		ShutdownGraceSec      int  `yaml:"shutdown_grace_sec"`
	} `yaml:"operational"`

	Persistence struct {
		Enabled         bool   `yaml:"enabled"`
		StateFile       string `yaml:"state_file"`
		Database        string `yaml:"database"`
		SaveIntervalSec int    `yaml:"save_interval_sec"`
	} `yaml:"persistence"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, applies environment
// overrides, and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Symbol.Name == "" {
		return fmt.Errorf("symbol name is required")
	}
	if c.Exchange.WSURL == "" || (!strings.HasPrefix(c.Exchange.WSURL, "ws://") && !strings.HasPrefix(c.Exchange.WSURL, "wss://")) {
		return fmt.Errorf("invalid exchange WS URL: %s", c.Exchange.WSURL)
	}
	if c.Exchange.RestURL == "" || !strings.HasPrefix(c.Exchange.RestURL, "http") {
		return fmt.Errorf("invalid exchange REST URL: %s", c.Exchange.RestURL)
	}

	if !c.Capital.InitialUSD.IsPositive() {
		return fmt.Errorf("initial capital must be positive")
	}
	if !c.Capital.Leverage.IsPositive() {
		return fmt.Errorf("leverage must be positive")
	}

	if c.Grid.NumLevels <= 0 {
		return fmt.Errorf("grid must have at least one level")
	}
	if !c.Grid.SpacingPct.IsPositive() {
		return fmt.Errorf("grid spacing must be positive")
	}
	if !c.Grid.OrderNotional.IsPositive() {
		return fmt.Errorf("order notional must be positive")
	}

	if c.Inventory.SkewThreshold.IsNegative() || c.Inventory.SkewThreshold.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return fmt.Errorf("skew threshold must be in [0, 100)")
	}

	if !c.Risk.MaxLossPct.IsPositive() {
		return fmt.Errorf("max loss pct must be positive")
	}

	if c.Orders.RetryAttempts <= 0 {
		c.Orders.RetryAttempts = 3
	}
	if c.Orders.RetryDelayMS <= 0 {
		c.Orders.RetryDelayMS = 500
	}
	if c.Orders.RequestTimeoutMS <= 0 {
		c.Orders.RequestTimeoutMS = 5000
	}
	if c.Orders.ReconcileIntervalSec <= 0 {
		c.Orders.ReconcileIntervalSec = 30
	}

	if c.Operational.LoopIntervalSec <= 0 {
		c.Operational.LoopIntervalSec = 1
	}
	if c.Operational.PositionRefreshCycles <= 0 {
		c.Operational.PositionRefreshCycles = 10
	}
	if c.Operational.StatusLogCycles <= 0 {
		c.Operational.StatusLogCycles = 10
	}
	if c.Operational.StalenessSec <= 0 {
		c.Operational.StalenessSec = 5
	}
	if c.Operational.ShutdownGraceSec <= 0 {
		c.Operational.ShutdownGraceSec = 10
	}

	if c.Persistence.Enabled && c.Persistence.StateFile == "" {
		return fmt.Errorf("persistence enabled but state_file is empty")
	}
	if c.Persistence.SaveIntervalSec <= 0 {
		c.Persistence.SaveIntervalSec = 60
	}

	return nil
}

// overrideWithEnv applies environment overrides for sensitive values.
func overrideWithEnv(cfg *Config) {
	if account := os.Getenv("MM_EXCHANGE_ACCOUNT"); account != "" {
		cfg.Exchange.Account = account
	}
	if key := os.Getenv("MM_EXCHANGE_API_KEY"); key != "" {
		cfg.Exchange.APIKey = key
	}
}
