package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the shadowdesk platform.
type Config struct {
	Storage Storage       `yaml:"storage"`
	Server  Server        `yaml:"server"`
	Alpaca  Alpaca        `yaml:"alpaca"`
	Logging Logging       `yaml:"logging"`
	Feed    FeedConfig    `yaml:"feed"`
	Trading TradingConfig `yaml:"trading"`
	Jobs    JobsConfig    `yaml:"jobs"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// FeedConfig controls market data refresh jobs.
type FeedConfig struct {
	StartDate       string `yaml:"start_date"`
	BatchSize       int    `yaml:"batch_size"`
	MaxWorkers      int    `yaml:"max_workers"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// TradingConfig defines sizing and risk thresholds for the shadow book.
// The zero value is not usable; call Defaults (or Load, which applies
// them) to get the standard production parameters.
type TradingConfig struct {
	// Investment is the fixed notional every subscription is sized
	// against, independent of the account's actual capital.
	Investment float64 `yaml:"investment"`

	// MaxVar is the largest tolerated loss per side before the shadow
	// book stops mirroring entries.
	MaxVar float64 `yaml:"max_var"`

	// TakeProfit is the fraction of investment at which a side entered
	// today is closed out.
	TakeProfit float64 `yaml:"take_profit"`

	// EntryFactor scales investment by the live leg count to form the
	// minimum MTM required before entering from shadow.
	EntryFactor float64 `yaml:"entry_factor"`

	// DayHighDrawdownPct forces an exit once mtm falls to this fraction
	// of the day's high.
	DayHighDrawdownPct float64 `yaml:"day_high_drawdown_pct"`

	// SL-window entry band: enter with a stop when reset-mtm is inside
	// [SLWindowLow, SLWindowHigh) and days-high is under SLWindowMaxHigh.
	SLWindowLow     float64 `yaml:"sl_window_low"`
	SLWindowHigh    float64 `yaml:"sl_window_high"`
	SLWindowMaxHigh float64 `yaml:"sl_window_max_high"`

	// StopLossOffset is subtracted from (or added to) mtm when arming a
	// stop for an SL-window entry.
	StopLossOffset float64 `yaml:"stop_loss_offset"`

	// ReverseVar is the loss beyond which the opposite side is entered
	// as a reversal.
	ReverseVar float64 `yaml:"reverse_var"`

	// MaxEntryCount caps how many times a side may re-enter in one day.
	MaxEntryCount int `yaml:"max_entry_count"`

	// OngoingMaxPositions is the book-size cutover below which the
	// morning ongoing-trades window may still take positions over.
	OngoingMaxPositions int `yaml:"ongoing_max_positions"`

	// SplitJoinLevel is the per-side mtm sum at which split baskets are
	// force-exited late in the day.
	SplitJoinLevel float64 `yaml:"split_join_level"`

	// Algo names the algo whose subscriptions the driver ticks; StockGroup
	// names the trading universe; Signal picks the registered signal the
	// driver evaluates.
	Algo       string `yaml:"algo"`
	StockGroup string `yaml:"stock_group"`
	Signal     string `yaml:"signal"`

	PaperMode bool `yaml:"paper_mode"`
}

// JobsConfig parameterises the scheduled housekeeping jobs.
type JobsConfig struct {
	// IndexSymbol is the benchmark index instrument the opening-gap check
	// watches; GapThresholdPct is the move that trips it.
	IndexSymbol     string  `yaml:"index_symbol"`
	GapThresholdPct float64 `yaml:"gap_threshold_pct"`

	// BanListURL is the exchange's daily F&O security ban CSV.
	BanListURL string `yaml:"ban_list_url"`
}

// Defaults returns the standard production trading parameters.
func Defaults() TradingConfig {
	return TradingConfig{
		Investment:          15_000_000,
		MaxVar:              200_000.0 / 15_000_000.0,
		TakeProfit:          750_000.0 / 15_000_000.0,
		EntryFactor:         10 * 0.01 * 0.15 * 0.01,
		DayHighDrawdownPct:  0.5,
		SLWindowLow:         400_000,
		SLWindowHigh:        200_000,
		SLWindowMaxHigh:     600_000,
		StopLossOffset:      200_000,
		ReverseVar:          180_000,
		MaxEntryCount:       2,
		OngoingMaxPositions: 20,
		SplitJoinLevel:      750_000,
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, fills unset trading parameters with Defaults, and then
// applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyTradingDefaults(&cfg.Trading)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyTradingDefaults fills any zero-valued trading parameter with the
// production default. A file that sets only some thresholds keeps the rest.
func applyTradingDefaults(t *TradingConfig) {
	d := Defaults()
	if t.Investment == 0 {
		t.Investment = d.Investment
	}
	if t.MaxVar == 0 {
		t.MaxVar = d.MaxVar
	}
	if t.TakeProfit == 0 {
		t.TakeProfit = d.TakeProfit
	}
	if t.EntryFactor == 0 {
		t.EntryFactor = d.EntryFactor
	}
	if t.DayHighDrawdownPct == 0 {
		t.DayHighDrawdownPct = d.DayHighDrawdownPct
	}
	if t.SLWindowLow == 0 {
		t.SLWindowLow = d.SLWindowLow
	}
	if t.SLWindowHigh == 0 {
		t.SLWindowHigh = d.SLWindowHigh
	}
	if t.SLWindowMaxHigh == 0 {
		t.SLWindowMaxHigh = d.SLWindowMaxHigh
	}
	if t.StopLossOffset == 0 {
		t.StopLossOffset = d.StopLossOffset
	}
	if t.ReverseVar == 0 {
		t.ReverseVar = d.ReverseVar
	}
	if t.MaxEntryCount == 0 {
		t.MaxEntryCount = d.MaxEntryCount
	}
	if t.OngoingMaxPositions == 0 {
		t.OngoingMaxPositions = d.OngoingMaxPositions
	}
	if t.SplitJoinLevel == 0 {
		t.SplitJoinLevel = d.SplitJoinLevel
	}
	if t.Algo == "" {
		t.Algo = "shadow"
	}
	if t.StockGroup == "" {
		t.StockGroup = "Nifty50"
	}
	if t.Signal == "" {
		t.Signal = "sma-cross"
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
