package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Engine   Engine   `mapstructure:"engine" yaml:"engine"`
	Market   Market   `mapstructure:"market" yaml:"market"`
	Fees     Fees     `mapstructure:"fees" yaml:"fees"`
	Risk     Risk     `mapstructure:"risk" yaml:"risk"`
	Strategy Strategy `mapstructure:"strategy" yaml:"strategy"`
	Feed     Feed     `mapstructure:"feed" yaml:"feed"`
	Venue    Venue    `mapstructure:"venue" yaml:"venue"`
	Notify   Notify   `mapstructure:"notify" yaml:"notify"`
	Logger   Logger   `mapstructure:"logger" yaml:"logger"`
	Server   Server   `mapstructure:"server" yaml:"server"`
	Database Database `mapstructure:"database" yaml:"database"`
}

// Engine holds the configuration for the tick driver and ledger.
type Engine struct {
	Name            string        `mapstructure:"name" yaml:"name"`
	TickInterval    time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	StartingCash    float64       `mapstructure:"starting_cash" yaml:"starting_cash"`
	Mode            string        `mapstructure:"mode" yaml:"mode"`
	MaxTransactions int           `mapstructure:"max_transactions" yaml:"max_transactions"`
}

// Market holds the configuration for the price tick simulator and regime classification.
type Market struct {
	Symbols         []string           `mapstructure:"symbols" yaml:"symbols"`
	InitialPrices   map[string]float64 `mapstructure:"initial_prices" yaml:"initial_prices"`
	InitialVolume   float64            `mapstructure:"initial_volume" yaml:"initial_volume"`
	BaseVolatility  float64            `mapstructure:"base_volatility" yaml:"base_volatility"`
	RiskTolerance   string             `mapstructure:"risk_tolerance" yaml:"risk_tolerance"`
	MaxStepPct      float64            `mapstructure:"max_step_pct" yaml:"max_step_pct"`
	RegimeWindow    int                `mapstructure:"regime_window" yaml:"regime_window"`
	SignalWindow    int                `mapstructure:"signal_window" yaml:"signal_window"`
	ReferenceWindow int                `mapstructure:"reference_window" yaml:"reference_window"`
	Seed            int64              `mapstructure:"seed" yaml:"seed"`
}

// Fees holds the fee schedule applied by the execution gate.
type Fees struct {
	SwapRate     float64 `mapstructure:"swap_rate" yaml:"swap_rate"`
	SlippageRate float64 `mapstructure:"slippage_rate" yaml:"slippage_rate"`
	SimulatedGas float64 `mapstructure:"simulated_gas" yaml:"simulated_gas"`
	LiveGas      float64 `mapstructure:"live_gas" yaml:"live_gas"`
}

// Risk holds the exit thresholds and entry caps. Thresholds are fractions (-0.05 is -5%).
type Risk struct {
	StopLoss           float64 `mapstructure:"stop_loss" yaml:"stop_loss" json:"stop_loss"`
	TakeProfit         float64 `mapstructure:"take_profit" yaml:"take_profit" json:"take_profit"`
	TrailingPct        float64 `mapstructure:"trailing_pct" yaml:"trailing_pct" json:"trailing_pct"`
	TrailingFloor      float64 `mapstructure:"trailing_floor" yaml:"trailing_floor" json:"trailing_floor"`
	EmergencyTolerance float64 `mapstructure:"emergency_tolerance" yaml:"emergency_tolerance" json:"emergency_tolerance"`
	MaxConcentration   float64 `mapstructure:"max_concentration" yaml:"max_concentration" json:"max_concentration"`
	MaxPositions       int     `mapstructure:"max_positions" yaml:"max_positions" json:"max_positions"`
}

// Profile is one selectable strategy risk profile.
type Profile struct {
	Cooldown                 time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
	PositionSizeFraction     float64       `mapstructure:"position_size_fraction" yaml:"position_size_fraction"`
	VolatilityEntryThreshold float64       `mapstructure:"volatility_entry_threshold" yaml:"volatility_entry_threshold"`
}

// Strategy holds the configuration for the autonomous strategy engine.
type Strategy struct {
	Name                      string             `mapstructure:"name" yaml:"name"`
	Profile                   string             `mapstructure:"profile" yaml:"profile"`
	Profiles                  map[string]Profile `mapstructure:"profiles" yaml:"profiles"`
	SelectedSymbol            string             `mapstructure:"selected_symbol" yaml:"selected_symbol"`
	ReserveAssets             []string           `mapstructure:"reserve_assets" yaml:"reserve_assets"`
	BootstrapAssets           []string           `mapstructure:"bootstrap_assets" yaml:"bootstrap_assets"`
	RequireSignalConfirmation bool               `mapstructure:"require_signal_confirmation" yaml:"require_signal_confirmation"`
}

// Feed holds the configuration for the price feed.
type Feed struct {
	Source         string        `mapstructure:"source" yaml:"source"` // "simulated" or "binance"
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	Quote          string        `mapstructure:"quote" yaml:"quote"`
	RateLimit      float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
}

// Venue holds the configuration for the live settlement venue.
type Venue struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	ApiKey         string        `mapstructure:"api_key" yaml:"-"`
	ApiSecret      string        `mapstructure:"api_secret" yaml:"-"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout" yaml:"confirm_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	RateLimit      float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst"`
}

// Notify holds the configuration for notification sinks.
type Notify struct {
	BufferSize   int      `mapstructure:"buffer_size" yaml:"buffer_size"`
	WebhookURL   string   `mapstructure:"webhook_url" yaml:"-"`
	WebhookKinds []string `mapstructure:"webhook_kinds" yaml:"webhook_kinds"`
}

// Server holds the configuration for the API server.
type Server struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN               string `mapstructure:"dsn" yaml:"dsn"`
	TransactionsLimit int    `mapstructure:"transactions_limit" yaml:"transactions_limit"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// LoadConfig reads configuration from file or environment variables.
// A missing config file is not an error; defaults and the environment still apply.
func LoadConfig(path string) (config Config, err error) {
	// Secrets such as VENUE_API_KEY usually live in a .env file next to the binary.
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	SetDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return
		}
		err = nil
	}

	err = v.Unmarshal(&config)
	return
}

// Default returns the configuration built from defaults only.
func Default() Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

// SetDefaults registers the default value of every setting.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("engine.name", "paper-trader")
	v.SetDefault("engine.tick_interval", "5s")
	v.SetDefault("engine.starting_cash", 1000.0)
	v.SetDefault("engine.mode", "demo")
	v.SetDefault("engine.max_transactions", 1000)

	v.SetDefault("market.symbols", []string{"BNB", "ETH", "BTC", "SOL", "USDT"})
	v.SetDefault("market.initial_prices", map[string]float64{
		"BNB":  600,
		"ETH":  3000,
		"BTC":  60000,
		"SOL":  150,
		"USDT": 1,
	})
	v.SetDefault("market.initial_volume", 1000000.0)
	v.SetDefault("market.base_volatility", 0.002)
	v.SetDefault("market.risk_tolerance", "medium")
	v.SetDefault("market.max_step_pct", 0.05)
	v.SetDefault("market.regime_window", 20)
	v.SetDefault("market.signal_window", 64)
	v.SetDefault("market.reference_window", 288)
	v.SetDefault("market.seed", 0)

	v.SetDefault("fees.swap_rate", 0.003)
	v.SetDefault("fees.slippage_rate", 0.001)
	v.SetDefault("fees.simulated_gas", 0.0)
	v.SetDefault("fees.live_gas", 0.25)

	v.SetDefault("risk.stop_loss", -0.05)
	v.SetDefault("risk.take_profit", 0.10)
	v.SetDefault("risk.trailing_pct", 0.03)
	v.SetDefault("risk.trailing_floor", 0.02)
	v.SetDefault("risk.emergency_tolerance", 0.01)
	v.SetDefault("risk.max_concentration", 0.40)
	v.SetDefault("risk.max_positions", 5)

	v.SetDefault("strategy.name", "default")
	v.SetDefault("strategy.profile", "MODERATE")
	v.SetDefault("strategy.profiles", map[string]any{
		"AGGRESSIVE": map[string]any{
			"cooldown":                   "30s",
			"position_size_fraction":     0.25,
			"volatility_entry_threshold": 0.02,
		},
		"MODERATE": map[string]any{
			"cooldown":                   "2m",
			"position_size_fraction":     0.15,
			"volatility_entry_threshold": 0.05,
		},
		"CONSERVATIVE": map[string]any{
			"cooldown":                   "10m",
			"position_size_fraction":     0.05,
			"volatility_entry_threshold": 0.10,
		},
	})
	v.SetDefault("strategy.reserve_assets", []string{"USDT", "USDC", "BUSD"})
	v.SetDefault("strategy.bootstrap_assets", []string{"BNB", "ETH"})
	v.SetDefault("strategy.require_signal_confirmation", false)

	v.SetDefault("feed.source", "simulated")
	v.SetDefault("feed.base_url", "https://api.binance.com/api/v3")
	v.SetDefault("feed.quote", "USDT")
	v.SetDefault("feed.rate_limit", 20)      // requests per second
	v.SetDefault("feed.rate_limit_burst", 5) // burst size
	v.SetDefault("feed.timeout", "10s")
	v.SetDefault("feed.max_retries", 3)

	v.SetDefault("venue.base_url", "")
	v.SetDefault("venue.api_key", "")
	v.SetDefault("venue.api_secret", "")
	v.SetDefault("venue.confirm_timeout", "60s")
	v.SetDefault("venue.poll_interval", "2s")
	v.SetDefault("venue.rate_limit", 5)
	v.SetDefault("venue.rate_limit_burst", 2)

	v.SetDefault("notify.buffer_size", 200)
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.webhook_kinds", []string{"ALERT", "SYSTEM"})

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.dsn", "trader.db")
	v.SetDefault("database.transactions_limit", 100)
}
