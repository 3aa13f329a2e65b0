// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	GasTuner  GasTunerConfig  `mapstructure:"gas_tuner"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Mempool   MempoolConfig   `mapstructure:"mempool"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

// ChainConfig holds the target chain and its RPC endpoints, in priority
// order. The first endpoint is preferred; later ones are failover.
type ChainConfig struct {
	ID                  uint64        `mapstructure:"id"`
	NativeSymbol        string        `mapstructure:"native_symbol"`
	Endpoints           []string      `mapstructure:"endpoints"`
	CallTimeout         time.Duration `mapstructure:"call_timeout"`
	EndpointCooldown    time.Duration `mapstructure:"endpoint_cooldown"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	RateLimitPerMinute  int           `mapstructure:"rate_limit_per_minute"`
	MaxGasPriceGwei     int64         `mapstructure:"max_gas_price_gwei"`
}

// RegistryConfig points at the external pool registry file.
type RegistryConfig struct {
	Path string `mapstructure:"path"`
}

// CacheConfig holds the dual-horizon cache settings. PairPriceTTL must not
// exceed TvlTTL: prices move faster than liquidity depth.
type CacheConfig struct {
	Dir           string        `mapstructure:"dir"`
	PairPriceTTL  time.Duration `mapstructure:"pair_price_ttl"`
	TvlTTL        time.Duration `mapstructure:"tvl_ttl"`
	OracleTTL     time.Duration `mapstructure:"oracle_ttl"`
	RouterGasTTL  time.Duration `mapstructure:"router_gas_ttl"`
	SweepInterval string        `mapstructure:"sweep_interval"` // cron spec
}

// OracleConfig holds the USD price source settings.
type OracleConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ScannerConfig drives the scan loop.
type ScannerConfig struct {
	Interval           time.Duration `mapstructure:"interval"`
	MaxTwoHopGasUSD    float64       `mapstructure:"max_two_hop_gas_usd"`
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
	ReportTopN         int           `mapstructure:"report_top_n"`
	DailyRolloverCron  string        `mapstructure:"daily_rollover_cron"`
}

// GasTierConfig is one tier of search parameters. MaxHopCostUSD is the
// exclusive upper bound on gas-cost-per-hop for the tier; the last tier's
// bound is ignored (it catches everything above the previous one).
type GasTierConfig struct {
	Name             string    `mapstructure:"name"`
	MaxHopCostUSD    float64   `mapstructure:"max_hop_cost_usd"`
	MaxHops          int       `mapstructure:"max_hops"`
	MinProfitUSD     float64   `mapstructure:"min_profit_usd"`
	TradeSizesUSD    []float64 `mapstructure:"trade_sizes_usd"`
	MinPoolTVLUSD    float64   `mapstructure:"min_pool_tvl_usd"`
	MaxPathsPerToken int       `mapstructure:"max_paths_per_token"`
}

// GasTunerConfig holds the gas-per-hop estimates and the tier table.
type GasTunerConfig struct {
	UseFlashLoans    bool            `mapstructure:"use_flash_loans"`
	GasPerHopFlash   uint64          `mapstructure:"gas_per_hop_flash"`
	GasPerHopDirect  uint64          `mapstructure:"gas_per_hop_direct"`
	Tiers            []GasTierConfig `mapstructure:"tiers"`
	FallbackGasGwei  int64           `mapstructure:"fallback_gas_gwei"`
}

// ExecutionConfig holds the settlement contract, wallet, and safety limits.
type ExecutionConfig struct {
	AutoExecute          bool          `mapstructure:"auto_execute"`
	ContractAddress      string        `mapstructure:"contract_address"`
	PrivateKey           string        `mapstructure:"private_key"` // env only, never in file
	HasWalletCapital     bool          `mapstructure:"has_wallet_capital"`
	MaxTradeSizeUSD      float64       `mapstructure:"max_trade_size_usd"`
	MinProfitAfterGasUSD float64       `mapstructure:"min_profit_after_gas_usd"`
	MaxSlippagePct       float64       `mapstructure:"max_slippage_pct"`
	MaxGasCostPct        float64       `mapstructure:"max_gas_cost_pct"`
	MaxTradesPerHour     int           `mapstructure:"max_trades_per_hour"`
	MaxDailyLossUSD      float64       `mapstructure:"max_daily_loss_usd"`
	Cooldown             time.Duration `mapstructure:"cooldown"`
	KillOnFailedTrades   int           `mapstructure:"kill_on_failed_trades"`
	ProfitDriftPct       float64       `mapstructure:"profit_drift_pct"`
	ProfitFloorPct       float64       `mapstructure:"profit_floor_pct"`
	ReceiptTimeout       time.Duration `mapstructure:"receipt_timeout"`
	TradeLogPath         string        `mapstructure:"trade_log_path"`
}

// MempoolConfig controls the optional pending-transaction watcher.
type MempoolConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	WebSocketURL string `mapstructure:"websocket_url"`
}

// TelemetryConfig holds observability configuration.
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	PrometheusPort int    `mapstructure:"prometheus_port"`
	HealthPort     int    `mapstructure:"health_port"`
}

// ContractAddressHex returns the settlement contract address.
func (c *ExecutionConfig) ContractAddressHex() common.Address {
	return common.HexToAddress(c.ContractAddress)
}

// MaxTradeSizeDecimal returns the max trade size as decimal.Decimal.
func (c *ExecutionConfig) MaxTradeSizeDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.MaxTradeSizeUSD)
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("ARB")
	v.AutomaticEnv()

	bindEnvVars(v)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	v.BindEnv("app.name", "ARB_APP_NAME", "SERVICE_NAME")
	v.BindEnv("app.environment", "ARB_ENVIRONMENT", "ENVIRONMENT")
	v.BindEnv("app.log_level", "ARB_LOG_LEVEL", "LOG_LEVEL")

	v.BindEnv("chain.id", "ARB_CHAIN_ID", "CHAIN_ID")
	v.BindEnv("chain.endpoints", "ARB_RPC_ENDPOINTS", "RPC_ENDPOINTS")

	v.BindEnv("registry.path", "ARB_POOL_REGISTRY", "POOL_REGISTRY")
	v.BindEnv("cache.dir", "ARB_CACHE_DIR", "CACHE_DIR")

	v.BindEnv("execution.contract_address", "ARB_CONTRACT_ADDRESS", "CONTRACT_ADDRESS")
	v.BindEnv("execution.private_key", "ARB_PRIVATE_KEY", "PRIVATE_KEY")
	v.BindEnv("execution.auto_execute", "ARB_AUTO_EXECUTE")

	v.BindEnv("mempool.websocket_url", "ARB_MEMPOOL_WS_URL")

	v.BindEnv("telemetry.enabled", "ARB_OTEL_ENABLED", "OTEL_ENABLED")
	v.BindEnv("telemetry.service_name", "ARB_OTEL_SERVICE_NAME", "OTEL_SERVICE_NAME")
	v.BindEnv("telemetry.otlp_endpoint", "ARB_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "arb-engine")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	// Polygon mainnet
	v.SetDefault("chain.id", 137)
	v.SetDefault("chain.native_symbol", "POL")
	v.SetDefault("chain.call_timeout", "10s")
	v.SetDefault("chain.endpoint_cooldown", "60s")
	v.SetDefault("chain.health_check_interval", "30s")
	v.SetDefault("chain.rate_limit_per_minute", 600)
	v.SetDefault("chain.max_gas_price_gwei", 500)

	v.SetDefault("registry.path", "pool_registry.json")

	v.SetDefault("cache.dir", "./cache")
	v.SetDefault("cache.pair_price_ttl", "1h")
	v.SetDefault("cache.tvl_ttl", "3h")
	v.SetDefault("cache.oracle_ttl", "1h")
	v.SetDefault("cache.router_gas_ttl", "12h")
	v.SetDefault("cache.sweep_interval", "@every 30m")

	v.SetDefault("oracle.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("oracle.request_timeout", "10s")

	v.SetDefault("scanner.interval", "30s")
	v.SetDefault("scanner.max_two_hop_gas_usd", 2.0)
	v.SetDefault("scanner.fetch_timeout", "20s")
	v.SetDefault("scanner.report_top_n", 10)
	v.SetDefault("scanner.daily_rollover_cron", "0 0 * * *")

	v.SetDefault("gas_tuner.use_flash_loans", true)
	v.SetDefault("gas_tuner.gas_per_hop_flash", 150000)
	v.SetDefault("gas_tuner.gas_per_hop_direct", 120000)
	v.SetDefault("gas_tuner.fallback_gas_gwei", 40)
	v.SetDefault("gas_tuner.tiers", defaultTiers())

	v.SetDefault("execution.auto_execute", false)
	v.SetDefault("execution.has_wallet_capital", false)
	v.SetDefault("execution.max_trade_size_usd", 10000.0)
	v.SetDefault("execution.min_profit_after_gas_usd", 2.0)
	v.SetDefault("execution.max_slippage_pct", 2.0)
	v.SetDefault("execution.max_gas_cost_pct", 30.0)
	v.SetDefault("execution.max_trades_per_hour", 20)
	v.SetDefault("execution.max_daily_loss_usd", 100.0)
	v.SetDefault("execution.cooldown", "30s")
	v.SetDefault("execution.kill_on_failed_trades", 3)
	v.SetDefault("execution.profit_drift_pct", 10.0)
	v.SetDefault("execution.profit_floor_pct", 95.0)
	v.SetDefault("execution.receipt_timeout", "2m")
	v.SetDefault("execution.trade_log_path", "./trades.db")

	v.SetDefault("mempool.enabled", false)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "arb-engine")
	v.SetDefault("telemetry.prometheus_port", 9090)
	v.SetDefault("telemetry.health_port", 8081)
}

// defaultTiers mirrors the production tuning: more conservative search as
// gas gets more expensive.
func defaultTiers() []map[string]any {
	return []map[string]any{
		{
			"name":                "cheap",
			"max_hop_cost_usd":    0.20,
			"max_hops":            4,
			"min_profit_usd":      1.0,
			"trade_sizes_usd":     []float64{2000, 10000, 50000},
			"min_pool_tvl_usd":    5000.0,
			"max_paths_per_token": 100,
		},
		{
			"name":                "normal",
			"max_hop_cost_usd":    0.40,
			"max_hops":            3,
			"min_profit_usd":      2.0,
			"trade_sizes_usd":     []float64{5000, 15000, 50000},
			"min_pool_tvl_usd":    10000.0,
			"max_paths_per_token": 75,
		},
		{
			"name":                "expensive",
			"max_hop_cost_usd":    0.70,
			"max_hops":            2,
			"min_profit_usd":      3.0,
			"trade_sizes_usd":     []float64{10000, 25000, 100000},
			"min_pool_tvl_usd":    20000.0,
			"max_paths_per_token": 50,
		},
		{
			"name":                "very_expensive",
			"max_hop_cost_usd":    0, // last tier: open-ended
			"max_hops":            2,
			"min_profit_usd":      5.0,
			"trade_sizes_usd":     []float64{25000, 100000},
			"min_pool_tvl_usd":    50000.0,
			"max_paths_per_token": 25,
		},
	}
}

// Validate validates the configuration. Errors here are fatal at startup.
func (c *Config) Validate() error {
	if len(c.Chain.Endpoints) == 0 {
		return fmt.Errorf("chain.endpoints cannot be empty")
	}
	if c.Registry.Path == "" {
		return fmt.Errorf("registry.path is required")
	}
	if c.Cache.PairPriceTTL > c.Cache.TvlTTL {
		return fmt.Errorf("cache.pair_price_ttl (%s) must not exceed cache.tvl_ttl (%s)",
			c.Cache.PairPriceTTL, c.Cache.TvlTTL)
	}
	if c.Execution.AutoExecute {
		if !common.IsHexAddress(c.Execution.ContractAddress) {
			return fmt.Errorf("invalid execution.contract_address: %q", c.Execution.ContractAddress)
		}
		if c.Execution.PrivateKey == "" {
			return fmt.Errorf("execution.private_key is required when auto_execute is on")
		}
	}
	if c.Execution.ProfitFloorPct <= 0 || c.Execution.ProfitFloorPct > 100 {
		return fmt.Errorf("execution.profit_floor_pct must be in (0, 100]")
	}
	return c.validateTiers()
}

// validateTiers enforces the tuner invariant: as gas rises, max_hops never
// increases and min_profit never decreases.
func (c *Config) validateTiers() error {
	tiers := c.GasTuner.Tiers
	if len(tiers) == 0 {
		return fmt.Errorf("gas_tuner.tiers cannot be empty")
	}

	for i, t := range tiers {
		if t.MaxHops < 2 {
			return fmt.Errorf("gas_tuner.tiers[%d].max_hops must be >= 2", i)
		}
		if len(t.TradeSizesUSD) == 0 {
			return fmt.Errorf("gas_tuner.tiers[%d].trade_sizes_usd cannot be empty", i)
		}
		if i == 0 {
			continue
		}
		prev := tiers[i-1]
		if i < len(tiers)-1 && t.MaxHopCostUSD <= prev.MaxHopCostUSD {
			return fmt.Errorf("gas_tuner.tiers[%d].max_hop_cost_usd must exceed tier %d's", i, i-1)
		}
		if t.MaxHops > prev.MaxHops {
			return fmt.Errorf("gas_tuner.tiers[%d].max_hops must not exceed tier %d's", i, i-1)
		}
		if t.MinProfitUSD < prev.MinProfitUSD {
			return fmt.Errorf("gas_tuner.tiers[%d].min_profit_usd must not be below tier %d's", i, i-1)
		}
	}
	return nil
}
