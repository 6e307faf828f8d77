// Package config loads and validates the provisioner configuration from a
// YAML file plus environment overrides.
package config

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/viper"
)

// Config holds all configuration for the liquidity provisioner
type Config struct {
	Solana        SolanaConfig        `mapstructure:"solana"`
	Relay         RelayConfig         `mapstructure:"relay"`
	Quote         QuoteConfig         `mapstructure:"quote"`
	Signer        SignerConfig        `mapstructure:"signer"`
	Provision     ProvisionConfig     `mapstructure:"provision"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Cache         CacheConfig         `mapstructure:"cache"`
	AWS           AWSConfig           `mapstructure:"aws"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	HTTP          HTTPConfig          `mapstructure:"http"`
}

// SolanaConfig holds ledger read-endpoint configuration
type SolanaConfig struct {
	RPCEndpoints []RPCEndpoint `mapstructure:"rpc_endpoints"`
	Commitment   string        `mapstructure:"commitment"`
	// Program IDs for the two pool programs, overridable for devnet.
	BinProgramID  string `mapstructure:"bin_program_id"`
	TickProgramID string `mapstructure:"tick_program_id"`

	parsedBinProgramID  solana.PublicKey
	parsedTickProgramID solana.PublicKey
}

// RPCEndpoint represents a weighted ledger RPC endpoint
type RPCEndpoint struct {
	URL    string `mapstructure:"url"`
	Weight int    `mapstructure:"weight"`
}

// BinProgram returns the parsed bin-model (DLMM) program ID.
func (s *SolanaConfig) BinProgram() solana.PublicKey { return s.parsedBinProgramID }

// TickProgram returns the parsed tick-model (CLMM) program ID.
func (s *SolanaConfig) TickProgram() solana.PublicKey { return s.parsedTickProgramID }

// RelayConfig holds block-builder relay (bundle) configuration
type RelayConfig struct {
	URL string `mapstructure:"url"`
	// TipLamports maps tip speed names to tip sizes in lamports.
	TipLamports   map[string]uint64 `mapstructure:"tip_lamports"`
	BundleTimeout time.Duration     `mapstructure:"bundle_timeout"`
	PollInterval  time.Duration     `mapstructure:"poll_interval"`
}

// QuoteConfig holds swap-quote service configuration
type QuoteConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RateLimitRPM   int           `mapstructure:"rate_limit_rpm"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// SignerConfig holds wallet-signing service configuration
type SignerConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ProvisionConfig holds pipeline tuning knobs
type ProvisionConfig struct {
	// FeeBps is the protocol fee in basis points applied to the gross
	// funding amount.
	FeeBps uint16 `mapstructure:"fee_bps"`
	// FeeDustLamports waives fees below this threshold instead of emitting
	// a near-zero transfer.
	FeeDustLamports uint64 `mapstructure:"fee_dust_lamports"`
	// FeeCollector receives protocol fees.
	FeeCollector string `mapstructure:"fee_collector"`
	// SettleDelay is the pause between consecutive direct-path broadcasts,
	// long enough for the prior transaction's effects to be committed.
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	// ConfirmTimeout bounds signature confirmation polling per envelope.
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	// QuoteTimeout bounds each swap-quote fetch.
	QuoteTimeout time.Duration `mapstructure:"quote_timeout"`
	// StaleHandleRetries caps re-assembly attempts on expired blockhashes.
	StaleHandleRetries int `mapstructure:"stale_handle_retries"`
	// ComputeUnitLimit and ComputeUnitPrice are injected into locally
	// composed envelopes.
	ComputeUnitLimit              uint32 `mapstructure:"compute_unit_limit"`
	ComputeUnitPriceMicroLamports uint64 `mapstructure:"compute_unit_price_micro_lamports"`
	// MaxConcurrentIntents bounds independent intents running in parallel.
	MaxConcurrentIntents int `mapstructure:"max_concurrent_intents"`

	parsedFeeCollector solana.PublicKey
}

// FeeCollectorKey returns the parsed fee collector address.
func (p *ProvisionConfig) FeeCollectorKey() solana.PublicKey { return p.parsedFeeCollector }

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig holds position-cache configuration
type CacheConfig struct {
	L1MaxSize int           `mapstructure:"l1_max_size"`
	L2TTL     time.Duration `mapstructure:"l2_ttl"`
}

// AWSConfig holds AWS service configuration (SNS result notifications)
type AWSConfig struct {
	Region      string `mapstructure:"region"`
	SNSTopicARN string `mapstructure:"sns_topic_arn"`
	Enabled     bool   `mapstructure:"enabled"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// TracingConfig holds tracing settings
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not fatal if env vars are set
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.parse(); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Solana defaults
	v.SetDefault("solana.commitment", "confirmed")
	v.SetDefault("solana.bin_program_id", "LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo")
	v.SetDefault("solana.tick_program_id", "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc")

	// Relay defaults
	v.SetDefault("relay.url", "https://mainnet.block-engine.jito.wtf/api/v1")
	v.SetDefault("relay.bundle_timeout", "60s")
	v.SetDefault("relay.poll_interval", "2s")
	v.SetDefault("relay.tip_lamports", map[string]uint64{
		"slow":  10_000,
		"fast":  100_000,
		"turbo": 1_000_000,
	})

	// Quote defaults
	v.SetDefault("quote.base_url", "https://quote-api.jup.ag/v6")
	v.SetDefault("quote.timeout", "10s")
	v.SetDefault("quote.rate_limit_rpm", 600)
	v.SetDefault("quote.rate_limit_burst", 20)

	// Signer defaults
	v.SetDefault("signer.timeout", "30s")

	// Provision defaults
	v.SetDefault("provision.fee_bps", 85)
	v.SetDefault("provision.fee_dust_lamports", 5000)
	v.SetDefault("provision.settle_delay", "3s")
	v.SetDefault("provision.confirm_timeout", "45s")
	v.SetDefault("provision.quote_timeout", "15s")
	v.SetDefault("provision.stale_handle_retries", 2)
	v.SetDefault("provision.compute_unit_limit", 800_000)
	v.SetDefault("provision.compute_unit_price_micro_lamports", 10_000)
	v.SetDefault("provision.max_concurrent_intents", 8)

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Cache defaults
	v.SetDefault("cache.l1_max_size", 1000)
	v.SetDefault("cache.l2_ttl", "60s")

	// AWS defaults
	v.SetDefault("aws.enabled", false)
	v.SetDefault("aws.region", "us-east-1")

	// Observability defaults
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.port", 9091)
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")

	// HTTP defaults
	v.SetDefault("http.port", 8080)
}

// parse converts string fields into their typed forms
func (c *Config) parse() error {
	binID, err := solana.PublicKeyFromBase58(c.Solana.BinProgramID)
	if err != nil {
		return fmt.Errorf("invalid bin program id %q: %w", c.Solana.BinProgramID, err)
	}
	c.Solana.parsedBinProgramID = binID

	tickID, err := solana.PublicKeyFromBase58(c.Solana.TickProgramID)
	if err != nil {
		return fmt.Errorf("invalid tick program id %q: %w", c.Solana.TickProgramID, err)
	}
	c.Solana.parsedTickProgramID = tickID

	if c.Provision.FeeCollector != "" {
		collector, err := solana.PublicKeyFromBase58(c.Provision.FeeCollector)
		if err != nil {
			return fmt.Errorf("invalid fee collector %q: %w", c.Provision.FeeCollector, err)
		}
		c.Provision.parsedFeeCollector = collector
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Solana.RPCEndpoints) == 0 {
		return fmt.Errorf("at least one RPC endpoint is required")
	}
	for _, ep := range c.Solana.RPCEndpoints {
		if ep.URL == "" {
			return fmt.Errorf("RPC endpoint URL cannot be empty")
		}
	}

	if c.Signer.URL == "" {
		return fmt.Errorf("signer service URL is required")
	}

	if c.Quote.BaseURL == "" {
		return fmt.Errorf("quote service base URL is required")
	}

	if c.Provision.FeeBps >= 10_000 {
		return fmt.Errorf("fee_bps must be below 10000, got %d", c.Provision.FeeBps)
	}
	if c.Provision.FeeBps > 0 && c.Provision.FeeCollector == "" {
		return fmt.Errorf("fee_collector is required when fee_bps > 0")
	}

	if c.Provision.SettleDelay <= 0 {
		return fmt.Errorf("settle_delay must be positive")
	}
	if c.Provision.ConfirmTimeout <= 0 {
		return fmt.Errorf("confirm_timeout must be positive")
	}

	if len(c.Relay.TipLamports) == 0 {
		return fmt.Errorf("at least one relay tip tier is required")
	}

	if c.Redis.Address == "" {
		return fmt.Errorf("redis address is required")
	}

	if c.AWS.Enabled && c.AWS.SNSTopicARN == "" {
		return fmt.Errorf("sns_topic_arn is required when aws notifications are enabled")
	}

	return nil
}
