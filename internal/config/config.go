// Package config loads application configuration from file and environment
// and bootstraps the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Oracle    OracleConfig    `yaml:"oracle" mapstructure:"oracle"`
	Resolver  ResolverConfig  `yaml:"resolver" mapstructure:"resolver"`
	Inference InferenceConfig `yaml:"inference" mapstructure:"inference"`
	Review    ReviewConfig    `yaml:"review" mapstructure:"review"`
	Taxonomy  TaxonomyConfig  `yaml:"taxonomy" mapstructure:"taxonomy"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// OracleConfig holds classification oracle settings.
type OracleConfig struct {
	Key            string  `yaml:"key" mapstructure:"key"`
	Model          string  `yaml:"model" mapstructure:"model"`
	MaxTokens      int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	PromptVersion  string  `yaml:"prompt_version" mapstructure:"prompt_version"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxConcurrency int     `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	RatePerSec     float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	MaxAttempts    int     `yaml:"max_attempts" mapstructure:"max_attempts"`

	// Retry backoff bounds in milliseconds.
	RetryInitialDelayMs int `yaml:"retry_initial_delay_ms" mapstructure:"retry_initial_delay_ms"`
	RetryMaxDelayMs     int `yaml:"retry_max_delay_ms" mapstructure:"retry_max_delay_ms"`
}

// ResolverConfig holds entity resolution policy knobs.
type ResolverConfig struct {
	TokenOverlapThreshold float64 `yaml:"token_overlap_threshold" mapstructure:"token_overlap_threshold"`
	MaxAliases            int     `yaml:"max_aliases" mapstructure:"max_aliases"`
}

// InferenceConfig holds exposure allocation policy toggles.
type InferenceConfig struct {
	PortfolioTotalValueUSD    float64 `yaml:"portfolio_total_value_usd" mapstructure:"portfolio_total_value_usd"`
	ScaleToNAV                bool    `yaml:"scale_to_nav" mapstructure:"scale_to_nav"`
	IncludeNonInvestmentItems bool    `yaml:"include_non_investment_items" mapstructure:"include_non_investment_items"`
	UsePublicMarketProxy      bool    `yaml:"use_public_market_proxy" mapstructure:"use_public_market_proxy"`
}

// ReviewConfig holds governance trigger thresholds and the priority policy.
type ReviewConfig struct {
	ConfidenceThreshold     float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	MaterialityThresholdUSD float64 `yaml:"materiality_threshold_usd" mapstructure:"materiality_threshold_usd"`
	HighConfidenceCutoff    float64 `yaml:"high_confidence_cutoff" mapstructure:"high_confidence_cutoff"`
}

// TaxonomyConfig selects the active taxonomy version.
type TaxonomyConfig struct {
	Version string `yaml:"version" mapstructure:"version"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the query API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LOOKTHROUGH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "lookthrough.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("oracle.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("oracle.max_tokens", 512)
	v.SetDefault("oracle.prompt_version", "v1")
	v.SetDefault("oracle.timeout_secs", 30)
	v.SetDefault("oracle.max_concurrency", 4)
	v.SetDefault("oracle.rate_per_sec", 2.0)
	v.SetDefault("oracle.max_attempts", 3)
	v.SetDefault("oracle.retry_initial_delay_ms", 500)
	v.SetDefault("oracle.retry_max_delay_ms", 30_000)
	v.SetDefault("resolver.token_overlap_threshold", 0.70)
	v.SetDefault("resolver.max_aliases", 50000)
	v.SetDefault("inference.portfolio_total_value_usd", 100_000_000)
	v.SetDefault("inference.scale_to_nav", true)
	v.SetDefault("inference.include_non_investment_items", false)
	v.SetDefault("inference.use_public_market_proxy", false)
	v.SetDefault("review.confidence_threshold", 0.70)
	v.SetDefault("review.materiality_threshold_usd", 1_000_000)
	v.SetDefault("review.high_confidence_cutoff", 0.30)
	v.SetDefault("taxonomy.version", "gics-2023")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if cfg.Inference.PortfolioTotalValueUSD <= 0 {
		return nil, eris.New("config: inference.portfolio_total_value_usd must be positive")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
