package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/croptimal/blend-service/internal/blend"
	"github.com/croptimal/blend-service/internal/pricing"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Blend     BlendConfig     `mapstructure:"blend"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Providers ProvidersConfig `mapstructure:"providers"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// PricingConfig holds the price repository freshness and refresh settings
type PricingConfig struct {
	FreshnessWindow    time.Duration `mapstructure:"freshness_window"`
	UnavailableCeiling time.Duration `mapstructure:"unavailable_ceiling"`
	ProviderTimeout    time.Duration `mapstructure:"provider_timeout"`
	RefreshConcurrency int           `mapstructure:"refresh_concurrency"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
}

// BlendConfig holds the optimizer tolerances and weightings
type BlendConfig struct {
	DeficitTolerance   float64       `mapstructure:"deficit_tolerance"`
	DedupeTolerance    float64       `mapstructure:"dedupe_tolerance"`
	BalancedCostWeight float64       `mapstructure:"balanced_cost_weight"`
	BalancedEnvWeight  float64       `mapstructure:"balanced_env_weight"`
	RankTimeout        time.Duration `mapstructure:"rank_timeout"`
	MaxProducts        int           `mapstructure:"max_products"`
	SolverMaxIters     int           `mapstructure:"solver_max_iters"`
}

// CatalogConfig points at the fertilizer product catalog file
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// ProvidersConfig holds per-provider settings
type ProvidersConfig struct {
	AgMarket   AgMarketConfig   `mapstructure:"agmarket"`
	PriceSheet PriceSheetConfig `mapstructure:"pricesheet"`
	Static     StaticConfig     `mapstructure:"static"`
}

// AgMarketConfig configures the commodity market API provider
type AgMarketConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// PriceSheetConfig configures the dealer price sheet provider
type PriceSheetConfig struct {
	// Source is a local file path or an http(s) URL.
	Source         string        `mapstructure:"source"`
	ReloadInterval time.Duration `mapstructure:"reload_interval"`
}

// StaticConfig configures the fixed-price fallback provider
type StaticConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// RateLimitConfig holds outbound HTTP rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
	MaxRetries        int `mapstructure:"max_retries"`
	InitialBackoffMs  int `mapstructure:"initial_backoff_ms"`
	MaxBackoffMs      int `mapstructure:"max_backoff_ms"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	NoColor bool   `mapstructure:"no_color"`
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

var globalConfig *Config

// Load loads the configuration from file, .env, and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// Load .env file, optional
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Warning: .env file not loaded")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvPrefix("BLEND_SERVICE")

	// Bind env keys for nested config
	bindEnvVars(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

// bindEnvVars binds environment variables to config keys
func bindEnvVars(v *viper.Viper) {
	// Database
	v.BindEnv("database.url", "DATABASE_URL")

	// Server
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.host", "HOST")

	// Logging
	v.BindEnv("logging.level", "LOG_LEVEL")

	// Catalog
	v.BindEnv("catalog.path", "CATALOG_PATH")

	// Providers
	v.BindEnv("providers.agmarket.base_url", "AGMARKET_BASE_URL")
	v.BindEnv("providers.agmarket.api_key", "AGMARKET_API_KEY")
	v.BindEnv("providers.pricesheet.source", "PRICESHEET_SOURCE")

	// Telemetry
	v.BindEnv("telemetry.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.max_conn_lifetime", 1*time.Hour)
	v.SetDefault("database.max_conn_idle_time", 30*time.Minute)

	// Pricing defaults
	v.SetDefault("pricing.freshness_window", 24*time.Hour)
	v.SetDefault("pricing.unavailable_ceiling", 7*24*time.Hour)
	v.SetDefault("pricing.provider_timeout", 5*time.Second)
	v.SetDefault("pricing.refresh_concurrency", 4)
	v.SetDefault("pricing.sweep_interval", 6*time.Hour)

	// Blend defaults
	v.SetDefault("blend.deficit_tolerance", 0.0)
	v.SetDefault("blend.dedupe_tolerance", 0.01)
	v.SetDefault("blend.balanced_cost_weight", 0.5)
	v.SetDefault("blend.balanced_env_weight", 0.5)
	v.SetDefault("blend.rank_timeout", 10*time.Second)
	v.SetDefault("blend.max_products", 200)
	v.SetDefault("blend.solver_max_iters", 5000)

	// Catalog defaults
	v.SetDefault("catalog.path", "./data/products.xlsx")

	// Provider defaults
	v.SetDefault("providers.pricesheet.reload_interval", 1*time.Hour)
	v.SetDefault("providers.static.enabled", false)

	// Rate limit defaults
	v.SetDefault("rate_limit.requests_per_second", 2)
	v.SetDefault("rate_limit.max_retries", 3)
	v.SetDefault("rate_limit.initial_backoff_ms", 100)
	v.SetDefault("rate_limit.max_backoff_ms", 30000)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.no_color", false)

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "opentelemetry-collector:4317")
}

// Get returns the global configuration
func Get() *Config {
	return globalConfig
}

// GetDatabaseURL returns the database URL from config or environment
func GetDatabaseURL() string {
	if cfg := Get(); cfg != nil && cfg.Database.URL != "" {
		return cfg.Database.URL
	}
	return os.Getenv("DATABASE_URL")
}

// PricingConfig converts the loaded section into the repository's config,
// falling back to defaults for unset fields.
func (c *Config) PricingConfig() *pricing.Config {
	cfg := pricing.DefaultConfig()
	if c.Pricing.FreshnessWindow > 0 {
		cfg.FreshnessWindow = c.Pricing.FreshnessWindow
	}
	if c.Pricing.UnavailableCeiling > 0 {
		cfg.UnavailableCeiling = c.Pricing.UnavailableCeiling
	}
	if c.Pricing.ProviderTimeout > 0 {
		cfg.ProviderTimeout = c.Pricing.ProviderTimeout
	}
	if c.Pricing.RefreshConcurrency > 0 {
		cfg.RefreshConcurrency = c.Pricing.RefreshConcurrency
	}
	if c.Pricing.SweepInterval > 0 {
		cfg.SweepInterval = c.Pricing.SweepInterval
	}
	return cfg
}

// BlendConfig converts the loaded section into the optimizer's config,
// falling back to defaults for unset fields.
func (c *Config) BlendConfig() *blend.Config {
	cfg := blend.DefaultConfig()
	cfg.DeficitTolerance = c.Blend.DeficitTolerance
	if c.Blend.DedupeTolerance > 0 {
		cfg.DedupeTolerance = c.Blend.DedupeTolerance
	}
	if c.Blend.BalancedCostWeight > 0 || c.Blend.BalancedEnvWeight > 0 {
		cfg.BalancedCostWeight = c.Blend.BalancedCostWeight
		cfg.BalancedEnvWeight = c.Blend.BalancedEnvWeight
	}
	if c.Blend.RankTimeout > 0 {
		cfg.RankTimeout = c.Blend.RankTimeout
	}
	if c.Blend.MaxProducts > 0 {
		cfg.MaxProducts = c.Blend.MaxProducts
	}
	if c.Blend.SolverMaxIters > 0 {
		cfg.SolverMaxIters = c.Blend.SolverMaxIters
	}
	return cfg
}
