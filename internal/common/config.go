// Package common provides shared utilities for vaultsync
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for vaultsync
type Config struct {
	Environment string          `toml:"environment"`
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Clients     ClientsConfig   `toml:"clients"`
	Index       IndexConfig     `toml:"index"`
	Chain       ChainConfig     `toml:"chain"`
	Rebalance   RebalanceConfig `toml:"rebalance"`
	Webhook     WebhookConfig   `toml:"webhook"`
	Logging     LoggingConfig   `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Backend   string `toml:"backend"` // "surrealdb" or "sqlite"
	Address   string `toml:"address"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	Path      string `toml:"path"` // sqlite file path
}

// ClientsConfig holds API client configurations
type ClientsConfig struct {
	Broker BrokerConfig `toml:"broker"`
	Prices PricesConfig `toml:"prices"`
}

// BrokerConfig holds brokerage API configuration
type BrokerConfig struct {
	Mode      string `toml:"mode"` // "paper" or "live"
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
	RateLimit int    `toml:"rate_limit"`
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *BrokerConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// ResolveBaseURL returns the explicit base URL, or the paper/live endpoint for the mode.
func (c *BrokerConfig) ResolveBaseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	if strings.EqualFold(c.Mode, "live") {
		return "https://api.alpaca.markets"
	}
	return "https://paper-api.alpaca.markets"
}

// PricesConfig holds market data API configuration
type PricesConfig struct {
	BaseURL string `toml:"base_url"`
	Timeout string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *PricesConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// IndexConfig describes where the target composition comes from.
// If URL is set the composition is fetched over HTTP, otherwise Holdings is used.
type IndexConfig struct {
	Name     string            `toml:"name"`
	URL      string            `toml:"url"`
	CacheTTL string            `toml:"cache_ttl"`
	Holdings []IndexHoldingRow `toml:"holdings"`
}

// IndexHoldingRow is one configured index constituent.
type IndexHoldingRow struct {
	Symbol string  `toml:"symbol"`
	Name   string  `toml:"name"`
	Weight float64 `toml:"weight"`
	Sector string  `toml:"sector"`
}

// GetCacheTTL parses and returns the composition cache TTL
func (c *IndexConfig) GetCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// ChainConfig holds vault subscription settings.
type ChainConfig struct {
	RPCURL                   string `toml:"rpc_url"`
	VaultAddress             string `toml:"vault_address"`
	AssetDecimals            int32  `toml:"asset_decimals"`
	ReconnectBase            string `toml:"reconnect_base"`
	ReconnectCap             string `toml:"reconnect_cap"`
	MaxReconnectAttempts     int    `toml:"max_reconnect_attempts"`
	MaxProcessedTransactions int    `toml:"max_processed_transactions"`
	QueueSize                int    `toml:"queue_size"`
}

// Enabled reports whether a live chain subscription is configured.
func (c *ChainConfig) Enabled() bool {
	return c.RPCURL != "" && c.VaultAddress != ""
}

// GetReconnectBase parses the first reconnect delay.
func (c *ChainConfig) GetReconnectBase() time.Duration {
	d, err := time.ParseDuration(c.ReconnectBase)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// GetReconnectCap parses the maximum reconnect delay.
func (c *ChainConfig) GetReconnectCap() time.Duration {
	d, err := time.ParseDuration(c.ReconnectCap)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// RebalanceConfig holds planner, executor and scheduler settings.
type RebalanceConfig struct {
	MinTradeAmount float64 `toml:"min_trade_amount"`
	MaxDeviation   float64 `toml:"max_deviation"`
	Threshold      float64 `toml:"threshold"`
	OrderPacing    string  `toml:"order_pacing"`
	Timezone       string  `toml:"timezone"`
	DailyHour      int     `toml:"daily_hour"`
	WeeklyDay      string  `toml:"weekly_day"`
	Schedule       bool    `toml:"schedule"`
}

// GetOrderPacing parses the delay between consecutive orders.
func (c *RebalanceConfig) GetOrderPacing() time.Duration {
	d, err := time.ParseDuration(c.OrderPacing)
	if err != nil || d < 0 {
		return time.Second
	}
	return d
}

// GetWeeklyDay parses the weekly full-rebalance weekday, defaulting to Sunday.
func (c *RebalanceConfig) GetWeeklyDay() time.Weekday {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), c.WeeklyDay) {
			return d
		}
	}
	return time.Sunday
}

// WebhookConfig holds webhook ingestion settings.
// An empty JWTSecret disables bearer-token verification.
type WebhookConfig struct {
	JWTSecret string `toml:"jwt_secret"`
	Issuer    string `toml:"issuer"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "console" or "json"
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Backend:   "sqlite",
			Address:   "ws://localhost:8000/rpc",
			Username:  "root",
			Password:  "root",
			Namespace: "vaultsync",
			Database:  "vaultsync",
			Path:      "data/vaultsync.db",
		},
		Clients: ClientsConfig{
			Broker: BrokerConfig{
				Mode:      "paper",
				RateLimit: 3,
				Timeout:   "30s",
			},
			Prices: PricesConfig{
				BaseURL: "https://data.alpaca.markets",
				Timeout: "5s",
			},
		},
		Index: IndexConfig{
			Name:     "SPY",
			CacheTTL: "5m",
		},
		Chain: ChainConfig{
			AssetDecimals:            6,
			ReconnectBase:            "1s",
			ReconnectCap:             "60s",
			MaxReconnectAttempts:     10,
			MaxProcessedTransactions: 10000,
			QueueSize:                256,
		},
		Rebalance: RebalanceConfig{
			MinTradeAmount: 10,
			MaxDeviation:   0.01,
			Threshold:      0.05,
			OrderPacing:    "1s",
			Timezone:       "America/New_York",
			DailyHour:      8,
			WeeklyDay:      "Sunday",
			Schedule:       true,
		},
		Webhook: WebhookConfig{
			Issuer: "vaultsync",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// .env is optional; real environment variables always win
	_ = godotenv.Load()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("VAULTSYNC_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("VAULTSYNC_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("VAULTSYNC_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("VAULTSYNC_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	// Storage overrides
	if v := os.Getenv("VAULTSYNC_STORAGE_BACKEND"); v != "" {
		config.Storage.Backend = v
	}
	if v := os.Getenv("VAULTSYNC_STORAGE_ADDRESS"); v != "" {
		config.Storage.Address = v
	}
	if v := os.Getenv("VAULTSYNC_STORAGE_PATH"); v != "" {
		config.Storage.Path = v
	}

	// Broker credentials use the names the brokerage documents
	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		config.Clients.Broker.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		config.Clients.Broker.APISecret = v
	}
	if v := os.Getenv("ALPACA_MODE"); v != "" {
		config.Clients.Broker.Mode = v
	}

	// Chain overrides
	if v := os.Getenv("ETHEREUM_RPC_URL"); v != "" {
		config.Chain.RPCURL = v
	}
	if v := os.Getenv("CONTRACT_ADDRESS"); v != "" {
		config.Chain.VaultAddress = v
	}

	if v := os.Getenv("VAULTSYNC_WEBHOOK_JWT_SECRET"); v != "" {
		config.Webhook.JWTSecret = v
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ValidateRequired returns the names of required settings that are missing.
func (c *Config) ValidateRequired() []string {
	var missing []string
	if c.Clients.Broker.APIKey == "" {
		missing = append(missing, "clients.broker.api_key")
	}
	if c.Clients.Broker.APISecret == "" {
		missing = append(missing, "clients.broker.api_secret")
	}
	if c.Index.URL == "" && len(c.Index.Holdings) == 0 {
		missing = append(missing, "index.url or index.holdings")
	}
	if c.IsProduction() && c.Webhook.JWTSecret == "" {
		missing = append(missing, "webhook.jwt_secret")
	}
	return missing
}
