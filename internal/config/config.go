// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/beefpay/beefpay/internal/chain"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string

	// Database (optional, uses in-memory stores if not set)
	DatabaseURL string

	// Address pool, one entry per line: "ADDRESS" or "ADDRESS|CHAIN".
	// Untagged addresses default to TRC20.
	Addresses string

	// Lease lifetime granted on allocation and on each renewal.
	TimeoutMinutes int

	// Explorer API credentials
	PolygonScanAPIKey string
	TronGridAPIKey    string

	// Billing system (the host application owning invoices)
	BillingURL   string
	BillingToken string

	// Gateway tag recorded on every applied payment.
	GatewayTag string

	// Reconciliation poll interval.
	PollInterval time.Duration

	// Tracing (empty disables)
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultTimeoutMinutes = 30
	DefaultGatewayTag     = "beefpay"
	DefaultPollInterval   = time.Minute
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:         getEnv("LOG_FORMAT", "text"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		Addresses:         os.Getenv("ADDRESSES"),
		TimeoutMinutes:    getEnvInt("TIMEOUT_MINUTES", DefaultTimeoutMinutes),
		PolygonScanAPIKey: os.Getenv("POLYGONSCAN_API_KEY"),
		TronGridAPIKey:    os.Getenv("TRONGRID_API_KEY"),
		BillingURL:        os.Getenv("BILLING_URL"),
		BillingToken:      os.Getenv("BILLING_TOKEN"),
		GatewayTag:        getEnv("GATEWAY_TAG", DefaultGatewayTag),
		PollInterval:      getEnvDuration("POLL_INTERVAL", DefaultPollInterval),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.TimeoutMinutes <= 0 {
		return fmt.Errorf("TIMEOUT_MINUTES must be positive, got %d", c.TimeoutMinutes)
	}

	pool, err := ParseAddresses(c.Addresses)
	if err != nil {
		return err
	}
	if len(pool[chain.Polygon]) > 0 && c.PolygonScanAPIKey == "" {
		return fmt.Errorf("POLYGONSCAN_API_KEY is required when POLYGON addresses are configured")
	}

	return nil
}

// Timeout returns the lease timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// ParseAddresses parses the newline-separated address pool configuration.
// Each line is "ADDRESS" or "ADDRESS|CHAIN"; untagged lines default to
// TRC20. Blank lines are skipped. Addresses are validated per chain.
func ParseAddresses(raw string) (map[chain.Chain][]string, error) {
	pool := map[chain.Chain][]string{
		chain.TRC20:   {},
		chain.Polygon: {},
	}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" {
			continue
		}

		parts := strings.SplitN(line, "|", 2)
		address := strings.TrimSpace(parts[0])
		tag := ""
		if len(parts) == 2 {
			tag = strings.TrimSpace(parts[1])
		}

		ch, err := chain.Parse(tag)
		if err != nil {
			return nil, fmt.Errorf("address %q: %w", address, err)
		}

		if err := validateAddress(ch, address); err != nil {
			return nil, err
		}

		pool[ch] = append(pool[ch], address)
	}

	return pool, nil
}

func validateAddress(ch chain.Chain, address string) error {
	switch ch {
	case chain.TRC20:
		// Tron base58check addresses are 34 characters starting with T.
		if len(address) != 34 || !strings.HasPrefix(address, "T") {
			return fmt.Errorf("invalid TRC20 address %q", address)
		}
	case chain.Polygon:
		if !common.IsHexAddress(address) {
			return fmt.Errorf("invalid POLYGON address %q", address)
		}
	}
	return nil
}

// Field describes one recognized configuration option, surfaced by the
// install endpoint so the hosting application can render a settings form.
type Field struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Default     string `json:"default,omitempty"`
	Description string `json:"description"`
}

// Schema returns the static configuration schema.
func Schema() []Field {
	return []Field{
		{
			Name:        "addresses",
			Type:        "textarea",
			Description: "Receiving addresses, one per line: ADDRESS|TRC20 or ADDRESS|POLYGON (default: TRC20)",
		},
		{
			Name:        "timeout",
			Type:        "text",
			Default:     strconv.Itoa(DefaultTimeoutMinutes),
			Description: "Lease timeout in minutes",
		},
		{
			Name:        "polygonscan_api_key",
			Type:        "text",
			Description: "PolygonScan API key (required for POLYGON addresses)",
		},
	}
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
