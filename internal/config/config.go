// Package config handles application configuration from environment variables.
//
// The loaded Config is an immutable snapshot: components receive the values
// they need at construction time and never consult ambient globals, so a
// payout threshold cannot change underneath an in-flight request.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Settlement policy
	PlatformFeeBps         int64 // default platform fee in basis points
	MinPayoutAmount        int64 // minimum payout request, minor units
	AdjustmentReasonMinLen int   // minimum justification length for manual adjustments
	RequireDeliveryProof   bool  // ops confirmation requires a proof-of-delivery reference

	// Events
	KafkaBrokers []string // empty disables the kafka publisher
	EventsTopic  string

	// Tracing
	OTLPEndpoint string
}

// Defaults.
const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultPlatformFeeBps  = 520 // 5.2% fulfillment fee
	DefaultMinPayout       = 500000
	DefaultAdjustReasonLen = 10
	DefaultEventsTopic     = "settlement-events"
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                   getEnv("PORT", DefaultPort),
		Env:                    getEnv("ENV", DefaultEnv),
		LogLevel:               getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		PlatformFeeBps:         getEnvInt64("PLATFORM_FEE_BPS", DefaultPlatformFeeBps),
		MinPayoutAmount:        getEnvInt64("MIN_PAYOUT_AMOUNT", DefaultMinPayout),
		AdjustmentReasonMinLen: int(getEnvInt64("ADJUSTMENT_REASON_MIN_LEN", DefaultAdjustReasonLen)),
		RequireDeliveryProof:   getEnvBool("REQUIRE_DELIVERY_PROOF", true),
		KafkaBrokers:           splitList(os.Getenv("KAFKA_BROKERS")),
		EventsTopic:            getEnv("SETTLEMENT_EVENTS_TOPIC", DefaultEventsTopic),
		OTLPEndpoint:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration values are internally consistent.
func (c *Config) Validate() error {
	if c.PlatformFeeBps < 0 || c.PlatformFeeBps >= 10000 {
		return fmt.Errorf("PLATFORM_FEE_BPS must be in [0, 10000), got %d", c.PlatformFeeBps)
	}
	if c.MinPayoutAmount < 0 {
		return fmt.Errorf("MIN_PAYOUT_AMOUNT must be >= 0, got %d", c.MinPayoutAmount)
	}
	if c.AdjustmentReasonMinLen < 0 {
		return fmt.Errorf("ADJUSTMENT_REASON_MIN_LEN must be >= 0, got %d", c.AdjustmentReasonMinLen)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
