package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config is loaded once at startup from the environment, with an optional
// .env file for local development.
type Config struct {
	Addr        string
	DatabaseURL string
	DevMode     bool // in-memory store instead of Postgres

	JWTSecret string
	TokenTTL  time.Duration

	MakerFeePct  decimal.Decimal
	TakerFeePct  decimal.Decimal
	FeeAccountID int64

	RedisAddr string // optional book view cache
	AMQPURL   string // optional trade notifications

	LogLevel string
}

// Load reads configuration from the environment. A missing .env file is
// not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:        getEnv("ADDR", ":8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		RedisAddr:   getEnv("REDIS_ADDR", ""),
		AMQPURL:     getEnv("AMQP_URL", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}

	cfg.DevMode = getEnv("DEV_MODE", "") == "true"
	if cfg.DatabaseURL == "" && !cfg.DevMode {
		return nil, fmt.Errorf("DATABASE_URL is required unless DEV_MODE=true")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	ttl, err := time.ParseDuration(getEnv("TOKEN_TTL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("TOKEN_TTL: %w", err)
	}
	cfg.TokenTTL = ttl

	cfg.MakerFeePct, err = decimal.NewFromString(getEnv("MAKER_FEE_PCT", "0.1"))
	if err != nil {
		return nil, fmt.Errorf("MAKER_FEE_PCT: %w", err)
	}
	cfg.TakerFeePct, err = decimal.NewFromString(getEnv("TAKER_FEE_PCT", "0.2"))
	if err != nil {
		return nil, fmt.Errorf("TAKER_FEE_PCT: %w", err)
	}
	if cfg.MakerFeePct.IsNegative() || cfg.TakerFeePct.IsNegative() {
		return nil, fmt.Errorf("fee rates must not be negative")
	}

	cfg.FeeAccountID, err = strconv.ParseInt(getEnv("FEE_ACCOUNT_ID", "1"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("FEE_ACCOUNT_ID: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
