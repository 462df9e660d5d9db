package config

import (
	"os"
	"strconv"
)

type Config struct {
	Env          string
	Port         string
	DatabaseURL  string
	InventoryURL string

	// Policy knobs. Fee is in basis points of the sale price and defaults
	// to zero, which keeps trades value-conserving out of the box.
	TradeFeeBps          int
	MaxListingsPerSeller int
	NotificationCap      int
}

func Load() *Config {
	return &Config{
		Env:                  getEnv("ENV", "development"),
		Port:                 getEnv("PORT", "3000"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		InventoryURL:         getEnv("INVENTORY_URL", "http://localhost:8000"),
		TradeFeeBps:          getEnvInt("TRADE_FEE_BPS", 0),
		MaxListingsPerSeller: getEnvInt("MAX_LISTINGS_PER_SELLER", 10),
		NotificationCap:      getEnvInt("NOTIFICATION_CAP", 50),
	}
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
