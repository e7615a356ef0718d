package config

import (
	"os"
	"strconv"
	"time"
)

type LedgerConfig struct {
	ListenAddr        string
	PollInterval      time.Duration
	WithdrawalFeeSats int64
	EntryPageSize     int
}

type SettlementConfig struct {
	BaseURL    string
	InvoiceKey string
	AdminKey   string
	Timeout    time.Duration
}

func LoadLedgerConfig() *LedgerConfig {
	return &LedgerConfig{
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		PollInterval:      getEnvAsDuration("DEPOSIT_POLL_INTERVAL", 30*time.Second),
		WithdrawalFeeSats: getEnvAsInt64("WITHDRAWAL_FEE_SATS", 4),
		EntryPageSize:     getEnvAsInt("ENTRY_PAGE_SIZE", 20),
	}
}

func LoadSettlementConfig() *SettlementConfig {
	return &SettlementConfig{
		BaseURL:    getEnv("SETTLEMENT_BASE_URL", "https://legend.lnbits.com"),
		InvoiceKey: getEnv("SETTLEMENT_INVOICE_KEY", ""),
		AdminKey:   getEnv("SETTLEMENT_ADMIN_KEY", ""),
		Timeout:    getEnvAsDuration("SETTLEMENT_TIMEOUT", 10*time.Second),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
