package config

import (
	"os"
	"strings"
	"time"
)

const (
	StockPolicyAdjust  = "adjust"
	StockPolicyNeutral = "neutral"
)

func envEnabled(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// InvoiceUpdateStockPolicy decides whether editing an invoice moves stock.
//
// Set via env:
// - INVOICE_UPDATE_STOCK_POLICY=adjust (default): quantity and crate deltas are applied to stock
// - INVOICE_UPDATE_STOCK_POLICY=neutral: edits only rewrite bookkeeping, stock is untouched
func InvoiceUpdateStockPolicy() string {
	if strings.EqualFold(strings.TrimSpace(os.Getenv("INVOICE_UPDATE_STOCK_POLICY")), StockPolicyNeutral) {
		return StockPolicyNeutral
	}
	return StockPolicyAdjust
}

// InvoiceTxTimeout bounds every invoice/payment transaction.
//
// Set via env:
// - INVOICE_TX_TIMEOUT_SECONDS (default 30)
func InvoiceTxTimeout() time.Duration {
	n := intFromEnv("INVOICE_TX_TIMEOUT_SECONDS", 30)
	if n <= 0 {
		n = 30
	}
	return time.Duration(n) * time.Second
}

// StaffCacheTTL is how long the elevated staff list stays cached in redis.
//
// Set via env:
// - STAFF_CACHE_SECONDS (default 300, 0 disables caching)
func StaffCacheTTL() time.Duration {
	n := intFromEnv("STAFF_CACHE_SECONDS", 300)
	if n < 0 {
		n = 0
	}
	return time.Duration(n) * time.Second
}

// RateLimit returns the per-client request budget when RATE_LIMIT_ENABLED is set.
//
// Set via env:
// - RATE_LIMIT_ENABLED=true
// - RATE_LIMIT_WINDOW_SECONDS=60
// - RATE_LIMIT_MAX_REQUESTS=600
func RateLimit() (enabled bool, limit int64, window time.Duration) {
	if !envEnabled("RATE_LIMIT_ENABLED") {
		return false, 0, 0
	}
	limit = int64(intFromEnv("RATE_LIMIT_MAX_REQUESTS", 600))
	if limit <= 0 {
		limit = 600
	}
	windowSec := intFromEnv("RATE_LIMIT_WINDOW_SECONDS", 60)
	if windowSec <= 0 {
		windowSec = 60
	}
	return true, limit, time.Duration(windowSec) * time.Second
}

// SkipMigrations disables AutoMigrate on startup (run it as a separate job instead).
func SkipMigrations() bool {
	return envEnabled("SKIP_MIGRATIONS")
}
