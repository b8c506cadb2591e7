package config

import (
	"os"
	"strings"
	"time"
)

// ScanCooldown is the rescan window for a single drum.
//
// Set via env:
// - SCAN_COOLDOWN_MINUTES=60 (0 disables the guard)
func ScanCooldown() time.Duration {
	n := intFromEnv("SCAN_COOLDOWN_MINUTES", 60)
	if n < 0 {
		n = 0
	}
	return time.Duration(n) * time.Minute
}

// VerifyTransitions re-reads drum/order state after every transition before commit.
//
// Set via env:
// - VERIFY_TRANSITIONS=false to skip
func VerifyTransitions() bool {
	return boolFromEnv("VERIFY_TRANSITIONS", true)
}

// OverDeliveryPolicy is "flag" (default) or "reject".
func OverDeliveryPolicy() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("OVER_DELIVERY_POLICY")))
	if v == "reject" {
		return v
	}
	return "flag"
}

func ScanLockTTL() time.Duration {
	return time.Duration(intFromEnv("SCAN_LOCK_TTL_SECONDS", 10)) * time.Second
}

func ScanTimeout() time.Duration {
	return time.Duration(intFromEnv("SCAN_TIMEOUT_SECONDS", 15)) * time.Second
}

func boolFromEnv(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// IsEnabled reports a boolean env flag that defaults to off.
func IsEnabled(key string) bool {
	return boolFromEnv(key, false)
}
