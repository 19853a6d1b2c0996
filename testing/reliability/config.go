package reliability

import (
	"os"
	"strconv"
	"time"
)

// ReliabilityConfig holds configuration for reliability testing.
type ReliabilityConfig struct {
	Level         string        // "basic" or "stress"
	Duration      time.Duration // Test duration for stress tests
	MaxGoroutines int           // Maximum goroutines for concurrent tests
	SpansPerTick  int           // Open spans kept alive per heartbeat tick
}

// getReliabilityConfig reads configuration from environment variables.
func getReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		Level:         getEnv("PARTIALZ_RELIABILITY_LEVEL", ""),
		Duration:      parseDuration(getEnv("PARTIALZ_RELIABILITY_DURATION", "10s")),
		MaxGoroutines: parseInt(getEnv("PARTIALZ_RELIABILITY_MAX_GOROUTINES", "64"), 64),
		SpansPerTick:  parseInt(getEnv("PARTIALZ_RELIABILITY_SPANS_PER_TICK", "500"), 500),
	}
}

// getEnv returns environment variable value or default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseInt parses integer from string with default fallback.
func parseInt(s string, fallback int) int {
	if value, err := strconv.Atoi(s); err == nil && value > 0 {
		return value
	}
	return fallback
}

// parseDuration parses duration from string with default fallback.
func parseDuration(s string) time.Duration {
	if duration, err := time.ParseDuration(s); err == nil {
		return duration
	}
	return 10 * time.Second
}
