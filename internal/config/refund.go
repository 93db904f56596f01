package config

import (
	"os"
	"strconv"
	"time"
)

type RefundConfig struct {
	Window          time.Duration
	MaxReasonLength int
	ProcessedLimit  int
}

// LoadRefundConfig reads refund policy from the environment. The window
// is measured from the attendance's scan time; there is no admin override
// to accept requests past it.
func LoadRefundConfig() *RefundConfig {
	return &RefundConfig{
		Window:          getEnvAsDuration("REFUND_WINDOW", 24*time.Hour),
		MaxReasonLength: getEnvAsInt("REFUND_MAX_REASON_LENGTH", 500),
		ProcessedLimit:  getEnvAsInt("REFUND_PROCESSED_LIMIT", 50),
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

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
