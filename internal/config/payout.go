package config

import (
	"os"
	"time"

	"github.com/zibana/backend/internal/payout"
)

// LoadPayoutConfig reads provider credentials from the environment once at
// startup. Services receive the resulting struct; nothing reads provider
// env vars after boot.
func LoadPayoutConfig() payout.Config {
	return payout.Config{
		PaystackSecretKey:     getEnv("PAYSTACK_SECRET_KEY", ""),
		PaystackBaseURL:       getEnv("PAYSTACK_BASE_URL", ""),
		FlutterwaveSecretKey:  getEnv("FLW_SECRET_KEY", ""),
		FlutterwaveSecretHash: getEnv("FLW_SECRET_HASH", ""),
		FlutterwaveBaseURL:    getEnv("FLW_BASE_URL", ""),
		RequestTimeout:        getEnvAsDuration("PAYOUT_REQUEST_TIMEOUT", 30*time.Second),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
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
