package testsupport

import (
	"fmt"
	"os"
	"testing"

	"tokenmeter/internal/adapters/config"
)

// LoadRedisConfigFromEnv reads the redis section for integration tests.
// Tests are skipped when REDIS_HOST is not set.
func LoadRedisConfigFromEnv(t *testing.T) config.RedisConfig {
	t.Helper()

	if os.Getenv("REDIS_HOST") == "" {
		t.Skip("integration environment missing, set REDIS_HOST to run")
	}

	return config.RedisConfig{
		Host:      os.Getenv("REDIS_HOST"),
		Port:      intValue("REDIS_PORT", 6379),
		Password:  os.Getenv("REDIS_PASSWORD"),
		DB:        intValue("REDIS_DB", 15),
		KeyPrefix: valueWithDefault("REDIS_KEY_PREFIX", UniqueKeyPrefix("usage")),
	}
}

func valueWithDefault(key string, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func intValue(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		_, err := fmt.Sscanf(val, "%d", &parsed)
		if err == nil {
			return parsed
		}
	}

	return fallback
}
