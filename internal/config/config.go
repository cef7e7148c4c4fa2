package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort           string
	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration
	MaxRequestBodySize int64

	MongoURI     string
	MongoDBName  string
	RedisAddr    string
	RedisPass    string
	RedisDB      int
	CacheTTL     time.Duration
	KafkaBrokers []string

	Currency         string
	SaveTimeout      time.Duration
	BreakerFailures  uint32
	BreakerOpenDelay time.Duration
	// SessionIdleTimeout is how long an unused cart stays in memory.
	SessionIdleTimeout time.Duration
	LogLevel           string
}

// Load reads the environment, after merging an optional .env file from the
// working directory. The returned bool reports whether that file was found.
func Load() (*Config, bool, error) {
	envFile := godotenv.Load(".env") == nil

	cfg := &Config{
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		MaxRequestBodySize: 1 << 20, // 1MB
		MongoURI:           getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:        getEnv("MONGO_DB_NAME", "cartdb"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:          getEnv("REDIS_PASSWORD", ""),
		KafkaBrokers:       splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		Currency:           getEnv("CART_CURRENCY", "USD"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.RequestTimeout, err = getDuration("REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return nil, envFile, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, envFile, err
	}
	if cfg.CacheTTL, err = getDuration("CACHE_TTL", 15*time.Minute); err != nil {
		return nil, envFile, err
	}
	if cfg.SaveTimeout, err = getDuration("SAVE_TIMEOUT", 5*time.Second); err != nil {
		return nil, envFile, err
	}
	if cfg.BreakerOpenDelay, err = getDuration("BREAKER_OPEN_DELAY", 30*time.Second); err != nil {
		return nil, envFile, err
	}
	if cfg.SessionIdleTimeout, err = getDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute); err != nil {
		return nil, envFile, err
	}
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, envFile, err
	}
	failures, err := getInt("BREAKER_FAILURES", 5)
	if err != nil {
		return nil, envFile, err
	}
	if failures < 1 {
		return nil, envFile, fmt.Errorf("BREAKER_FAILURES must be positive, got %d", failures)
	}
	cfg.BreakerFailures = uint32(failures)

	return cfg, envFile, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
