// Package config reads settings from the environment, optionally seeded
// from a .env file in the working directory.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/erazemk/razvoz/internal/model"
)

// Config holds everything the server needs at startup.
type Config struct {
	DBPath    string
	Addr      string
	Env       string
	LogPath   string
	AdminUser string

	BatchTTL       time.Duration
	OperationLimit time.Duration
	SweepInterval  time.Duration
	PartialGrants  bool

	// Events are published only when brokers are set.
	KafkaBrokers []string
	KafkaTopic   string

	// With no Redis address the sweep lock is in-process.
	RedisAddr string
}

// Load reads .env (if present) and the RAZVOZ_* variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBPath:     getEnv("RAZVOZ_DB", "razvoz.sqlite3"),
		Addr:       getEnv("RAZVOZ_ADDR", ":8080"),
		Env:        getEnv("RAZVOZ_ENV", "development"),
		LogPath:    getEnv("RAZVOZ_LOG", ""),
		AdminUser:  getEnv("RAZVOZ_ADMIN", "Admin"),
		KafkaTopic: getEnv("RAZVOZ_KAFKA_TOPIC", "razvoz.dispatch"),
		RedisAddr:  getEnv("RAZVOZ_REDIS_ADDR", ""),
	}

	var err error
	if cfg.BatchTTL, err = getEnvAsDuration("RAZVOZ_BATCH_TTL", model.DefaultBatchTTL); err != nil {
		return nil, err
	}
	if cfg.OperationLimit, err = getEnvAsDuration("RAZVOZ_OPERATION_LIMIT", model.DefaultOperationTimeLimit); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getEnvAsDuration("RAZVOZ_SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.PartialGrants, err = getEnvAsBool("RAZVOZ_PARTIAL_GRANTS", false); err != nil {
		return nil, err
	}
	cfg.KafkaBrokers = splitList(getEnv("RAZVOZ_KAFKA_BROKERS", ""))

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", key, value)
	}
	return d, nil
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
