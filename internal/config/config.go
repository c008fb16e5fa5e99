package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
)

// MasterKeySize is the required decoded length of CRYPTO_MASTER_KEY.
const MasterKeySize = 32

var (
	ErrMasterKeyMissing = errors.New("CRYPTO_MASTER_KEY not set in environment")
	ErrMasterKeyInvalid = errors.New("CRYPTO_MASTER_KEY must be base64-encoded 32 bytes")
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string

	// MasterKey is the decoded 256-bit root secret all thread keys derive from.
	// Rotating it invalidates every stored ciphertext.
	MasterKey []byte

	// MessageTTL is the interval between a message being marked seen and its
	// deletion deadline.
	MessageTTL time.Duration

	// SweepCron schedules the deletion safety sweep.
	SweepCron string

	// StoreTimeout bounds every persistence call.
	StoreTimeout time.Duration
}

// Load reads configuration from environment variables. In development it
// loads from a .env file if present. The master key is decoded and length
// checked here so a bad deployment fails at startup rather than on the
// first message.
func Load() (*Config, error) {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		Env:          getEnv("ENV", "development"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		SQLitePath:   getEnv("SQLITE_PATH", "./data/cloakpost.db"),
		RedisURL:     os.Getenv("REDIS_URL"),
		SweepCron:    getEnv("SWEEP_CRON", "*/2 * * * *"),
		MessageTTL:   time.Duration(getEnvInt("MESSAGE_TTL_MINUTES", 5)) * time.Minute,
		StoreTimeout: time.Duration(getEnvInt("STORE_TIMEOUT_SECONDS", 5)) * time.Second,
	}

	key, err := DecodeMasterKey(os.Getenv("CRYPTO_MASTER_KEY"))
	if err != nil {
		return nil, err
	}
	cfg.MasterKey = key

	if !gronx.IsValid(cfg.SweepCron) {
		return nil, fmt.Errorf("invalid SWEEP_CRON expression: %s", cfg.SweepCron)
	}
	if cfg.MessageTTL <= 0 {
		return nil, fmt.Errorf("MESSAGE_TTL_MINUTES must be positive")
	}

	if cfg.Env == "production" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required in production")
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// DecodeMasterKey validates and decodes a base64 master key string.
func DecodeMasterKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, ErrMasterKeyMissing
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMasterKeyInvalid, err)
	}
	if len(key) != MasterKeySize {
		return nil, fmt.Errorf("%w: decoded to %d bytes", ErrMasterKeyInvalid, len(key))
	}
	return key, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
