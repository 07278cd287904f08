// Package config loads runtime configuration for the ledgerlite core from the
// environment, optionally seeded from a .env file.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // mobile targets ship without a zoneinfo database

	"github.com/joho/godotenv"

	apperrors "github.com/kimhsiao/ledgerlite/backend/internal/errors"
	"github.com/kimhsiao/ledgerlite/backend/internal/logging"
)

// Config holds all configuration for the core.
type Config struct {
	Store  StoreConfig
	Cache  CacheConfig
	Ledger LedgerConfig
	Log    LogConfig
}

// StoreConfig locates the local SQLite database.
type StoreConfig struct {
	DataDir  string
	FileName string
}

// Path returns the full database file path.
func (c StoreConfig) Path() string {
	return filepath.Join(c.DataDir, c.FileName)
}

// CacheConfig holds freshness policy. A TTL of nil means records never expire.
type CacheConfig struct {
	TransactionTTLMinutes *int64
	AccountTTLMinutes     *int64
	CategoryTTLMinutes    *int64
	ScopeMaxAge           time.Duration
	Location              *time.Location
}

// LedgerConfig holds pending-operation ledger maintenance settings.
type LedgerConfig struct {
	CompactInterval time.Duration
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  logging.LogLevel
	Pretty bool
}

// Default returns the configuration used when no variables are set.
func Default() *Config {
	txTTL := int64(60)
	return &Config{
		Store: StoreConfig{
			DataDir:  "./data",
			FileName: "ledgerlite.db",
		},
		Cache: CacheConfig{
			TransactionTTLMinutes: &txTTL,
			ScopeMaxAge:           15 * time.Minute,
			Location:              time.UTC,
		},
		Ledger: LedgerConfig{
			CompactInterval: 30 * time.Minute,
		},
		Log: LogConfig{
			Level: logging.LevelInfo,
		},
	}
}

// Load reads an optional .env file followed by the process environment.
// Variables already present in the environment win over the file.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			envFiles = []string{".env"}
		}
	}
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConfig, "failed to read env file", err)
		}
	}
	return FromEnv()
}

// FromEnv builds the configuration from environment variables only.
func FromEnv() (*Config, error) {
	cfg := Default()
	var err error

	cfg.Store.DataDir = getEnv("LEDGERLITE_DATA_DIR", cfg.Store.DataDir)
	cfg.Store.FileName = getEnv("LEDGERLITE_DB_FILE", cfg.Store.FileName)

	if cfg.Cache.TransactionTTLMinutes, err = getEnvAsTTL("LEDGERLITE_TRANSACTION_TTL_MINUTES", cfg.Cache.TransactionTTLMinutes); err != nil {
		return nil, err
	}
	if cfg.Cache.AccountTTLMinutes, err = getEnvAsTTL("LEDGERLITE_ACCOUNT_TTL_MINUTES", cfg.Cache.AccountTTLMinutes); err != nil {
		return nil, err
	}
	if cfg.Cache.CategoryTTLMinutes, err = getEnvAsTTL("LEDGERLITE_CATEGORY_TTL_MINUTES", cfg.Cache.CategoryTTLMinutes); err != nil {
		return nil, err
	}
	if cfg.Cache.ScopeMaxAge, err = getEnvAsMinutes("LEDGERLITE_SCOPE_MAX_AGE_MINUTES", cfg.Cache.ScopeMaxAge); err != nil {
		return nil, err
	}
	if cfg.Ledger.CompactInterval, err = getEnvAsMinutes("LEDGERLITE_COMPACT_INTERVAL_MINUTES", cfg.Ledger.CompactInterval); err != nil {
		return nil, err
	}

	if tz := getEnv("LEDGERLITE_TIMEZONE", ""); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConfig, "unknown LEDGERLITE_TIMEZONE", err)
		}
		cfg.Cache.Location = loc
	}

	if lvl := getEnv("LEDGERLITE_LOG_LEVEL", ""); lvl != "" {
		parsed, ok := logging.ParseLevel(lvl)
		if !ok {
			return nil, apperrors.Newf(apperrors.ErrConfig, "unknown LEDGERLITE_LOG_LEVEL %q", lvl)
		}
		cfg.Log.Level = parsed
	}
	if cfg.Log.Pretty, err = getEnvAsBool("LEDGERLITE_LOG_PRETTY", cfg.Log.Pretty); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Helper functions to read environment variables
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int64) (int64, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrConfig, key+" must be an integer", err)
	}
	if value < 0 {
		return 0, apperrors.Newf(apperrors.ErrConfig, "%s must not be negative", key)
	}
	return value, nil
}

// getEnvAsTTL treats 0 as "never expires".
func getEnvAsTTL(key string, defaultValue *int64) (*int64, error) {
	if getEnv(key, "") == "" {
		return defaultValue, nil
	}
	value, err := getEnvAsInt(key, 0)
	if err != nil {
		return nil, err
	}
	if value == 0 {
		return nil, nil
	}
	return &value, nil
}

func getEnvAsMinutes(key string, defaultValue time.Duration) (time.Duration, error) {
	value, err := getEnvAsInt(key, int64(defaultValue/time.Minute))
	if err != nil {
		return 0, err
	}
	return time.Duration(value) * time.Minute, nil
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrConfig, key+" must be a boolean", err)
	}
	return value, nil
}
