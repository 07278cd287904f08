package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/ledgerlite/backend/internal/errors"
	"github.com/kimhsiao/ledgerlite/backend/internal/logging"
)

var allKeys = []string{
	"LEDGERLITE_DATA_DIR", "LEDGERLITE_DB_FILE",
	"LEDGERLITE_TRANSACTION_TTL_MINUTES", "LEDGERLITE_ACCOUNT_TTL_MINUTES", "LEDGERLITE_CATEGORY_TTL_MINUTES",
	"LEDGERLITE_SCOPE_MAX_AGE_MINUTES", "LEDGERLITE_COMPACT_INTERVAL_MINUTES",
	"LEDGERLITE_TIMEZONE", "LEDGERLITE_LOG_LEVEL", "LEDGERLITE_LOG_PRETTY",
}

// clearEnv unsets every variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestFromEnv_defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("data", "ledgerlite.db"), cfg.Store.Path())
	require.NotNil(t, cfg.Cache.TransactionTTLMinutes)
	assert.Equal(t, int64(60), *cfg.Cache.TransactionTTLMinutes)
	assert.Nil(t, cfg.Cache.AccountTTLMinutes)
	assert.Nil(t, cfg.Cache.CategoryTTLMinutes)
	assert.Equal(t, 15*time.Minute, cfg.Cache.ScopeMaxAge)
	assert.Equal(t, 30*time.Minute, cfg.Ledger.CompactInterval)
	assert.Equal(t, time.UTC, cfg.Cache.Location)
	assert.Equal(t, logging.LevelInfo, cfg.Log.Level)
	assert.False(t, cfg.Log.Pretty)
}

func TestFromEnv_overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LEDGERLITE_DATA_DIR", "/tmp/ledger")
	t.Setenv("LEDGERLITE_TRANSACTION_TTL_MINUTES", "0")
	t.Setenv("LEDGERLITE_ACCOUNT_TTL_MINUTES", "1440")
	t.Setenv("LEDGERLITE_SCOPE_MAX_AGE_MINUTES", "5")
	t.Setenv("LEDGERLITE_TIMEZONE", "Europe/Berlin")
	t.Setenv("LEDGERLITE_LOG_LEVEL", "debug")
	t.Setenv("LEDGERLITE_LOG_PRETTY", "true")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/ledger", cfg.Store.DataDir)
	assert.Nil(t, cfg.Cache.TransactionTTLMinutes, "0 means never expires")
	require.NotNil(t, cfg.Cache.AccountTTLMinutes)
	assert.Equal(t, int64(1440), *cfg.Cache.AccountTTLMinutes)
	assert.Equal(t, 5*time.Minute, cfg.Cache.ScopeMaxAge)
	assert.Equal(t, "Europe/Berlin", cfg.Cache.Location.String())
	assert.Equal(t, logging.LevelDebug, cfg.Log.Level)
	assert.True(t, cfg.Log.Pretty)
}

func TestFromEnv_invalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"LEDGERLITE_TRANSACTION_TTL_MINUTES", "soon"},
		{"LEDGERLITE_ACCOUNT_TTL_MINUTES", "-1"},
		{"LEDGERLITE_SCOPE_MAX_AGE_MINUTES", "1.5"},
		{"LEDGERLITE_TIMEZONE", "Mars/Olympus_Mons"},
		{"LEDGERLITE_LOG_LEVEL", "chatty"},
		{"LEDGERLITE_LOG_PRETTY", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := FromEnv()
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrConfig))
		})
	}
}

func TestLoad_envFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("LEDGERLITE_DB_FILE=from-file.db\nLEDGERLITE_COMPACT_INTERVAL_MINUTES=2\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("LEDGERLITE_DB_FILE")
		os.Unsetenv("LEDGERLITE_COMPACT_INTERVAL_MINUTES")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file.db", cfg.Store.FileName)
	assert.Equal(t, 2*time.Minute, cfg.Ledger.CompactInterval)
}

func TestLoad_missingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfig))
}
