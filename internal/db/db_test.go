// Package db tests for database connection management.
package db

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/ledgerlite/backend/internal/errors"
)

// TestOpen verifies database opening with proper configuration.
func TestOpen(t *testing.T) {
	tmpDir := t.TempDir()

	db, err := Open(filepath.Join(tmpDir, "nested"), "ledgerlite.db")
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(filepath.Join(tmpDir, "nested", "ledgerlite.db"))
	assert.NoError(t, err, "database file was not created")

	var walMode string
	require.NoError(t, db.Get(&walMode, "PRAGMA journal_mode"))
	assert.Equal(t, "wal", walMode)

	var fkEnabled int
	require.NoError(t, db.Get(&fkEnabled, "PRAGMA foreign_keys"))
	assert.Equal(t, 1, fkEnabled)

	assert.Equal(t, 1, db.Stats().MaxOpenConnections)
}

// TestOpen_invalidDataDir verifies error when data directory cannot be created.
func TestOpen_invalidDataDir(t *testing.T) {
	_, err := Open("/dev/null/invalid_path/that/cannot/be/created", "x.db")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrStorage))
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()
	db, err := OpenPath(filepath.Join(t.TempDir(), "tx.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)")
	require.NoError(t, err)

	t.Run("commit", func(t *testing.T) {
		err := db.WithTx(ctx, func(tx *sqlx.Tx) error {
			_, err := tx.Exec("INSERT INTO kv VALUES ('a', '1')")
			return err
		})
		require.NoError(t, err)

		var n int
		require.NoError(t, db.Get(&n, "SELECT COUNT(*) FROM kv"))
		assert.Equal(t, 1, n)
	})

	t.Run("rollback on error", func(t *testing.T) {
		boom := stderrors.New("boom")
		err := db.WithTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.Exec("INSERT INTO kv VALUES ('b', '2')"); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		var n int
		require.NoError(t, db.Get(&n, "SELECT COUNT(*) FROM kv WHERE k = 'b'"))
		assert.Equal(t, 0, n)
	})
}
