// Package db provides the local SQLite store: connection management,
// embedded schema migrations and sqlx-backed table helpers.
package db

import (
	"context"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	apperrors "github.com/kimhsiao/ledgerlite/backend/internal/errors"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

func init() {
	sqlx.BindDriver(DriverName, sqlx.QUESTION)
}

// Querier is satisfied by both *sqlx.DB and *sqlx.Tx, so table helpers can
// run inside or outside a transaction.
type Querier = sqlx.ExtContext

// DB wraps sqlx.DB with the ledgerlite connection settings.
type DB struct {
	*sqlx.DB
}

// Open opens (creating if needed) the SQLite database fileName inside dataDir.
func Open(dataDir, fileName string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, apperrors.Storage("failed to create data directory", err)
	}
	return OpenPath(filepath.Join(dataDir, fileName))
}

// OpenPath opens the SQLite database at path.
// The database is opened with:
// - a single connection (SQLite allows one writer)
// - WAL mode for concurrent readers
// - foreign key constraints enabled
func OpenPath(path string) (*DB, error) {
	conn, err := sqlx.Open(DriverName, path)
	if err != nil {
		return nil, apperrors.Storage("failed to open database", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, apperrors.Storage("failed to configure database: "+p, err)
		}
	}

	return &DB{conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}

// WithTx runs fn inside a transaction, committing when fn returns nil.
// fn must not use db itself: the pool holds one connection and the
// transaction owns it until WithTx returns.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.Storage("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Storage("failed to commit transaction", err)
	}
	return nil
}
