package db

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/kimhsiao/ledgerlite/backend/internal/errors"
	"github.com/kimhsiao/ledgerlite/backend/internal/logging"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migrations returns the schema migrations compiled into the binary.
func Migrations() fs.FS {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migration represents an applied database schema migration.
type Migration struct {
	Version     int    `db:"version"`
	AppliedAt   int64  `db:"applied_at"`
	Description string `db:"description"`
	Checksum    string `db:"checksum"`
}

// migrationFile is a V<n>__<description>.up.sql file found in the source FS.
type migrationFile struct {
	version     int
	description string
	name        string
}

// Migrator handles database schema migrations.
type Migrator struct {
	db     *sqlx.DB
	source fs.FS
	logger *logging.Logger
}

// NewMigrator creates a Migrator reading migration files from source.
func NewMigrator(db *sqlx.DB, source fs.FS, logger *logging.Logger) *Migrator {
	return &Migrator{
		db:     db,
		source: source,
		logger: logging.Or(logger),
	}
}

// Migrate brings db to the latest embedded schema version.
func Migrate(ctx context.Context, db *DB, logger *logging.Logger) error {
	m := NewMigrator(db.DB, Migrations(), logger)
	if err := m.Initialize(ctx); err != nil {
		return err
	}
	return m.Up(ctx)
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "failed to create schema_migrations", err)
	}
	return nil
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := m.db.GetContext(ctx, &version, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrMigration, "failed to read schema version", err)
	}
	return version, nil
}

// AppliedMigrations returns all applied migrations ordered by version.
func (m *Migrator) AppliedMigrations(ctx context.Context) ([]Migration, error) {
	var applied []Migration
	err := m.db.SelectContext(ctx, &applied,
		"SELECT version, applied_at, description, checksum FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMigration, "failed to list applied migrations", err)
	}
	return applied, nil
}

// Up applies all pending migrations in version order. An applied migration
// whose file content changed since it ran is reported as MIGRATION_FAILED.
func (m *Migrator) Up(ctx context.Context) error {
	applied, err := m.AppliedMigrations(ctx)
	if err != nil {
		return err
	}
	checksums := make(map[int]string, len(applied))
	for _, mig := range applied {
		checksums[mig.Version] = mig.Checksum
	}

	files, err := m.files(".up.sql")
	if err != nil {
		return err
	}

	for _, f := range files {
		content, err := fs.ReadFile(m.source, f.name)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrMigration, "failed to read migration file "+f.name, err)
		}
		sum := checksum(content)

		if recorded, ok := checksums[f.version]; ok {
			if recorded != sum {
				return apperrors.Newf(apperrors.ErrMigration,
					"migration V%d was modified after it was applied", f.version)
			}
			continue
		}

		if err := m.apply(ctx, f, content, sum); err != nil {
			return apperrors.Wrap(apperrors.ErrMigration, fmt.Sprintf("failed to apply migration V%d", f.version), err)
		}
		m.logger.Info("Applied migration", map[string]interface{}{
			"version":     f.version,
			"description": f.description,
		})
	}

	return nil
}

func (m *Migrator) apply(ctx context.Context, f migrationFile, content []byte, sum string) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return err
	}

	query := `INSERT INTO schema_migrations (version, applied_at, description, checksum)
			  VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, f.version, time.Now().Unix(), f.description, sum); err != nil {
		return err
	}

	return tx.Commit()
}

// Down rolls back the last applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	if current == 0 {
		return apperrors.New(apperrors.ErrMigration, "no migrations to rollback")
	}

	files, err := m.files(".down.sql")
	if err != nil {
		return err
	}
	var down *migrationFile
	for i := range files {
		if files[i].version == current {
			down = &files[i]
			break
		}
	}
	if down == nil {
		return apperrors.Newf(apperrors.ErrMigration, "no rollback migration found for version %d", current)
	}

	content, err := fs.ReadFile(m.source, down.name)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "failed to read rollback migration", err)
	}

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.Storage("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "failed to execute rollback SQL", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", current); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "failed to remove migration record", err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Storage("failed to commit rollback", err)
	}

	m.logger.Info("Rolled back migration", map[string]interface{}{"version": current})
	return nil
}

// files lists migration files with the given suffix sorted by version.
// Names that do not follow V<n>__<description><suffix> are ignored.
func (m *Migrator) files(suffix string) ([]migrationFile, error) {
	entries, err := fs.ReadDir(m.source, ".")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMigration, "failed to read migrations directory", err)
	}

	var files []migrationFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, suffix) {
			continue
		}

		parts := strings.SplitN(strings.TrimSuffix(name, suffix), "__", 2)
		if len(parts) < 2 || parts[1] == "" {
			continue
		}
		version, err := strconv.Atoi(strings.TrimPrefix(parts[0], "V"))
		if err != nil || version <= 0 {
			continue
		}

		files = append(files, migrationFile{
			version:     version,
			description: parts[1],
			name:        path.Clean(name),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].version < files[j].version
	})
	return files, nil
}

func checksum(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}
