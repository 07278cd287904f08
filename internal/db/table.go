package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/kimhsiao/ledgerlite/backend/internal/errors"
)

// Table maps rows of one table onto T through sqlx `db` tags.
// The first column is the integer primary key.
type Table[T any] struct {
	name    string
	key     string
	columns []string
	selects string
	upsert  string
}

// NewTable describes table name with the given columns, primary key first.
func NewTable[T any](name string, columns ...string) *Table[T] {
	if len(columns) < 2 {
		panic(fmt.Sprintf("db: table %s needs a key and at least one column", name))
	}

	named := make([]string, len(columns))
	updates := make([]string, 0, len(columns)-1)
	for i, c := range columns {
		named[i] = ":" + c
		if i > 0 {
			updates = append(updates, c+" = excluded."+c)
		}
	}

	return &Table[T]{
		name:    name,
		key:     columns[0],
		columns: columns,
		selects: fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), name),
		upsert: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s",
			name, strings.Join(columns, ", "), strings.Join(named, ", "), columns[0], strings.Join(updates, ", ")),
	}
}

// Name returns the table name.
func (t *Table[T]) Name() string {
	return t.name
}

// Get returns the row with the given key, or NOT_FOUND.
func (t *Table[T]) Get(ctx context.Context, q Querier, id int64) (*T, error) {
	var row T
	err := sqlx.GetContext(ctx, q, &row, t.selects+" WHERE "+t.key+" = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "%s %d not found", t.name, id)
	}
	if err != nil {
		return nil, apperrors.Storage("failed to get from "+t.name, err)
	}
	return &row, nil
}

// Exists reports whether a row with the given key is stored.
func (t *Table[T]) Exists(ctx context.Context, q Querier, id int64) (bool, error) {
	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", t.name, t.key)
	if err := sqlx.GetContext(ctx, q, &n, query, id); err != nil {
		return false, apperrors.Storage("failed to check "+t.name, err)
	}
	return n > 0, nil
}

// Upsert inserts row or replaces the stored row with the same key.
func (t *Table[T]) Upsert(ctx context.Context, q Querier, row *T) error {
	if _, err := sqlx.NamedExecContext(ctx, q, t.upsert, row); err != nil {
		return apperrors.Storage("failed to write to "+t.name, err)
	}
	return nil
}

// Delete removes the row with the given key and reports whether it existed.
func (t *Table[T]) Delete(ctx context.Context, q Querier, id int64) (bool, error) {
	n, err := t.DeleteWhere(ctx, q, t.key+" = ?", id)
	return n > 0, err
}

// Select returns rows matching where (may be empty) followed by an optional
// ORDER BY / LIMIT tail, e.g. Select(ctx, q, "kind = ?", "ORDER BY name", kind).
func (t *Table[T]) Select(ctx context.Context, q Querier, where, tail string, args ...interface{}) ([]T, error) {
	query := t.selects
	if where != "" {
		query += " WHERE " + where
	}
	if tail != "" {
		query += " " + tail
	}

	rows := []T{}
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, apperrors.Storage("failed to select from "+t.name, err)
	}
	return rows, nil
}

// First returns the first row matching where, or nil when there is none.
func (t *Table[T]) First(ctx context.Context, q Querier, where, tail string, args ...interface{}) (*T, error) {
	rows, err := t.Select(ctx, q, where, tail+" LIMIT 1", args...)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

// Count returns the number of rows matching where (all rows when empty).
func (t *Table[T]) Count(ctx context.Context, q Querier, where string, args ...interface{}) (int64, error) {
	query := "SELECT COUNT(*) FROM " + t.name
	if where != "" {
		query += " WHERE " + where
	}
	var n int64
	if err := sqlx.GetContext(ctx, q, &n, query, args...); err != nil {
		return 0, apperrors.Storage("failed to count "+t.name, err)
	}
	return n, nil
}

// DeleteWhere removes rows matching where and returns how many were removed.
func (t *Table[T]) DeleteWhere(ctx context.Context, q Querier, where string, args ...interface{}) (int64, error) {
	query := "DELETE FROM " + t.name
	if where != "" {
		query += " WHERE " + where
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, apperrors.Storage("failed to delete from "+t.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Storage("failed to delete from "+t.name, err)
	}
	return n, nil
}

// Clear removes every row.
func (t *Table[T]) Clear(ctx context.Context, q Querier) (int64, error) {
	return t.DeleteWhere(ctx, q, "")
}
