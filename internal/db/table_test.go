package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/ledgerlite/backend/internal/errors"
)

type WidgetBase struct {
	ID    int64   `db:"id"`
	Label *string `db:"label"`
}

type widget struct {
	WidgetBase
	Kind  string `db:"kind"`
	Count int64  `db:"count"`
}

func newWidgetTable(t *testing.T) (*DB, *Table[widget]) {
	t.Helper()
	db, err := OpenPath(filepath.Join(t.TempDir(), "table.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE widgets (id INTEGER PRIMARY KEY, label TEXT, kind TEXT NOT NULL, count INTEGER NOT NULL)`)
	require.NoError(t, err)
	return db, NewTable[widget]("widgets", "id", "label", "kind", "count")
}

func TestTable_UpsertAndGet(t *testing.T) {
	ctx := context.Background()
	db, table := newWidgetTable(t)

	label := "first"
	w := &widget{WidgetBase: WidgetBase{ID: -1, Label: &label}, Kind: "a", Count: 1}
	require.NoError(t, table.Upsert(ctx, db, w))

	got, err := table.Get(ctx, db, -1)
	require.NoError(t, err)
	require.NotNil(t, got.Label)
	assert.Equal(t, "first", *got.Label)
	assert.Equal(t, "a", got.Kind)

	w.Count = 5
	w.Label = nil
	require.NoError(t, table.Upsert(ctx, db, w))

	got, err = table.Get(ctx, db, -1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Count)
	assert.Nil(t, got.Label)

	n, err := table.Count(ctx, db, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestTable_Get_notFound(t *testing.T) {
	db, table := newWidgetTable(t)

	_, err := table.Get(context.Background(), db, 42)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))

	ok, err := table.Exists(context.Background(), db, 42)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTable_SelectAndDelete(t *testing.T) {
	ctx := context.Background()
	db, table := newWidgetTable(t)

	for i, kind := range []string{"a", "b", "a", "c"} {
		require.NoError(t, table.Upsert(ctx, db, &widget{WidgetBase: WidgetBase{ID: int64(i + 1)}, Kind: kind, Count: int64(10 - i)}))
	}

	rows, err := table.Select(ctx, db, "kind = ?", "ORDER BY count", "a")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(3), rows[0].ID)
	assert.Equal(t, int64(1), rows[1].ID)

	first, err := table.First(ctx, db, "kind = ?", "", "c")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, int64(4), first.ID)

	none, err := table.First(ctx, db, "kind = ?", "", "zzz")
	require.NoError(t, err)
	assert.Nil(t, none)

	removed, err := table.Delete(ctx, db, 2)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = table.Delete(ctx, db, 2)
	require.NoError(t, err)
	assert.False(t, removed)

	n, err := table.DeleteWhere(ctx, db, "kind = ?", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = table.Clear(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestNewTable_requiresColumns(t *testing.T) {
	assert.Panics(t, func() { NewTable[widget]("widgets", "id") })
}
