package scope

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/ledgerlite/backend/internal/db/dbtest"
	apperrors "github.com/kimhsiao/ledgerlite/backend/internal/errors"
	"github.com/kimhsiao/ledgerlite/backend/internal/logging"
	"github.com/kimhsiao/ledgerlite/backend/internal/models"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name   string
		period *string
		want   string
	}{
		{"no period", nil, "TRANSACTION"},
		{"month", Period("2025-01"), "TRANSACTION:2025-01"},
		{"empty period", Period(""), "TRANSACTION:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Key(models.EntityTransaction, tt.period))
		})
	}
}

func TestStore_ForScope(t *testing.T) {
	ctx := context.Background()
	store := NewStore(dbtest.Open(t), logging.Nop())

	scope, err := store.ForScope(ctx, models.EntityTransaction, Period("2025-01"))
	require.NoError(t, err)
	assert.Equal(t, "TRANSACTION:2025-01", scope.ScopeKey)
	assert.Equal(t, models.EntityTransaction, scope.EntityType)
	require.NotNil(t, scope.Period)
	assert.Equal(t, "2025-01", *scope.Period)
	assert.Zero(t, scope.LastSyncMillis)
	assert.Zero(t, scope.LastFullSyncMillis)
	assert.True(t, IsDue(scope, 1_000, 60_000))

	_, err = store.MarkSynced(ctx, models.EntityTransaction, Period("2025-01"), 5_000)
	require.NoError(t, err)

	again, err := store.ForScope(ctx, models.EntityTransaction, Period("2025-01"))
	require.NoError(t, err)
	assert.Equal(t, int64(5_000), again.LastSyncMillis, "existing scope is returned, not reset")

	_, err = store.ForScope(ctx, "BUDGET", nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}

func TestStore_emptyPeriodIsDistinctFromNone(t *testing.T) {
	ctx := context.Background()
	store := NewStore(dbtest.Open(t), logging.Nop())

	none, err := store.MarkSynced(ctx, models.EntityAccount, nil, 100)
	require.NoError(t, err)
	empty, err := store.ForScope(ctx, models.EntityAccount, Period(""))
	require.NoError(t, err)

	assert.Nil(t, none.Period)
	require.NotNil(t, empty.Period)
	assert.Equal(t, "", *empty.Period)
	assert.NotEqual(t, none.ScopeKey, empty.ScopeKey)
	assert.Equal(t, int64(100), none.LastSyncMillis)
	assert.Zero(t, empty.LastSyncMillis)

	scopes, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, scopes, 2)
	assert.Equal(t, "ACCOUNT", scopes[0].ScopeKey)
	assert.Equal(t, "ACCOUNT:", scopes[1].ScopeKey)
}

func TestStore_MarkFullSync(t *testing.T) {
	ctx := context.Background()
	store := NewStore(dbtest.Open(t), logging.Nop())

	scope, err := store.MarkFullSync(ctx, models.EntityCategory, nil, 42_000)
	require.NoError(t, err)
	assert.Equal(t, int64(42_000), scope.LastSyncMillis)
	assert.Equal(t, int64(42_000), scope.LastFullSyncMillis)

	scope, err = store.MarkSynced(ctx, models.EntityCategory, nil, 50_000)
	require.NoError(t, err)
	assert.Equal(t, int64(50_000), scope.LastSyncMillis)
	assert.Equal(t, int64(42_000), scope.LastFullSyncMillis)

	assert.False(t, IsDue(scope, 60_000, 15_000))
	assert.True(t, IsDue(scope, 65_001, 15_000))
	assert.True(t, scope.IsFullSyncDue(60_000, 15_000))

	n, err := store.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	scopes, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, scopes)
}
