// Package models tests for data model definitions.
package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =====================================================
// CacheableRecord Tests
// =====================================================

func TestCacheableRecord_IsStale(t *testing.T) {
	const now = int64(1_700_000_000_000)
	minute := int64(time.Minute / time.Millisecond)

	tests := []struct {
		name   string
		record CacheableRecord
		want   bool
	}{
		{"never stamped", CacheableRecord{ID: 5, TTLMinutes: TTL(10)}, true},
		{"never stamped without ttl", CacheableRecord{ID: 5}, true},
		{"no ttl never expires", CacheableRecord{ID: 5, CachedAtMillis: 1}, false},
		{"within ttl", CacheableRecord{ID: 5, CachedAtMillis: now - 5*minute, TTLMinutes: TTL(10)}, false},
		{"exactly at expiry", CacheableRecord{ID: 5, CachedAtMillis: now - 10*minute, TTLMinutes: TTL(10)}, false},
		{"past expiry", CacheableRecord{ID: 5, CachedAtMillis: now - 10*minute - 1, TTLMinutes: TTL(10)}, true},
		{"zero ttl", CacheableRecord{ID: 5, CachedAtMillis: now - 1, TTLMinutes: TTL(0)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.record.IsStale(now))
		})
	}
}

func TestCacheableRecord_ExpiresAtMillis(t *testing.T) {
	r := CacheableRecord{CachedAtMillis: 1000, TTLMinutes: TTL(2)}
	at, ok := r.ExpiresAtMillis()
	require.True(t, ok)
	assert.Equal(t, int64(1000+2*60_000), at)

	r.TTLMinutes = nil
	_, ok = r.ExpiresAtMillis()
	assert.False(t, ok)
}

func TestCacheableRecord_RefreshCache(t *testing.T) {
	r := CacheableRecord{ID: 1, TTLMinutes: TTL(30)}

	r.RefreshCache(2000, nil)
	assert.Equal(t, int64(2000), r.CachedAtMillis)
	require.NotNil(t, r.TTLMinutes)
	assert.Equal(t, int64(30), *r.TTLMinutes)

	ttl := int64(5)
	r.RefreshCache(3000, &ttl)
	ttl = 99
	assert.Equal(t, int64(5), *r.TTLMinutes, "ttl must be copied")
}

func TestCacheableRecord_AssignID(t *testing.T) {
	var r CacheableRecord
	r.AssignID(-3, 4242)

	assert.Equal(t, int64(-3), r.ID)
	assert.Equal(t, int64(4242), r.CachedAtMillis)
	assert.True(t, r.IsLocalOnly())

	r.AssignID(17, 5000)
	assert.False(t, r.IsLocalOnly())
}

// =====================================================
// SyncState Tests
// =====================================================

func TestSyncState_Transition(t *testing.T) {
	msg := "timeout"

	var s SyncState
	s.Transition(SyncStatusPending, nil, 100)
	assert.Equal(t, SyncStatusPending, s.SyncStatus)
	assert.Nil(t, s.LastSyncAttemptMillis)

	s.Transition(SyncStatusSyncing, nil, 200)
	require.NotNil(t, s.LastSyncAttemptMillis)
	assert.Equal(t, int64(200), *s.LastSyncAttemptMillis)

	s.Transition(SyncStatusFailed, &msg, 300)
	assert.Equal(t, int64(300), *s.LastSyncAttemptMillis)
	require.NotNil(t, s.SyncError)
	assert.Equal(t, "timeout", *s.SyncError)

	s.Transition(SyncStatusCompleted, &msg, 400)
	assert.Nil(t, s.SyncError)
	assert.Equal(t, int64(300), *s.LastSyncAttemptMillis)
}

func TestSyncStatus_IsOpen(t *testing.T) {
	assert.True(t, SyncStatusPending.IsOpen())
	assert.True(t, SyncStatusSyncing.IsOpen())
	assert.False(t, SyncStatusFailed.IsOpen())
	assert.False(t, SyncStatusCompleted.IsOpen())
	assert.False(t, SyncStatus("DONE").Valid())
}

func TestEntities_implementSyncable(t *testing.T) {
	entities := []Syncable{&Transaction{}, &Account{}, &Category{}}
	want := []EntityType{EntityTransaction, EntityAccount, EntityCategory}

	for i, e := range entities {
		assert.Equal(t, want[i], e.EntityType())
		assert.True(t, e.EntityType().Valid())
		e.Cacheable().AssignID(-1, 10)
		assert.Equal(t, int64(-1), e.Cacheable().ID)
		e.State().Transition(SyncStatusSyncing, nil, 10)
		assert.Equal(t, SyncStatusSyncing, e.State().SyncStatus)
	}
}

// =====================================================
// Request Body Tests
// =====================================================

func TestTransaction_RequestBody(t *testing.T) {
	occurred := time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)
	tx := &Transaction{
		CacheableRecord:  CacheableRecord{ID: -2},
		AccountID:        -1,
		Kind:             TransactionExpense,
		Amount:           decimal.RequireFromString("12.50"),
		Currency:         "EUR",
		OccurredAtMillis: occurred.UnixMilli(),
	}

	raw, err := json.Marshal(tx.RequestBody())
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, float64(-1), body["account_id"])
	assert.Equal(t, "12.5", body["amount"])
	assert.Equal(t, "2025-01-15T09:30:00Z", body["occurred_at"])
	assert.NotContains(t, body, "category_id")
	assert.NotContains(t, body, "id")
	assert.NotContains(t, body, "sync_status")

	tx.CategoryID = 8
	req := tx.RequestBody().(TransactionRequest)
	require.NotNil(t, req.CategoryID)
	assert.Equal(t, int64(8), *req.CategoryID)
}

func TestTransaction_RequestBody_keepsMilliseconds(t *testing.T) {
	occurred := time.Date(2025, 1, 15, 9, 30, 0, 123*int(time.Millisecond), time.UTC)
	tx := &Transaction{OccurredAtMillis: occurred.UnixMilli()}

	req := tx.RequestBody().(TransactionRequest)
	assert.Equal(t, "2025-01-15T09:30:00.123Z", req.OccurredAt)

	parsed, err := time.Parse(time.RFC3339Nano, req.OccurredAt)
	require.NoError(t, err)
	assert.Equal(t, tx.OccurredAtMillis, parsed.UnixMilli())
}

func TestCategory_RequestBody(t *testing.T) {
	c := &Category{Name: "Food", Kind: CategoryExpense}
	req := c.RequestBody().(CategoryRequest)
	assert.Nil(t, req.ParentID)

	c.ParentID = -4
	req = c.RequestBody().(CategoryRequest)
	require.NotNil(t, req.ParentID)
	assert.Equal(t, int64(-4), *req.ParentID)
}

// =====================================================
// PendingOperation Tests
// =====================================================

func TestPendingOperation_lifecycle(t *testing.T) {
	op := PendingOperation{
		EntityType:    EntityTransaction,
		OperationType: OperationCreate,
		LocalEntityID: -1,
		Status:        SyncStatusPending,
	}
	assert.Equal(t, int64(-1), op.TargetID())

	op.MarkSyncing()
	assert.Equal(t, SyncStatusSyncing, op.Status)

	op.MarkFailed(errors.New("502 bad gateway"))
	assert.Equal(t, SyncStatusFailed, op.Status)
	assert.Equal(t, int32(1), op.RetryCount)
	require.NotNil(t, op.LastError)
	assert.Equal(t, "502 bad gateway", *op.LastError)

	op.MarkCompleted()
	assert.Equal(t, SyncStatusCompleted, op.Status)
	assert.Nil(t, op.LastError)

	op.EntityID = 55
	assert.Equal(t, int64(55), op.TargetID())
	assert.True(t, OperationDelete.Valid())
	assert.False(t, OperationType("PATCH").Valid())
}

// =====================================================
// SyncScope Tests
// =====================================================

func TestSyncScope_IsDue(t *testing.T) {
	s := SyncScope{ScopeKey: "TRANSACTION:2025-01", EntityType: EntityTransaction}
	assert.True(t, s.IsDue(1000, 500), "never synced")

	s.LastSyncMillis = 700
	assert.False(t, s.IsDue(1000, 500))
	assert.True(t, s.IsDue(1201, 500))

	assert.True(t, s.IsFullSyncDue(1000, 500))
	s.LastFullSyncMillis = 900
	assert.False(t, s.IsFullSyncDue(1000, 500))
}
