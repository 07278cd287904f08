package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/ledgerlite/backend/internal/clock"
	"github.com/kimhsiao/ledgerlite/backend/internal/config"
	"github.com/kimhsiao/ledgerlite/backend/internal/db/dbtest"
	"github.com/kimhsiao/ledgerlite/backend/internal/logging"
	"github.com/kimhsiao/ledgerlite/backend/internal/models"
)

var t0 = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

type fixture struct {
	ctx   context.Context
	clock *clock.Manual
	set   *Set
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, config.Default().Cache)
}

func newFixtureWith(t *testing.T, cache config.CacheConfig) *fixture {
	t.Helper()
	c := clock.NewManual(t0)
	return &fixture{
		ctx:   context.Background(),
		clock: c,
		set:   NewSet(dbtest.Open(t), Options{Clock: c, Logger: logging.Nop(), Cache: cache}),
	}
}

func expense(accountID int64, amount string, at time.Time) func(int64) *models.Transaction {
	return func(int64) *models.Transaction {
		return &models.Transaction{
			AccountID:        accountID,
			Kind:             models.TransactionExpense,
			Amount:           decimal.RequireFromString(amount),
			Currency:         "EUR",
			OccurredAtMillis: at.UnixMilli(),
		}
	}
}

// serverTx is a transaction as the server would return it.
func serverTx(id, accountID int64, amount string, at time.Time) *models.Transaction {
	tx := expense(accountID, amount, at)(0)
	tx.ID = id
	return tx
}

func decodePayload(t *testing.T, op models.PendingOperation) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(op.Payload), &body))
	return body
}

// ledgerRows returns every ledger row regardless of status.
func (f *fixture) ledgerRows(t *testing.T) []models.PendingOperation {
	t.Helper()
	var rows []models.PendingOperation
	require.NoError(t, f.set.store.SelectContext(f.ctx, &rows,
		"SELECT * FROM pending_operations ORDER BY created_at, local_id"))
	return rows
}

// startSync plays the drain loop picking up the CREATE of a local entity.
func (f *fixture) startSync(t *testing.T, entityType models.EntityType, localID int64) *models.PendingOperation {
	t.Helper()
	op, err := f.set.Ledger.FindOpenForEntity(f.ctx, entityType, localID)
	require.NoError(t, err)
	require.NotNil(t, op)
	op.MarkSyncing()
	require.NoError(t, f.set.Ledger.Update(f.ctx, op))
	return op
}
