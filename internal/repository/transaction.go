package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kimhsiao/ledgerlite/backend/internal/config"
	"github.com/kimhsiao/ledgerlite/backend/internal/db"
	apperrors "github.com/kimhsiao/ledgerlite/backend/internal/errors"
	"github.com/kimhsiao/ledgerlite/backend/internal/models"
	"github.com/kimhsiao/ledgerlite/backend/internal/sync/scope"
)

var transactionTable = db.NewTable[models.Transaction](models.Transaction{}.TableName(),
	"id", "cached_at", "ttl_minutes", "sync_status", "last_sync_attempt", "sync_error",
	"account_id", "category_id", "kind", "amount", "currency", "note", "occurred_at")

const periodLayout = "2006-01"

// PeriodWindow returns the [start, end) window of a "YYYY-MM" period in
// Unix milliseconds, with month boundaries taken in loc (UTC when nil).
func PeriodWindow(periodKey string, loc *time.Location) (int64, int64, error) {
	if loc == nil {
		loc = time.UTC
	}
	if len(periodKey) != len(periodLayout) {
		return 0, 0, apperrors.Newf(apperrors.ErrInvalid, "period %q is not in YYYY-MM form", periodKey)
	}
	start, err := time.ParseInLocation(periodLayout, periodKey, loc)
	if err != nil {
		return 0, 0, apperrors.Wrap(apperrors.ErrInvalid, "period "+periodKey+" is not in YYYY-MM form", err)
	}
	return start.UnixMilli(), start.AddDate(0, 1, 0).UnixMilli(), nil
}

// TransactionRepository adds month-scoped queries to the generic repository.
type TransactionRepository struct {
	*Repository[models.Transaction, *models.Transaction]
	scopes      *scope.Store
	location    *time.Location
	scopeMaxAge time.Duration
}

// NewTransactionRepository creates the transaction repository.
func NewTransactionRepository(deps Deps, scopes *scope.Store, cache config.CacheConfig) *TransactionRepository {
	loc := cache.Location
	if loc == nil {
		loc = time.UTC
	}
	return &TransactionRepository{
		Repository:  NewRepository[models.Transaction, *models.Transaction](deps, transactionTable, cache.TransactionTTLMinutes),
		scopes:      scopes,
		location:    loc,
		scopeMaxAge: cache.ScopeMaxAge,
	}
}

// ForPeriod returns the transactions of one month, oldest first.
func (r *TransactionRepository) ForPeriod(ctx context.Context, periodKey string) ([]models.Transaction, error) {
	start, end, err := PeriodWindow(periodKey, r.location)
	if err != nil {
		return nil, err
	}
	return r.table.Select(ctx, r.store, "occurred_at >= ? AND occurred_at < ?", "ORDER BY occurred_at, id", start, end)
}

// ForAccount returns an account's transactions, newest first.
func (r *TransactionRepository) ForAccount(ctx context.Context, accountID int64) ([]models.Transaction, error) {
	return r.table.Select(ctx, r.store, "account_id = ?", "ORDER BY occurred_at DESC, id", accountID)
}

// IsPeriodStale samples one transaction of the month and reports whether it
// is stale. An empty month is stale so that it gets fetched.
func (r *TransactionRepository) IsPeriodStale(ctx context.Context, periodKey string) (bool, error) {
	start, end, err := PeriodWindow(periodKey, r.location)
	if err != nil {
		return false, err
	}
	sample, err := r.table.First(ctx, r.store, "occurred_at >= ? AND occurred_at < ?", "ORDER BY occurred_at", start, end)
	if err != nil {
		return false, err
	}
	if sample == nil {
		return true, nil
	}
	return sample.IsStale(r.now()), nil
}

// IsPeriodDue reports whether the month's sync scope is older than the
// configured maximum age.
func (r *TransactionRepository) IsPeriodDue(ctx context.Context, periodKey string) (bool, error) {
	if _, _, err := PeriodWindow(periodKey, r.location); err != nil {
		return false, err
	}
	s, err := r.scopes.ForScope(ctx, models.EntityTransaction, &periodKey)
	if err != nil {
		return false, err
	}
	return s.IsDue(r.now(), r.scopeMaxAge.Milliseconds()), nil
}

// ReplaceAllForPeriod swaps every stored transaction of the month for
// entities in one transaction and records a full sync of the month's scope.
// Other months are untouched. Entities without a capture time are stamped
// now; entities dated outside the month are rejected.
func (r *TransactionRepository) ReplaceAllForPeriod(ctx context.Context, periodKey string, entities []models.Transaction) error {
	start, end, err := PeriodWindow(periodKey, r.location)
	if err != nil {
		return err
	}

	now := r.now()
	for i := range entities {
		e := &entities[i]
		if e.ID == 0 {
			return apperrors.Newf(apperrors.ErrInvalid, "replacement %d has no id", i)
		}
		if e.OccurredAtMillis < start || e.OccurredAtMillis >= end {
			return apperrors.Newf(apperrors.ErrInvalid, "transaction %d is outside period %s", e.ID, periodKey)
		}
		if e.CachedAtMillis == 0 {
			ttl := e.TTLMinutes
			if ttl == nil {
				ttl = r.defaultTTL
			}
			e.RefreshCache(now, ttl)
		}
		if e.SyncStatus == "" {
			e.SyncStatus = models.SyncStatusCompleted
		}
	}

	var removed int64
	err = r.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		removed, err = r.table.DeleteWhere(ctx, tx, "occurred_at >= ? AND occurred_at < ?", start, end)
		if err != nil {
			return err
		}
		for i := range entities {
			if err := r.table.Upsert(ctx, tx, &entities[i]); err != nil {
				return err
			}
		}
		_, err = r.scopes.WithTx(tx).MarkFullSync(ctx, models.EntityTransaction, &periodKey, now)
		return err
	})
	if err != nil {
		return err
	}

	r.logger.Info("Replaced period", map[string]interface{}{
		"period":   periodKey,
		"removed":  removed,
		"inserted": len(entities),
	})
	return nil
}
