package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/kimhsiao/ledgerlite/backend/internal/clock"
	"github.com/kimhsiao/ledgerlite/backend/internal/config"
	"github.com/kimhsiao/ledgerlite/backend/internal/db"
	"github.com/kimhsiao/ledgerlite/backend/internal/localid"
	"github.com/kimhsiao/ledgerlite/backend/internal/logging"
	"github.com/kimhsiao/ledgerlite/backend/internal/sync/queue"
	"github.com/kimhsiao/ledgerlite/backend/internal/sync/scope"
)

// Options configures NewSet.
type Options struct {
	Clock  clock.Clock
	Logger *logging.Logger
	Cache  config.CacheConfig
}

// Set wires the repositories of one store to a shared allocator, ledger and
// scope store.
type Set struct {
	store  *db.DB
	logger *logging.Logger

	IDs          *localid.Allocator
	Ledger       *queue.Ledger
	Scopes       *scope.Store
	Transactions *TransactionRepository
	Accounts     *AccountRepository
	Categories   *CategoryRepository
}

// NewSet builds all repositories over a migrated store. Remapping an account
// or category rewrites the transactions that reference it.
func NewSet(store *db.DB, opts Options) *Set {
	logger := logging.Or(opts.Logger)
	deps := Deps{
		Store:  store,
		IDs:    localid.New(store, logger),
		Ledger: queue.New(store, opts.Clock, logger),
		Clock:  opts.Clock,
		Logger: logger,
	}
	scopes := scope.NewStore(store, logger)

	s := &Set{
		store:        store,
		logger:       logger,
		IDs:          deps.IDs,
		Ledger:       deps.Ledger,
		Scopes:       scopes,
		Transactions: NewTransactionRepository(deps, scopes, opts.Cache),
		Accounts:     NewAccountRepository(deps, opts.Cache.AccountTTLMinutes),
		Categories:   NewCategoryRepository(deps, opts.Cache.CategoryTTLMinutes),
	}

	s.Accounts.OnRemap(s.Transactions.columnFixer("account_id"))
	s.Categories.OnRemap(s.Transactions.columnFixer("category_id"))
	return s
}

// RetryResult counts what RetryAllFailed moved back to PENDING.
type RetryResult struct {
	Entities   int64 `json:"entities"`
	Operations int64 `json:"operations"`
}

// RetryAllFailed moves every FAILED entity and its failed ledger rows back to
// PENDING in one transaction. Failed rows whose entity is not FAILED, e.g. a
// CREATE of a since-deleted entity, are reset as well.
func (s *Set) RetryAllFailed(ctx context.Context) (RetryResult, error) {
	var result RetryResult
	err := s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		retries := []func(context.Context, *sqlx.Tx) (int64, int64, error){
			s.Transactions.retryAllFailedTx,
			s.Accounts.retryAllFailedTx,
			s.Categories.retryAllFailedTx,
		}
		for _, fn := range retries {
			entities, ops, err := fn(ctx, tx)
			if err != nil {
				return err
			}
			result.Entities += entities
			result.Operations += ops
		}

		rest, err := s.Ledger.WithTx(tx).RetryAllFailed(ctx)
		if err != nil {
			return err
		}
		result.Operations += rest
		return nil
	})
	if err != nil {
		return RetryResult{}, err
	}

	s.logger.Info("Failed entities reset for retry", map[string]interface{}{
		"entities":   result.Entities,
		"operations": result.Operations,
	})
	return result, nil
}

// WipeLocalData removes all entities, ledger rows and sync scopes in one
// transaction. The local id counter is kept so ids are never reused.
func (s *Set) WipeLocalData(ctx context.Context) error {
	err := s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		clears := []func(context.Context, *sqlx.Tx) (int64, error){
			s.Transactions.clearTx,
			s.Accounts.clearTx,
			s.Categories.clearTx,
			func(ctx context.Context, tx *sqlx.Tx) (int64, error) { return s.Ledger.WithTx(tx).Clear(ctx) },
			func(ctx context.Context, tx *sqlx.Tx) (int64, error) { return s.Scopes.WithTx(tx).Clear(ctx) },
		}
		for _, fn := range clears {
			if _, err := fn(ctx, tx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Local data wiped")
	return nil
}
