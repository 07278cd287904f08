package repository

import (
	"context"

	"github.com/kimhsiao/ledgerlite/backend/internal/db"
	"github.com/kimhsiao/ledgerlite/backend/internal/models"
)

var accountTable = db.NewTable[models.Account](models.Account{}.TableName(),
	"id", "cached_at", "ttl_minutes", "sync_status", "last_sync_attempt", "sync_error",
	"name", "kind", "currency", "balance", "archived")

// AccountRepository stores accounts.
type AccountRepository struct {
	*Repository[models.Account, *models.Account]
}

// NewAccountRepository creates the account repository.
func NewAccountRepository(deps Deps, ttl *int64) *AccountRepository {
	return &AccountRepository{
		Repository: NewRepository[models.Account, *models.Account](deps, accountTable, ttl),
	}
}

// Active returns the accounts that are not archived, by name.
func (r *AccountRepository) Active(ctx context.Context) ([]models.Account, error) {
	return r.table.Select(ctx, r.store, "archived = ?", "ORDER BY name, id", false)
}
