// Package scope keeps per (entity type, optional period) sync bookkeeping.
package scope

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/kimhsiao/ledgerlite/backend/internal/db"
	apperrors "github.com/kimhsiao/ledgerlite/backend/internal/errors"
	"github.com/kimhsiao/ledgerlite/backend/internal/logging"
	"github.com/kimhsiao/ledgerlite/backend/internal/models"
)

const columns = "scope_key, entity_type, period, last_sync, last_full_sync"

// Key renders the scope key: "TYPE" without a period, "TYPE:period" with one.
// An empty period is a scope of its own and renders as "TYPE:".
func Key(entityType models.EntityType, period *string) string {
	if period == nil {
		return string(entityType)
	}
	return string(entityType) + ":" + *period
}

// Period is a helper for building optional period values.
func Period(p string) *string {
	return &p
}

// IsDue reports whether an incremental re-fetch of s is due at nowMillis.
func IsDue(s *models.SyncScope, nowMillis, maxAgeMillis int64) bool {
	return s.IsDue(nowMillis, maxAgeMillis)
}

// Store persists SyncScope rows in sync_metadata.
type Store struct {
	q      db.Querier
	logger *logging.Logger
}

// NewStore creates a Store over a migrated database.
func NewStore(store *db.DB, logger *logging.Logger) *Store {
	return &Store{q: store, logger: logging.Or(logger)}
}

// WithTx returns a view of the store whose statements run in tx.
func (s *Store) WithTx(tx *sqlx.Tx) *Store {
	return &Store{q: tx, logger: s.logger}
}

// ForScope returns the scope row, creating it with zeroed timestamps when
// it does not exist yet.
func (s *Store) ForScope(ctx context.Context, entityType models.EntityType, period *string) (*models.SyncScope, error) {
	if !entityType.Valid() {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown entity type %q", entityType)
	}
	key := Key(entityType, period)

	res, err := s.q.ExecContext(ctx,
		"INSERT INTO sync_metadata ("+columns+") VALUES (?, ?, ?, 0, 0) ON CONFLICT(scope_key) DO NOTHING",
		key, entityType, period)
	if err != nil {
		return nil, apperrors.Storage("failed to create sync scope", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Debug("Created sync scope", map[string]interface{}{"scope_key": key})
	}

	return s.get(ctx, key)
}

func (s *Store) get(ctx context.Context, key string) (*models.SyncScope, error) {
	var scope models.SyncScope
	if err := sqlx.GetContext(ctx, s.q, &scope,
		"SELECT "+columns+" FROM sync_metadata WHERE scope_key = ?", key); err != nil {
		return nil, apperrors.Storage("failed to read sync scope "+key, err)
	}
	return &scope, nil
}

// MarkSynced records an incremental sync of the scope at nowMillis.
func (s *Store) MarkSynced(ctx context.Context, entityType models.EntityType, period *string, nowMillis int64) (*models.SyncScope, error) {
	return s.mark(ctx, entityType, period, "last_sync = ?", nowMillis)
}

// MarkFullSync records a full resync of the scope at nowMillis. A full
// resync is also an incremental one.
func (s *Store) MarkFullSync(ctx context.Context, entityType models.EntityType, period *string, nowMillis int64) (*models.SyncScope, error) {
	return s.mark(ctx, entityType, period, "last_sync = ?, last_full_sync = ?", nowMillis, nowMillis)
}

func (s *Store) mark(ctx context.Context, entityType models.EntityType, period *string, set string, args ...interface{}) (*models.SyncScope, error) {
	scope, err := s.ForScope(ctx, entityType, period)
	if err != nil {
		return nil, err
	}
	args = append(args, scope.ScopeKey)
	if _, err := s.q.ExecContext(ctx, "UPDATE sync_metadata SET "+set+" WHERE scope_key = ?", args...); err != nil {
		return nil, apperrors.Storage("failed to update sync scope "+scope.ScopeKey, err)
	}
	return s.get(ctx, scope.ScopeKey)
}

// List returns every scope ordered by key.
func (s *Store) List(ctx context.Context) ([]models.SyncScope, error) {
	scopes := []models.SyncScope{}
	if err := sqlx.SelectContext(ctx, s.q, &scopes,
		"SELECT "+columns+" FROM sync_metadata ORDER BY scope_key"); err != nil {
		return nil, apperrors.Storage("failed to list sync scopes", err)
	}
	return scopes, nil
}

// Clear deletes every scope. Only a full local-data wipe does this.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.q.ExecContext(ctx, "DELETE FROM sync_metadata")
	if err != nil {
		return 0, apperrors.Storage("failed to clear sync scopes", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Storage("failed to clear sync scopes", err)
	}
	return n, nil
}
