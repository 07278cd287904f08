// Package localid issues identifiers for entities created while offline.
package localid

import (
	"context"
	"sync"

	"github.com/kimhsiao/ledgerlite/backend/internal/db"
	apperrors "github.com/kimhsiao/ledgerlite/backend/internal/errors"
	"github.com/kimhsiao/ledgerlite/backend/internal/logging"
)

// Allocator hands out strictly negative, strictly decreasing ids backed by
// the single-row local_id_counter table. The decremented counter is
// committed before the id is returned, so a crash never leads to reuse.
type Allocator struct {
	store  *db.DB
	logger *logging.Logger
	mu     sync.Mutex
}

// New creates an Allocator over a migrated store.
func New(store *db.DB, logger *logging.Logger) *Allocator {
	return &Allocator{store: store, logger: logging.Or(logger)}
}

// Next returns the next local id. It must not be called while the caller
// holds an open transaction on the same store.
func (a *Allocator) Next(ctx context.Context) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var id int64
	err := a.store.GetContext(ctx, &id,
		"UPDATE local_id_counter SET last_issued = last_issued - 1 WHERE id = 1 RETURNING last_issued")
	if err != nil {
		a.logger.ErrorWithCode("Failed to allocate local id", string(apperrors.ErrStorage), err)
		return 0, apperrors.Storage("failed to allocate local id", err)
	}

	a.logger.Debug("Allocated local id", map[string]interface{}{"local_id": id})
	return id, nil
}

// LastIssued returns the most recently issued id, or 0 when none was issued.
func (a *Allocator) LastIssued(ctx context.Context) (int64, error) {
	var id int64
	if err := a.store.GetContext(ctx, &id, "SELECT last_issued FROM local_id_counter WHERE id = 1"); err != nil {
		return 0, apperrors.Storage("failed to read local id counter", err)
	}
	return id, nil
}
