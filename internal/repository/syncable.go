// Package repository implements the sync-aware local repositories: every
// user mutation is written to the local store and, in the same transaction,
// recorded in the pending-operation ledger for the drain loop to replay.
package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/kimhsiao/ledgerlite/backend/internal/clock"
	"github.com/kimhsiao/ledgerlite/backend/internal/db"
	apperrors "github.com/kimhsiao/ledgerlite/backend/internal/errors"
	"github.com/kimhsiao/ledgerlite/backend/internal/localid"
	"github.com/kimhsiao/ledgerlite/backend/internal/logging"
	"github.com/kimhsiao/ledgerlite/backend/internal/models"
	"github.com/kimhsiao/ledgerlite/backend/internal/sync/queue"
)

// Entity is the constraint for repository element types: a pointer to a
// struct that embeds CacheableRecord and SyncState.
type Entity[T any] interface {
	*T
	models.Syncable
}

// ReferenceFixer rewrites stored references after an entity id changed from
// oldID to newID. It runs inside the remap transaction.
type ReferenceFixer func(ctx context.Context, tx *sqlx.Tx, oldID, newID int64) error

// Deps are the collaborators shared by all repositories of one store.
type Deps struct {
	Store  *db.DB
	IDs    *localid.Allocator
	Ledger *queue.Ledger
	Clock  clock.Clock
	Logger *logging.Logger
}

// Repository is the generic sync-aware repository over entity type T.
type Repository[T any, P Entity[T]] struct {
	store      *db.DB
	table      *db.Table[T]
	ids        *localid.Allocator
	ledger     *queue.Ledger
	clock      clock.Clock
	logger     *logging.Logger
	entityType models.EntityType
	defaultTTL *int64
	fixers     []ReferenceFixer
}

// NewRepository creates a repository for table. defaultTTL is applied to
// created entities that carry no TTL of their own; nil means never expire.
func NewRepository[T any, P Entity[T]](deps Deps, table *db.Table[T], defaultTTL *int64) *Repository[T, P] {
	entityType := P(new(T)).EntityType()
	return &Repository[T, P]{
		store:      deps.Store,
		table:      table,
		ids:        deps.IDs,
		ledger:     deps.Ledger,
		clock:      deps.Clock,
		logger:     logging.Or(deps.Logger).With(map[string]interface{}{"entity_type": entityType}),
		entityType: entityType,
		defaultTTL: defaultTTL,
	}
}

// OnRemap registers a fixer run by every RemapID of this repository.
func (r *Repository[T, P]) OnRemap(fixer ReferenceFixer) {
	r.fixers = append(r.fixers, fixer)
}

// EntityType returns the entity type the repository stores.
func (r *Repository[T, P]) EntityType() models.EntityType {
	return r.entityType
}

func (r *Repository[T, P]) now() int64 {
	return clock.NowMillis(r.clock)
}

// assignID gives entity its id and applies the default TTL when the
// entity has none.
func (r *Repository[T, P]) assignID(entity P, id, now int64) {
	rec := entity.Cacheable()
	rec.AssignID(id, now)
	if rec.TTLMinutes == nil && r.defaultTTL != nil {
		rec.RefreshCache(now, r.defaultTTL)
	}
}

// encodePayload serializes the create/update request view of e.
func encodePayload(e models.Syncable) (string, error) {
	raw, err := json.Marshal(e.RequestBody())
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrInternal, "failed to serialize request payload", err)
	}
	return string(raw), nil
}

// =====================================================
// Ledger-backed mutations
// =====================================================

// QueueCreate allocates a local id, builds the entity with it, stores it as
// PENDING and enqueues its CREATE. The returned entity can be rendered
// immediately.
func (r *Repository[T, P]) QueueCreate(ctx context.Context, build func(localID int64) P) (P, error) {
	// Allocate before the transaction: the store has a single connection.
	localID, err := r.ids.Next(ctx)
	if err != nil {
		return nil, err
	}

	entity := build(localID)
	if entity == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "build returned no entity")
	}

	now := r.now()
	r.assignID(entity, localID, now)
	entity.State().Transition(models.SyncStatusPending, nil, now)

	payload, err := encodePayload(entity)
	if err != nil {
		return nil, err
	}

	err = r.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := r.table.Upsert(ctx, tx, (*T)(entity)); err != nil {
			return err
		}
		_, err := r.ledger.WithTx(tx).Enqueue(ctx, models.PendingOperation{
			EntityType:    r.entityType,
			OperationType: models.OperationCreate,
			LocalEntityID: localID,
			Payload:       payload,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("Queued create", map[string]interface{}{"local_id": localID})
	return entity, nil
}

// QueueUpdate stores a local edit as PENDING.
//
// A local-only entity (id < 0) gets no ledger row of its own: its CREATE
// payload is rewritten to the new state instead. If the CREATE is already in
// flight, RemapID replays the edit as an UPDATE. A synced entity gets
// an UPDATE; if one is already waiting, its payload is replaced in place so
// the entity keeps a single open operation. Editing an entity with a waiting
// DELETE is an INVARIANT_VIOLATION.
func (r *Repository[T, P]) QueueUpdate(ctx context.Context, entity P) (P, error) {
	if entity == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "entity is nil")
	}
	id := entity.Cacheable().ID
	if id == 0 {
		return nil, apperrors.New(apperrors.ErrInvalid, "entity has no id")
	}

	now := r.now()
	entity.Cacheable().RefreshCache(now, nil)
	entity.State().Transition(models.SyncStatusPending, nil, now)

	payload, err := encodePayload(entity)
	if err != nil {
		return nil, err
	}

	err = r.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		exists, err := r.table.Exists(ctx, tx, id)
		if err != nil {
			return err
		}
		if !exists {
			return apperrors.Newf(apperrors.ErrNotFound, "%s %d not found", r.entityType, id)
		}
		if err := r.table.Upsert(ctx, tx, (*T)(entity)); err != nil {
			return err
		}

		ledger := r.ledger.WithTx(tx)
		if id < 0 {
			n, err := ledger.RefreshCreatePayload(ctx, r.entityType, id, payload)
			if err != nil {
				return err
			}
			if n == 0 {
				r.logger.Warn("No waiting create to carry local edit", map[string]interface{}{"local_id": id})
			}
			return nil
		}
		return r.enqueueUpdate(ctx, ledger, id, payload)
	})
	if err != nil {
		return nil, err
	}
	return entity, nil
}

func (r *Repository[T, P]) enqueueUpdate(ctx context.Context, ledger *queue.Ledger, id int64, payload string) error {
	open, err := ledger.FindOpenForEntity(ctx, r.entityType, id)
	if err != nil {
		return err
	}
	if open != nil {
		switch open.OperationType {
		case models.OperationUpdate:
			return ledger.UpdatePayload(ctx, open.LocalID, payload)
		case models.OperationDelete:
			return apperrors.Newf(apperrors.ErrInvariant, "%s %d has a pending delete", r.entityType, id)
		}
	}
	_, err = ledger.Enqueue(ctx, models.PendingOperation{
		EntityType:    r.entityType,
		OperationType: models.OperationUpdate,
		EntityID:      id,
		Payload:       payload,
	})
	return err
}

// QueueDelete deletes an entity.
//
// A local-only entity (id < 0) is removed together with its ledger rows:
// the server never saw it. If its CREATE is in flight, that row is kept and
// RemapID turns the acknowledgement into a DELETE. A synced entity is kept,
// marked PENDING and a DELETE is enqueued, replacing a waiting UPDATE.
// Returns false when the entity is not stored.
func (r *Repository[T, P]) QueueDelete(ctx context.Context, id int64) (bool, error) {
	if id == 0 {
		return false, nil
	}

	var found bool
	err := r.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		ledger := r.ledger.WithTx(tx)

		if id < 0 {
			removed, err := r.table.Delete(ctx, tx, id)
			if err != nil {
				return err
			}
			found = removed
			deferred, err := ledger.MarkCreateDeleted(ctx, r.entityType, id)
			if err != nil || deferred > 0 {
				return err
			}
			_, err = ledger.RemoveByLocalEntityID(ctx, id)
			return err
		}

		row, err := r.table.Get(ctx, tx, id)
		if apperrors.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true

		entity := P(row)
		entity.State().Transition(models.SyncStatusPending, nil, r.now())
		if err := r.table.Upsert(ctx, tx, row); err != nil {
			return err
		}

		open, err := ledger.FindOpenForEntity(ctx, r.entityType, id)
		if err != nil {
			return err
		}
		if open != nil {
			if open.OperationType == models.OperationDelete {
				return nil
			}
			if _, err := ledger.Remove(ctx, open.LocalID); err != nil {
				return err
			}
		}
		_, err = ledger.Enqueue(ctx, models.PendingOperation{
			EntityType:    r.entityType,
			OperationType: models.OperationDelete,
			EntityID:      id,
		})
		return err
	})
	if err != nil {
		return false, err
	}

	if found {
		r.logger.Info("Queued delete", map[string]interface{}{"id": id, "local_only": id < 0})
	}
	return found, nil
}

// =====================================================
// Drain loop callbacks
// =====================================================

// UpdateSyncStatus moves the stored entity to status. A missing entity is a
// no-op. SYNCING and FAILED stamp the attempt time; COMPLETED clears the
// sync error.
func (r *Repository[T, P]) UpdateSyncStatus(ctx context.Context, id int64, status models.SyncStatus, syncErr *string) error {
	if !status.Valid() {
		return apperrors.Newf(apperrors.ErrInvalid, "unknown status %q", status)
	}

	return r.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		row, err := r.table.Get(ctx, tx, id)
		if apperrors.IsNotFound(err) {
			r.logger.Debug("Sync status update for missing entity ignored", map[string]interface{}{"id": id})
			return nil
		}
		if err != nil {
			return err
		}

		P(row).State().Transition(status, syncErr, r.now())
		return r.table.Upsert(ctx, tx, row)
	})
}

// RemapID replaces the entity stored under oldID with updated, stored under
// the server-assigned newID as COMPLETED. The entity's waiting or in-flight
// CREATE is marked COMPLETED and registered fixers rewrite references to
// oldID, all in one transaction.
//
// A CREATE flagged with a follow-up was changed locally while in flight:
//   - UPDATE keeps the local state under newID as PENDING and enqueues an
//     UPDATE with it.
//   - DELETE stores nothing and enqueues a DELETE for newID. The returned
//     entity is updated, PENDING under newID.
//
// newID must be positive, and no UPDATE or DELETE may still be open for
// oldID; both are INVARIANT_VIOLATIONs.
func (r *Repository[T, P]) RemapID(ctx context.Context, oldID, newID int64, updated P) (P, error) {
	if updated == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "updated entity is nil")
	}
	if newID <= 0 {
		return nil, apperrors.Newf(apperrors.ErrInvariant, "cannot remap %s %d to non-server id %d", r.entityType, oldID, newID)
	}

	result := updated
	var followUp models.OperationType
	err := r.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		ledger := r.ledger.WithTx(tx)

		open, err := ledger.OpenForEntity(ctx, r.entityType, oldID)
		if err != nil {
			return err
		}
		for _, op := range open {
			if op.OperationType != models.OperationCreate {
				return apperrors.Newf(apperrors.ErrInvariant,
					"%s %d still has an open %s (ledger row %d)", r.entityType, oldID, op.OperationType, op.LocalID)
			}
			if op.FollowUp == models.OperationDelete || followUp == "" {
				followUp = op.FollowUp
			}
		}

		status := models.SyncStatusCompleted
		if followUp == models.OperationUpdate {
			row, err := r.table.Get(ctx, tx, oldID)
			switch {
			case err == nil:
				result = P(row)
			case !apperrors.IsNotFound(err):
				return err
			}
			status = models.SyncStatusPending
		}

		if _, err := r.table.Delete(ctx, tx, oldID); err != nil {
			return err
		}

		now := r.now()
		r.assignID(result, newID, now)
		if followUp == models.OperationDelete {
			result.State().Transition(models.SyncStatusPending, nil, now)
		} else {
			result.State().Transition(status, nil, now)
			if err := r.table.Upsert(ctx, tx, (*T)(result)); err != nil {
				return err
			}
		}

		if oldID < 0 {
			if _, err := ledger.CompleteCreate(ctx, r.entityType, oldID, newID); err != nil {
				return err
			}
		}
		if oldID != newID {
			for _, fix := range r.fixers {
				if err := fix(ctx, tx, oldID, newID); err != nil {
					return err
				}
			}
		}

		switch followUp {
		case models.OperationUpdate:
			payload, err := encodePayload(result)
			if err != nil {
				return err
			}
			return r.enqueueUpdate(ctx, ledger, newID, payload)
		case models.OperationDelete:
			_, err := ledger.Enqueue(ctx, models.PendingOperation{
				EntityType:    r.entityType,
				OperationType: models.OperationDelete,
				EntityID:      newID,
			})
			return err
		}
		return nil
	})
	if err != nil {
		if apperrors.Is(err, apperrors.ErrInvariant) {
			r.logger.ErrorWithCode("Remap rejected", string(apperrors.ErrInvariant), err,
				map[string]interface{}{"old_id": oldID, "new_id": newID})
		}
		return nil, err
	}

	r.logger.Info("Remapped id", map[string]interface{}{"old_id": oldID, "new_id": newID, "follow_up": followUp})
	return result, nil
}

// RetryFailed moves a FAILED entity and its failed ledger rows back to
// PENDING. It reports false when the entity is missing or not FAILED.
func (r *Repository[T, P]) RetryFailed(ctx context.Context, id int64) (bool, error) {
	var retried bool
	err := r.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		retried, _, err = r.retryFailedTx(ctx, tx, id)
		return err
	})
	return retried, err
}

// retryFailedTx is RetryFailed inside tx. It also returns the number of
// ledger rows reset.
func (r *Repository[T, P]) retryFailedTx(ctx context.Context, tx *sqlx.Tx, id int64) (bool, int64, error) {
	row, err := r.table.Get(ctx, tx, id)
	if apperrors.IsNotFound(err) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}

	entity := P(row)
	if entity.State().SyncStatus != models.SyncStatusFailed {
		return false, 0, nil
	}
	entity.State().Transition(models.SyncStatusPending, nil, r.now())
	if err := r.table.Upsert(ctx, tx, row); err != nil {
		return false, 0, err
	}
	n, err := r.ledger.WithTx(tx).RetryFailed(ctx, r.entityType, id)
	if err != nil {
		return false, 0, err
	}
	return true, n, nil
}

// retryAllFailedTx runs retryFailedTx for every FAILED entity and returns
// the entity and ledger row counts.
func (r *Repository[T, P]) retryAllFailedTx(ctx context.Context, tx *sqlx.Tx) (int64, int64, error) {
	rows, err := r.table.Select(ctx, tx, "sync_status = ?", "ORDER BY id", models.SyncStatusFailed)
	if err != nil {
		return 0, 0, err
	}
	var entities, ops int64
	for i := range rows {
		retried, n, err := r.retryFailedTx(ctx, tx, P(&rows[i]).Cacheable().ID)
		if err != nil {
			return 0, 0, err
		}
		if retried {
			entities++
		}
		ops += n
	}
	return entities, ops, nil
}

// Stranded returns PENDING entities without any unfinished ledger row, e.g.
// after a crash between two separate writes. The reconciliation pass
// re-enqueues them.
func (r *Repository[T, P]) Stranded(ctx context.Context) ([]T, error) {
	name := r.table.Name()
	where := fmt.Sprintf(`sync_status = ? AND NOT EXISTS (
		SELECT 1 FROM pending_operations p
		WHERE p.entity_type = ? AND p.status IN (?, ?, ?)
		  AND ((%[1]s.id < 0 AND p.local_entity_id = %[1]s.id) OR (%[1]s.id > 0 AND p.entity_id = %[1]s.id)))`, name)
	return r.table.Select(ctx, r.store, where, "ORDER BY id",
		models.SyncStatusPending, r.entityType,
		models.SyncStatusPending, models.SyncStatusSyncing, models.SyncStatusFailed)
}

// =====================================================
// Local store passthroughs (no ledger interaction)
// =====================================================

// Get returns the stored entity, or NOT_FOUND.
func (r *Repository[T, P]) Get(ctx context.Context, id int64) (P, error) {
	row, err := r.table.Get(ctx, r.store, id)
	if err != nil {
		return nil, err
	}
	return P(row), nil
}

// List returns every stored entity ordered by id.
func (r *Repository[T, P]) List(ctx context.Context) ([]T, error) {
	return r.table.Select(ctx, r.store, "", "ORDER BY id")
}

// Count returns the number of stored entities.
func (r *Repository[T, P]) Count(ctx context.Context) (int64, error) {
	return r.table.Count(ctx, r.store, "")
}

// Upsert writes server truth as-is. An entity without a status is stored
// as COMPLETED.
func (r *Repository[T, P]) Upsert(ctx context.Context, entity P) error {
	if entity == nil || entity.Cacheable().ID == 0 {
		return apperrors.New(apperrors.ErrInvalid, "entity has no id")
	}
	if entity.State().SyncStatus == "" {
		entity.State().SyncStatus = models.SyncStatusCompleted
	}
	return r.table.Upsert(ctx, r.store, (*T)(entity))
}

// RemoveByID deletes the stored entity and reports whether it existed.
func (r *Repository[T, P]) RemoveByID(ctx context.Context, id int64) (bool, error) {
	return r.table.Delete(ctx, r.store, id)
}

// ClearAll deletes every stored entity.
func (r *Repository[T, P]) ClearAll(ctx context.Context) (int64, error) {
	return r.table.Clear(ctx, r.store)
}

func (r *Repository[T, P]) clearTx(ctx context.Context, tx *sqlx.Tx) (int64, error) {
	return r.table.Clear(ctx, tx)
}

// columnFixer returns a ReferenceFixer that rewrites column of this
// repository's table from the old to the new id and refreshes the waiting
// ledger payloads of the rows it touched.
func (r *Repository[T, P]) columnFixer(column string) ReferenceFixer {
	return func(ctx context.Context, tx *sqlx.Tx, oldID, newID int64) error {
		rows, err := r.table.Select(ctx, tx, column+" = ?", "", oldID)
		if err != nil || len(rows) == 0 {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?", r.table.Name(), column, column), newID, oldID); err != nil {
			return apperrors.Storage("failed to rewrite "+r.table.Name()+"."+column, err)
		}

		ledger := r.ledger.WithTx(tx)
		for i := range rows {
			stored, err := r.table.Get(ctx, tx, P(&rows[i]).Cacheable().ID)
			if err != nil {
				return err
			}
			if err := r.refreshPayload(ctx, ledger, P(stored)); err != nil {
				return err
			}
		}

		r.logger.Info("Rewrote references", map[string]interface{}{
			"column": column,
			"old_id": oldID,
			"new_id": newID,
			"rows":   len(rows),
		})
		return nil
	}
}

// refreshPayload re-serializes the entity into its waiting CREATE or UPDATE.
func (r *Repository[T, P]) refreshPayload(ctx context.Context, ledger *queue.Ledger, entity P) error {
	payload, err := encodePayload(entity)
	if err != nil {
		return err
	}
	id := entity.Cacheable().ID
	if id < 0 {
		_, err := ledger.RefreshCreatePayload(ctx, r.entityType, id, payload)
		return err
	}
	open, err := ledger.FindOpenForEntity(ctx, r.entityType, id)
	if err != nil || open == nil || open.OperationType != models.OperationUpdate {
		return err
	}
	return ledger.UpdatePayload(ctx, open.LocalID, payload)
}
