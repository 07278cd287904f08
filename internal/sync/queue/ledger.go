// Package queue provides the persisted pending-operation ledger: the FIFO of
// local mutations the drain loop replays against the server.
package queue

import (
	"context"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/kimhsiao/ledgerlite/backend/internal/clock"
	"github.com/kimhsiao/ledgerlite/backend/internal/db"
	apperrors "github.com/kimhsiao/ledgerlite/backend/internal/errors"
	"github.com/kimhsiao/ledgerlite/backend/internal/logging"
	"github.com/kimhsiao/ledgerlite/backend/internal/models"
	"github.com/kimhsiao/ledgerlite/backend/internal/uuid"
)

var operations = db.NewTable[models.PendingOperation](models.PendingOperation{}.TableName(),
	"local_id", "entity_type", "operation_type", "entity_id", "local_entity_id", "payload",
	"request_id", "created_at", "retry_count", "last_error", "status", "follow_up")

// fifo is the replay order. local_id only breaks ties.
const fifo = "ORDER BY created_at ASC, local_id ASC"

// Stats counts ledger rows per status.
type Stats struct {
	Total     int64 `json:"total"`
	Pending   int64 `json:"pending"`
	Syncing   int64 `json:"syncing"`
	Failed    int64 `json:"failed"`
	Completed int64 `json:"completed"`
}

// stamper issues strictly increasing creation timestamps. It is shared by a
// Ledger and all of its transaction views.
type stamper struct {
	mu     sync.Mutex
	clock  clock.Clock
	last   int64
	seeded bool
}

func (s *stamper) next(ctx context.Context, q db.Querier) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.seeded {
		var maxCreated int64
		if err := sqlx.GetContext(ctx, q, &maxCreated,
			"SELECT COALESCE(MAX(created_at), 0) FROM pending_operations"); err != nil {
			return 0, apperrors.Storage("failed to seed ledger clock", err)
		}
		s.last = maxCreated
		s.seeded = true
	}

	now := clock.NowMillis(s.clock)
	if now <= s.last {
		now = s.last + 1
	}
	s.last = now
	return now, nil
}

// Ledger is the pending-operation ledger. Use WithTx to run ledger writes in
// the same transaction as an entity write.
type Ledger struct {
	q      db.Querier
	stamp  *stamper
	logger *logging.Logger
}

// New creates a Ledger over a migrated store.
func New(store *db.DB, c clock.Clock, logger *logging.Logger) *Ledger {
	return &Ledger{
		q:      store,
		stamp:  &stamper{clock: c},
		logger: logging.Or(logger).With(map[string]interface{}{"component": "ledger"}),
	}
}

// WithTx returns a view of the ledger whose statements run in tx.
func (l *Ledger) WithTx(tx *sqlx.Tx) *Ledger {
	return &Ledger{q: tx, stamp: l.stamp, logger: l.logger}
}

// Enqueue stamps op with a creation time, a fresh request id and PENDING
// status, persists it and returns the stored row.
//
// A CREATE must carry a negative LocalEntityID and no EntityID; UPDATE and
// DELETE must carry the server EntityID.
func (l *Ledger) Enqueue(ctx context.Context, op models.PendingOperation) (*models.PendingOperation, error) {
	if err := validate(&op); err != nil {
		return nil, err
	}

	createdAt, err := l.stamp.next(ctx, l.q)
	if err != nil {
		return nil, err
	}

	op.CreatedAtMillis = createdAt
	op.Status = models.SyncStatusPending
	op.RetryCount = 0
	op.LastError = nil
	op.RequestID = uuid.NewRequestID()
	op.FollowUp = ""

	res, err := l.q.ExecContext(ctx, `
		INSERT INTO pending_operations
			(entity_type, operation_type, entity_id, local_entity_id, payload, request_id, created_at, retry_count, last_error, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.EntityType, op.OperationType, op.EntityID, op.LocalEntityID, op.Payload,
		op.RequestID, op.CreatedAtMillis, op.RetryCount, op.LastError, op.Status)
	if err != nil {
		l.logger.ErrorWithCode("Failed to enqueue operation", string(apperrors.ErrStorage), err)
		return nil, apperrors.Storage("failed to enqueue operation", err)
	}
	if op.LocalID, err = res.LastInsertId(); err != nil {
		return nil, apperrors.Storage("failed to read ledger id", err)
	}

	l.logger.Info("Enqueued operation", map[string]interface{}{
		"local_id":       op.LocalID,
		"entity_type":    op.EntityType,
		"operation_type": op.OperationType,
		"target_id":      op.TargetID(),
	})
	return &op, nil
}

func validate(op *models.PendingOperation) error {
	if !op.EntityType.Valid() {
		return apperrors.Newf(apperrors.ErrInvalid, "unknown entity type %q", op.EntityType)
	}
	switch op.OperationType {
	case models.OperationCreate:
		if op.LocalEntityID >= 0 || op.EntityID != 0 {
			return apperrors.Newf(apperrors.ErrInvalid,
				"CREATE needs a local entity id and no server id (got local=%d, server=%d)", op.LocalEntityID, op.EntityID)
		}
	case models.OperationUpdate, models.OperationDelete:
		if op.EntityID <= 0 {
			return apperrors.Newf(apperrors.ErrInvalid, "%s needs a server entity id (got %d)", op.OperationType, op.EntityID)
		}
	default:
		return apperrors.Newf(apperrors.ErrInvalid, "unknown operation type %q", op.OperationType)
	}
	return nil
}

// Get returns the ledger row with the given local id, or NOT_FOUND.
func (l *Ledger) Get(ctx context.Context, localID int64) (*models.PendingOperation, error) {
	return operations.Get(ctx, l.q, localID)
}

// ListPending returns PENDING rows in FIFO replay order.
func (l *Ledger) ListPending(ctx context.Context) ([]models.PendingOperation, error) {
	return operations.Select(ctx, l.q, "status = ?", fifo, models.SyncStatusPending)
}

// ListFailed returns FAILED rows. Order is unspecified.
func (l *Ledger) ListFailed(ctx context.Context) ([]models.PendingOperation, error) {
	return operations.Select(ctx, l.q, "status = ?", "", models.SyncStatusFailed)
}

// CountPending returns the number of PENDING rows.
func (l *Ledger) CountPending(ctx context.Context) (int64, error) {
	return operations.Count(ctx, l.q, "status = ?", models.SyncStatusPending)
}

// entityMatch selects the rows of one entity: by server id when id is
// positive, by the local id of its CREATE otherwise.
func entityMatch(entityType models.EntityType, id int64) (string, []interface{}) {
	if id < 0 {
		return "entity_type = ? AND local_entity_id = ?", []interface{}{entityType, id}
	}
	return "entity_type = ? AND entity_id = ?", []interface{}{entityType, id}
}

// FindOpenForEntity returns the PENDING row for the entity, or nil.
// A negative id matches the entity's not yet acknowledged CREATE.
func (l *Ledger) FindOpenForEntity(ctx context.Context, entityType models.EntityType, id int64) (*models.PendingOperation, error) {
	where, args := entityMatch(entityType, id)
	args = append(args, models.SyncStatusPending)
	return operations.First(ctx, l.q, where+" AND status = ?", fifo, args...)
}

// OpenForEntity returns the entity's PENDING and SYNCING rows in FIFO order.
func (l *Ledger) OpenForEntity(ctx context.Context, entityType models.EntityType, id int64) ([]models.PendingOperation, error) {
	where, args := entityMatch(entityType, id)
	args = append(args, models.SyncStatusPending, models.SyncStatusSyncing)
	return operations.Select(ctx, l.q, where+" AND status IN (?, ?)", fifo, args...)
}

// RemoveByLocalEntityID drops every row recorded for a local-only entity.
// Local ids come from one allocator, so they are unique across entity types.
func (l *Ledger) RemoveByLocalEntityID(ctx context.Context, localEntityID int64) (int64, error) {
	if localEntityID >= 0 {
		return 0, nil
	}
	n, err := operations.DeleteWhere(ctx, l.q, "local_entity_id = ?", localEntityID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.logger.Info("Removed operations of local entity", map[string]interface{}{
			"local_entity_id": localEntityID,
			"removed":         n,
		})
	}
	return n, nil
}

// Update persists the status, retry count and last error of an existing row
// identified by op.LocalID. Moving a row to SYNCING sends its current
// payload, which settles a pending UPDATE follow-up.
func (l *Ledger) Update(ctx context.Context, op *models.PendingOperation) error {
	if !op.Status.Valid() {
		return apperrors.Newf(apperrors.ErrInvalid, "unknown status %q", op.Status)
	}
	if op.RetryCount < 0 {
		return apperrors.Newf(apperrors.ErrInvalid, "negative retry count %d", op.RetryCount)
	}
	return l.exec(ctx, op.LocalID, "failed to update operation", `
		UPDATE pending_operations
		SET status = ?, retry_count = ?, last_error = ?,
		    follow_up = CASE WHEN ? = ? AND follow_up = ? THEN '' ELSE follow_up END
		WHERE local_id = ?`,
		op.Status, op.RetryCount, op.LastError,
		op.Status, models.SyncStatusSyncing, models.OperationUpdate,
		op.LocalID)
}

// UpdatePayload replaces the serialized request body of a row.
func (l *Ledger) UpdatePayload(ctx context.Context, localID int64, payload string) error {
	return l.exec(ctx, localID, "failed to update operation payload",
		"UPDATE pending_operations SET payload = ? WHERE local_id = ?", payload, localID)
}

func (l *Ledger) exec(ctx context.Context, localID int64, msg, query string, args ...interface{}) error {
	res, err := l.q.ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.Storage(msg, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Storage(msg, err)
	}
	if n == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "pending operation %d not found", localID)
	}
	return nil
}

// RefreshCreatePayload rewrites the payload of the local entity's unfinished
// CREATE. A CREATE that is in flight (SYNCING) is also flagged for an UPDATE
// follow-up: the server receives the old payload, so the acknowledgement must
// replay the edit. It returns 0 when the entity has no unfinished CREATE.
func (l *Ledger) RefreshCreatePayload(ctx context.Context, entityType models.EntityType, localEntityID int64, payload string) (int64, error) {
	res, err := l.q.ExecContext(ctx, `
		UPDATE pending_operations
		SET payload = ?,
		    follow_up = CASE WHEN status = ? AND follow_up = '' THEN ? ELSE follow_up END
		WHERE entity_type = ? AND operation_type = ? AND local_entity_id = ? AND status IN (?, ?, ?)`,
		payload, models.SyncStatusSyncing, models.OperationUpdate,
		entityType, models.OperationCreate, localEntityID,
		models.SyncStatusPending, models.SyncStatusSyncing, models.SyncStatusFailed)
	if err != nil {
		return 0, apperrors.Storage("failed to refresh create payload", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Storage("failed to refresh create payload", err)
	}
	return n, nil
}

// MarkCreateDeleted records a local delete of an entity whose CREATE is in
// flight. The SYNCING CREATE is kept and flagged for a DELETE follow-up; the
// entity's other rows are dropped. It returns 0, and removes nothing, when
// no CREATE of the entity is in flight.
func (l *Ledger) MarkCreateDeleted(ctx context.Context, entityType models.EntityType, localEntityID int64) (int64, error) {
	res, err := l.q.ExecContext(ctx, `
		UPDATE pending_operations SET follow_up = ?
		WHERE entity_type = ? AND operation_type = ? AND local_entity_id = ? AND status = ?`,
		models.OperationDelete,
		entityType, models.OperationCreate, localEntityID, models.SyncStatusSyncing)
	if err != nil {
		return 0, apperrors.Storage("failed to mark create deleted", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Storage("failed to mark create deleted", err)
	}
	if n == 0 {
		return 0, nil
	}

	if _, err := operations.DeleteWhere(ctx, l.q, "local_entity_id = ? AND status != ?",
		localEntityID, models.SyncStatusSyncing); err != nil {
		return 0, err
	}
	l.logger.Info("Deferred delete of in-flight create", map[string]interface{}{
		"entity_type":     entityType,
		"local_entity_id": localEntityID,
	})
	return n, nil
}

// Remove deletes one row and reports whether it existed.
func (l *Ledger) Remove(ctx context.Context, localID int64) (bool, error) {
	return operations.Delete(ctx, l.q, localID)
}

// CompleteCreate marks the entity's unfinished CREATE rows COMPLETED and
// records the server id the CREATE was acknowledged with.
func (l *Ledger) CompleteCreate(ctx context.Context, entityType models.EntityType, localEntityID, serverID int64) (int64, error) {
	res, err := l.q.ExecContext(ctx, `
		UPDATE pending_operations SET status = ?, entity_id = ?, last_error = NULL
		WHERE entity_type = ? AND operation_type = ? AND local_entity_id = ? AND status != ?`,
		models.SyncStatusCompleted, serverID,
		entityType, models.OperationCreate, localEntityID, models.SyncStatusCompleted)
	if err != nil {
		return 0, apperrors.Storage("failed to complete create operation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Storage("failed to complete create operation", err)
	}
	return n, nil
}

// RetryFailed resets the entity's FAILED rows to PENDING. Rows keep their
// creation time and so their place in the replay order.
func (l *Ledger) RetryFailed(ctx context.Context, entityType models.EntityType, id int64) (int64, error) {
	where, args := entityMatch(entityType, id)
	return l.retry(ctx, " AND "+where, args...)
}

// RetryAllFailed resets every FAILED row to PENDING.
func (l *Ledger) RetryAllFailed(ctx context.Context) (int64, error) {
	return l.retry(ctx, "")
}

func (l *Ledger) retry(ctx context.Context, filter string, args ...interface{}) (int64, error) {
	query := "UPDATE pending_operations SET status = ?, retry_count = 0, last_error = NULL WHERE status = ?" + filter
	res, err := l.q.ExecContext(ctx, query,
		append([]interface{}{models.SyncStatusPending, models.SyncStatusFailed}, args...)...)
	if err != nil {
		return 0, apperrors.Storage("failed to reset failed operations", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Storage("failed to reset failed operations", err)
	}
	if n > 0 {
		l.logger.Info("Reset failed operations for retry", map[string]interface{}{"count": n})
	}
	return n, nil
}

// RemoveCompleted garbage-collects COMPLETED rows.
func (l *Ledger) RemoveCompleted(ctx context.Context) (int64, error) {
	n, err := operations.DeleteWhere(ctx, l.q, "status = ?", models.SyncStatusCompleted)
	if err != nil {
		return 0, err
	}
	l.logger.Debug("Removed completed operations", map[string]interface{}{"removed": n})
	return n, nil
}

// Clear removes every row. Used by a full local-data wipe.
func (l *Ledger) Clear(ctx context.Context) (int64, error) {
	n, err := operations.Clear(ctx, l.q)
	if err != nil {
		return 0, err
	}
	l.logger.Info("Ledger cleared", map[string]interface{}{"removed": n})
	return n, nil
}

// Stats returns row counts per status.
func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	var rows []struct {
		Status models.SyncStatus `db:"status"`
		Count  int64             `db:"n"`
	}
	if err := sqlx.SelectContext(ctx, l.q, &rows,
		"SELECT status, COUNT(*) AS n FROM pending_operations GROUP BY status"); err != nil {
		return Stats{}, apperrors.Storage("failed to read ledger stats", err)
	}

	var stats Stats
	for _, r := range rows {
		stats.Total += r.Count
		switch r.Status {
		case models.SyncStatusPending:
			stats.Pending = r.Count
		case models.SyncStatusSyncing:
			stats.Syncing = r.Count
		case models.SyncStatusFailed:
			stats.Failed = r.Count
		case models.SyncStatusCompleted:
			stats.Completed = r.Count
		}
	}
	return stats, nil
}
