package models

// SyncStatus is the synchronization state shared by domain entities and
// pending ledger rows.
type SyncStatus string

const (
	SyncStatusPending   SyncStatus = "PENDING"
	SyncStatusSyncing   SyncStatus = "SYNCING"
	SyncStatusFailed    SyncStatus = "FAILED"
	SyncStatusCompleted SyncStatus = "COMPLETED"
)

// Valid reports whether s is one of the known statuses.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusPending, SyncStatusSyncing, SyncStatusFailed, SyncStatusCompleted:
		return true
	}
	return false
}

// IsOpen reports whether work for the row is still outstanding.
func (s SyncStatus) IsOpen() bool {
	return s == SyncStatusPending || s == SyncStatusSyncing
}

// SyncState is embedded next to CacheableRecord in every syncable entity.
type SyncState struct {
	SyncStatus            SyncStatus `db:"sync_status" json:"sync_status"`
	LastSyncAttemptMillis *int64     `db:"last_sync_attempt" json:"last_sync_attempt,omitempty"`
	SyncError             *string    `db:"sync_error" json:"sync_error,omitempty"`
}

// State returns the state itself; embedding types inherit it.
func (s *SyncState) State() *SyncState {
	return s
}

// Transition moves the entity to status. SYNCING and FAILED count as sync
// attempts and stamp LastSyncAttemptMillis; COMPLETED clears SyncError.
func (s *SyncState) Transition(status SyncStatus, syncErr *string, nowMillis int64) {
	s.SyncStatus = status
	switch status {
	case SyncStatusSyncing, SyncStatusFailed:
		attempt := nowMillis
		s.LastSyncAttemptMillis = &attempt
		s.SyncError = syncErr
	case SyncStatusCompleted:
		s.SyncError = nil
	default:
		s.SyncError = syncErr
	}
}

// EntityType names the kind of domain entity a ledger row or scope refers to.
type EntityType string

const (
	EntityTransaction EntityType = "TRANSACTION"
	EntityAccount     EntityType = "ACCOUNT"
	EntityCategory    EntityType = "CATEGORY"
)

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	switch t {
	case EntityTransaction, EntityAccount, EntityCategory:
		return true
	}
	return false
}

// Syncable is the capability every locally stored, server-backed entity has.
// Entities get Cacheable and State by embedding CacheableRecord and SyncState.
type Syncable interface {
	Cacheable() *CacheableRecord
	State() *SyncState
	EntityType() EntityType
	// RequestBody returns the create/update request view of the entity.
	RequestBody() any
}
