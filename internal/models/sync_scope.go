package models

// SyncScope is the sync bookkeeping row for one entity type, optionally
// narrowed to a period such as "2025-01".
//
// A nil Period and an empty Period are different scopes ("TYPE" vs "TYPE:").
type SyncScope struct {
	ScopeKey           string     `db:"scope_key" json:"scope_key"`
	EntityType         EntityType `db:"entity_type" json:"entity_type"`
	Period             *string    `db:"period" json:"period,omitempty"`
	LastSyncMillis     int64      `db:"last_sync" json:"last_sync"`
	LastFullSyncMillis int64      `db:"last_full_sync" json:"last_full_sync"`
}

// TableName returns the table name for SyncScope.
func (SyncScope) TableName() string {
	return "sync_metadata"
}

// IsDue reports whether an incremental re-fetch of the scope is due.
func (s *SyncScope) IsDue(nowMillis, maxAgeMillis int64) bool {
	return s.LastSyncMillis == 0 || nowMillis-s.LastSyncMillis > maxAgeMillis
}

// IsFullSyncDue is IsDue applied to the last full resync.
func (s *SyncScope) IsFullSyncDue(nowMillis, maxAgeMillis int64) bool {
	return s.LastFullSyncMillis == 0 || nowMillis-s.LastFullSyncMillis > maxAgeMillis
}
