// Package models provides data model definitions for the ledgerlite core.
package models

import "time"

const millisPerMinute = int64(time.Minute / time.Millisecond)

// CacheableRecord is embedded in every locally stored entity and tracks
// when the row was last written and how long it stays fresh.
//
// ID is positive once the server assigned it and strictly negative while the
// record only exists locally. A persisted record never has ID 0.
type CacheableRecord struct {
	ID             int64  `db:"id" json:"id"`
	CachedAtMillis int64  `db:"cached_at" json:"cached_at"`
	TTLMinutes     *int64 `db:"ttl_minutes" json:"ttl_minutes,omitempty"`
}

// Cacheable returns the record itself; embedding types inherit it.
func (r *CacheableRecord) Cacheable() *CacheableRecord {
	return r
}

// IsStale reports whether the record must be re-fetched at nowMillis.
// A record that was never stamped is always stale; a nil TTL never expires.
func (r *CacheableRecord) IsStale(nowMillis int64) bool {
	if r.CachedAtMillis == 0 {
		return true
	}
	if r.TTLMinutes == nil {
		return false
	}
	return nowMillis > r.CachedAtMillis+*r.TTLMinutes*millisPerMinute
}

// ExpiresAtMillis returns when the record turns stale, or ok=false when it
// never does (or is already stale because it was never stamped).
func (r *CacheableRecord) ExpiresAtMillis() (int64, bool) {
	if r.CachedAtMillis == 0 || r.TTLMinutes == nil {
		return 0, false
	}
	return r.CachedAtMillis + *r.TTLMinutes*millisPerMinute, true
}

// RefreshCache stamps the record as fresh at nowMillis. A non-nil ttlMinutes
// replaces the stored TTL; nil keeps it.
func (r *CacheableRecord) RefreshCache(nowMillis int64, ttlMinutes *int64) {
	r.CachedAtMillis = nowMillis
	if ttlMinutes != nil {
		ttl := *ttlMinutes
		r.TTLMinutes = &ttl
	}
}

// AssignID gives the record its identity and marks it fresh: a record that
// just received an id was just written.
func (r *CacheableRecord) AssignID(id, nowMillis int64) {
	r.ID = id
	r.RefreshCache(nowMillis, nil)
}

// IsLocalOnly reports whether the record has not been acknowledged by the server.
func (r *CacheableRecord) IsLocalOnly() bool {
	return r.ID < 0
}

// TTL is a helper for building optional TTL values.
func TTL(minutes int64) *int64 {
	return &minutes
}
