package cachestore

import (
	"time"
)

// EntryVersion is the on-disk entry format version. Entries written with a
// different version are treated as corrupt and evicted.
const EntryVersion = 1

// Entry is a cached provider response. Entries are never mutated in
// place; updates replace the whole entry.
type Entry struct {
	// Key is the fingerprint this entry was stored under.
	Key string `json:"key"`

	// Version is the entry format version.
	Version int `json:"version"`

	// CreatedAt is when the entry was written.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is when the entry becomes stale.
	ExpiresAt time.Time `json:"expires_at"`

	// Payload is the opaque response bytes.
	Payload []byte `json:"payload"`
}

// IsExpired returns true if the entry has expired. An entry stored with a
// zero TTL is expired immediately.
func (e *Entry) IsExpired() bool {
	return !time.Now().Before(e.ExpiresAt)
}

// TTL returns the time until expiration, or 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.ExpiresAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}
