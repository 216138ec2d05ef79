// Package cachestore provides a durable key-value store for provider
// responses on local disk, safe for concurrent access from multiple
// goroutines and multiple operating-system processes.
//
// Entries are written atomically (write-to-temp-then-rename) under a
// per-key advisory file lock, so a reader never observes a partially
// written value. Corrupt or unreadable entries are reported as a miss and
// removed; the cache never blocks forward progress of the caller, only
// its speed.
//
// # Basic Usage
//
//	store, err := cachestore.New("/var/cache/providers", logger)
//	if err != nil {
//		return err
//	}
//
//	key := cachestore.Key{
//		Provider:  "llm",
//		Operation: "chat-completion",
//		Params:    map[string]string{"model": "medium", "temperature": "0.7"},
//		Body:      promptBytes,
//	}
//
//	entry, err := store.Lookup(ctx, key)
//	if errors.Is(err, cachestore.ErrCacheMiss) {
//		// fetch from the provider, then:
//		err = store.Store(ctx, key, responseBytes, 24*time.Hour)
//	}
//
// # Cross-Process Safety
//
// Two processes sharing a cache directory serialize writes per key via
// gofrs/flock advisory locks. Lock acquisition honors the context
// deadline; exceeding it surfaces ErrLockTimeout rather than silently
// reporting a miss, so callers can distinguish contention from absence.
//
// # Maintenance
//
// Expired entries are removed lazily on lookup. Sweep removes all
// expired and corrupt entries eagerly; Stats reports entry counts and
// total size for observability.
package cachestore
