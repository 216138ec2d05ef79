package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
)

var (
	// ErrCacheMiss indicates no usable entry exists for the key.
	ErrCacheMiss = errors.New("cache miss")

	// ErrLockTimeout indicates the per-key lock could not be acquired
	// within the context deadline. Surfaced to the caller so cross-process
	// contention is not mistaken for absence.
	ErrLockTimeout = errors.New("cache lock acquisition timed out")
)

// lockRetryInterval is the polling interval for advisory lock acquisition.
const lockRetryInterval = 10 * time.Millisecond

// Store is a durable key-value store on local disk. All mutation goes
// through per-key advisory file locks; reads are lock-free because writes
// are atomic (temp file + rename).
type Store struct {
	dir    string
	logger zerolog.Logger
}

// New creates a store rooted at dir, creating the directory if needed.
func New(dir string, logger zerolog.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache directory: %w", err)
	}

	return &Store{
		dir:    absDir,
		logger: logger,
	}, nil
}

// Dir returns the absolute cache directory path.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) entryPath(fingerprint string) string {
	return filepath.Join(s.dir, fingerprint+".json")
}

func (s *Store) lockPath(fingerprint string) string {
	return filepath.Join(s.dir, fingerprint+".lock")
}

// withLock runs fn while holding the advisory lock for the fingerprint.
// Acquisition polls until the context deadline; the lock is released on
// every exit path.
func (s *Store) withLock(ctx context.Context, fingerprint string, fn func() error) error {
	fl := flock.New(s.lockPath(fingerprint))

	start := time.Now()
	locked, err := fl.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return fmt.Errorf("%w: key %s: %v", ErrLockTimeout, ShortFingerprint(fingerprint), err)
	}
	if !locked {
		return fmt.Errorf("%w: key %s", ErrLockTimeout, ShortFingerprint(fingerprint))
	}
	LockWaitSeconds.Observe(time.Since(start).Seconds())

	defer func() {
		if unlockErr := fl.Unlock(); unlockErr != nil {
			s.logger.Warn().
				Err(unlockErr).
				Str("fingerprint", ShortFingerprint(fingerprint)).
				Msg("Failed to release cache lock")
		}
	}()

	return fn()
}

// Lookup returns the current entry for the key if present and not
// expired. Expired, corrupt, and absent entries all report ErrCacheMiss;
// expired and corrupt entries are evicted best-effort.
func (s *Store) Lookup(ctx context.Context, key Key) (*Entry, error) {
	fingerprint := key.Fingerprint()

	data, err := os.ReadFile(s.entryPath(fingerprint))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			CacheMisses.WithLabelValues("absent").Inc()
			return nil, ErrCacheMiss
		}
		// Unreadable entry: degrade to a miss, never a hard error
		s.logger.Warn().
			Err(err).
			Str("fingerprint", ShortFingerprint(fingerprint)).
			Msg("Cache entry unreadable, treating as miss")
		CacheMisses.WithLabelValues("corrupt").Inc()
		return nil, ErrCacheMiss
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil || entry.Version != EntryVersion || entry.Key != fingerprint {
		s.logger.Warn().
			Str("fingerprint", ShortFingerprint(fingerprint)).
			Int("version", entry.Version).
			Msg("Corrupt cache entry, evicting")
		CacheMisses.WithLabelValues("corrupt").Inc()
		s.evict(fingerprint)
		return nil, ErrCacheMiss
	}

	if entry.IsExpired() {
		s.logger.Debug().
			Str("fingerprint", ShortFingerprint(fingerprint)).
			Time("expired_at", entry.ExpiresAt).
			Msg("Cache entry expired, evicting")
		CacheMisses.WithLabelValues("expired").Inc()
		s.evict(fingerprint)
		return nil, ErrCacheMiss
	}

	CacheHits.Inc()
	return &entry, nil
}

// Store writes or replaces the entry for the key. The write is atomic
// with respect to concurrent lookups: readers see either the previous
// entry or the new one, never a mix.
func (s *Store) Store(ctx context.Context, key Key, payload []byte, ttl time.Duration) error {
	fingerprint := key.Fingerprint()

	if ttl < 0 {
		ttl = 0
	}

	return s.withLock(ctx, fingerprint, func() error {
		now := time.Now()
		entry := Entry{
			Key:       fingerprint,
			Version:   EntryVersion,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
			Payload:   payload,
		}

		data, err := json.Marshal(&entry)
		if err != nil {
			CacheErrors.WithLabelValues("store").Inc()
			return fmt.Errorf("marshal cache entry: %w", err)
		}

		// Write to temp file first, then atomically rename. This prevents
		// partial entries from ever being observed.
		entryPath := s.entryPath(fingerprint)
		tmpPath := entryPath + ".tmp"
		if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
			CacheErrors.WithLabelValues("store").Inc()
			return fmt.Errorf("write cache entry: %w", err)
		}
		if err := os.Rename(tmpPath, entryPath); err != nil {
			os.Remove(tmpPath)
			CacheErrors.WithLabelValues("store").Inc()
			return fmt.Errorf("rename cache entry: %w", err)
		}

		s.logger.Debug().
			Str("fingerprint", ShortFingerprint(fingerprint)).
			Dur("ttl", ttl).
			Int("bytes", len(payload)).
			Msg("Cached entry")

		return nil
	})
}

// Invalidate removes the entry for the key immediately, regardless of TTL.
func (s *Store) Invalidate(ctx context.Context, key Key) error {
	fingerprint := key.Fingerprint()

	return s.withLock(ctx, fingerprint, func() error {
		if err := os.Remove(s.entryPath(fingerprint)); err != nil && !errors.Is(err, os.ErrNotExist) {
			CacheErrors.WithLabelValues("invalidate").Inc()
			return fmt.Errorf("remove cache entry: %w", err)
		}
		return nil
	})
}

// evict removes an expired or corrupt entry best-effort. Lock contention
// means another process is touching the key; the entry is left for them.
// The staleness decision that triggered the eviction was made before the
// lock was taken, so it is re-checked under the lock: another process may
// have replaced the entry with a live value in between.
func (s *Store) evict(fingerprint string) {
	fl := flock.New(s.lockPath(fingerprint))
	locked, err := fl.TryLock()
	if err != nil || !locked {
		return
	}
	defer fl.Unlock()

	if s.isStale(fingerprint) {
		_ = os.Remove(s.entryPath(fingerprint))
	}
}

// isStale reports whether the entry for fingerprint is corrupt, carries a
// foreign version, or has expired. Absent entries are not stale: there is
// nothing to remove.
func (s *Store) isStale(fingerprint string) bool {
	data, err := os.ReadFile(s.entryPath(fingerprint))
	if err != nil {
		return false
	}

	var entry Entry
	return json.Unmarshal(data, &entry) != nil ||
		entry.Version != EntryVersion ||
		entry.Key != fingerprint ||
		entry.IsExpired()
}

// Sweep removes all expired and corrupt entries, returning the number
// removed. Intended for periodic maintenance.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		CacheErrors.WithLabelValues("sweep").Inc()
		return 0, fmt.Errorf("read cache directory: %w", err)
	}

	removed := 0
	for _, de := range dirEntries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if de.IsDir() || filepath.Ext(de.Name()) != ".json" {
			continue
		}

		fingerprint := de.Name()[:len(de.Name())-len(".json")]
		if !s.isStale(fingerprint) {
			continue
		}

		path := filepath.Join(s.dir, de.Name())
		_ = s.withLock(ctx, fingerprint, func() error {
			// The entry may have been replaced with a live value while we
			// waited for the lock
			if !s.isStale(fingerprint) {
				return nil
			}
			if err := os.Remove(path); err != nil {
				return err
			}
			removed++
			return nil
		})
	}

	s.logger.Info().
		Int("removed", removed).
		Msg("Cache sweep complete")

	return removed, nil
}

// Clear removes every entry, returning the number removed.
func (s *Store) Clear() (int, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read cache directory: %w", err)
	}

	removed := 0
	for _, de := range dirEntries {
		if de.IsDir() || filepath.Ext(de.Name()) != ".json" {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, de.Name())); err == nil {
			removed++
		}
	}

	return removed, nil
}

// Stats summarizes the store's on-disk state.
type Stats struct {
	TotalEntries   int
	ExpiredEntries int
	TotalBytes     int64
}

// Stats scans the cache directory and reports entry counts and size.
func (s *Store) Stats() (Stats, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return Stats{}, fmt.Errorf("read cache directory: %w", err)
	}

	var stats Stats
	for _, de := range dirEntries {
		if de.IsDir() || filepath.Ext(de.Name()) != ".json" {
			continue
		}

		info, err := de.Info()
		if err != nil {
			continue
		}
		stats.TotalEntries++
		stats.TotalBytes += info.Size()

		data, err := os.ReadFile(filepath.Join(s.dir, de.Name()))
		if err != nil {
			continue
		}
		var entry Entry
		if json.Unmarshal(data, &entry) != nil || entry.IsExpired() {
			stats.ExpiredEntries++
		}
	}

	return stats, nil
}
