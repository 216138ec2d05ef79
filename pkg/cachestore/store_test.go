package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	store, err := New(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return store
}

func testKey(op string) Key {
	return Key{
		Provider:  "llm",
		Operation: op,
		Params:    map[string]string{"model": "medium"},
		Body:      []byte("prompt"),
	}
}

func TestStore_RoundTrip(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	key := testKey("round-trip")

	payload := []byte(`{"response": "a script about the ocean"}`)
	if err := store.Store(ctx, key, payload, 5*time.Minute); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	entry, err := store.Lookup(ctx, key)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}

	if string(entry.Payload) != string(payload) {
		t.Errorf("Payload mismatch: got %s, want %s", entry.Payload, payload)
	}
	if entry.Version != EntryVersion {
		t.Errorf("Version = %d, want %d", entry.Version, EntryVersion)
	}
	if entry.Key != key.Fingerprint() {
		t.Errorf("Key = %s, want %s", entry.Key, key.Fingerprint())
	}
}

func TestStore_Lookup_Miss(t *testing.T) {
	store := setupStore(t)

	_, err := store.Lookup(context.Background(), testKey("never-stored"))
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}

func TestStore_ZeroTTLImmediatelyExpired(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	key := testKey("zero-ttl")

	if err := store.Store(ctx, key, []byte("value"), 0); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	_, err := store.Lookup(ctx, key)
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss for ttl=0 entry, got %v", err)
	}
}

func TestStore_ExpiryEvenIfFileExists(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	key := testKey("short-ttl")

	if err := store.Store(ctx, key, []byte("value"), 30*time.Millisecond); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// Fresh lookup succeeds
	if _, err := store.Lookup(ctx, key); err != nil {
		t.Fatalf("Lookup before expiry failed: %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	_, err := store.Lookup(ctx, key)
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss after TTL elapsed, got %v", err)
	}
}

func TestStore_CorruptEntryIsMiss(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	key := testKey("corrupt")

	if err := store.Store(ctx, key, []byte("value"), 5*time.Minute); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// Scribble over the entry file
	path := filepath.Join(store.Dir(), key.Fingerprint()+".json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("Corrupting entry failed: %v", err)
	}

	_, err := store.Lookup(ctx, key)
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss for corrupt entry, got %v", err)
	}

	// Corrupt entry should have been evicted
	if _, statErr := os.Stat(path); !errors.Is(statErr, os.ErrNotExist) {
		t.Error("Corrupt entry file should have been removed")
	}
}

func TestStore_VersionMismatchIsMiss(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	key := testKey("old-version")

	if err := store.Store(ctx, key, []byte("value"), 5*time.Minute); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// Rewrite with a bumped version field
	path := filepath.Join(store.Dir(), key.Fingerprint()+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Read entry failed: %v", err)
	}
	mutated := strings.Replace(string(data), `"version":1`, `"version":99`, 1)
	if err := os.WriteFile(path, []byte(mutated), 0o644); err != nil {
		t.Fatalf("Rewrite entry failed: %v", err)
	}

	_, err = store.Lookup(ctx, key)
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss for version mismatch, got %v", err)
	}
}

func TestStore_ReplaceEntry(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	key := testKey("replace")

	if err := store.Store(ctx, key, []byte("first"), 5*time.Minute); err != nil {
		t.Fatalf("First store failed: %v", err)
	}
	if err := store.Store(ctx, key, []byte("second"), 5*time.Minute); err != nil {
		t.Fatalf("Second store failed: %v", err)
	}

	entry, err := store.Lookup(ctx, key)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if string(entry.Payload) != "second" {
		t.Errorf("Payload = %s, want second", entry.Payload)
	}
}

func TestStore_Invalidate(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	key := testKey("invalidate")

	if err := store.Store(ctx, key, []byte("value"), 5*time.Minute); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	if err := store.Invalidate(ctx, key); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	_, err := store.Lookup(ctx, key)
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss after Invalidate, got %v", err)
	}

	// Invalidating an absent key is not an error
	if err := store.Invalidate(ctx, key); err != nil {
		t.Errorf("Invalidate on absent key failed: %v", err)
	}
}

func TestStore_ConcurrentWritersSameKey(t *testing.T) {
	// Two independent Store handles on one directory stand in for two
	// processes: the final state must be exactly one of the written
	// values, never a mix.
	dir := t.TempDir()
	storeA, err := New(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	storeB, err := New(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx := context.Background()
	key := testKey("contended")

	valueA := make([]byte, 64*1024)
	valueB := make([]byte, 64*1024)
	for i := range valueA {
		valueA[i] = 'a'
		valueB[i] = 'b'
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := storeA.Store(ctx, key, valueA, 5*time.Minute); err != nil {
				t.Errorf("storeA.Store failed: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := storeB.Store(ctx, key, valueB, 5*time.Minute); err != nil {
				t.Errorf("storeB.Store failed: %v", err)
			}
		}()
	}
	wg.Wait()

	entry, err := storeA.Lookup(ctx, key)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}

	first := entry.Payload[0]
	if first != 'a' && first != 'b' {
		t.Fatalf("Unexpected payload byte %q", first)
	}
	for i, b := range entry.Payload {
		if b != first {
			t.Fatalf("Torn write: byte %d is %q, expected all %q", i, b, first)
		}
	}
}

func TestStore_LockTimeout(t *testing.T) {
	store := setupStore(t)
	key := testKey("locked")
	fingerprint := key.Fingerprint()

	// Hold the key's lock so a writer with a short deadline times out
	done := make(chan struct{})
	acquired := make(chan struct{})
	go func() {
		_ = store.withLock(context.Background(), fingerprint, func() error {
			close(acquired)
			<-done
			return nil
		})
	}()
	<-acquired
	defer close(done)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := store.Store(ctx, key, []byte("value"), 5*time.Minute)
	if !errors.Is(err, ErrLockTimeout) {
		t.Errorf("Expected ErrLockTimeout, got %v", err)
	}
}

// writeEntryFile writes an entry directly, bypassing Store's locking.
func writeEntryFile(t *testing.T, store *Store, key Key, payload []byte, expiresAt time.Time) {
	t.Helper()

	fingerprint := key.Fingerprint()
	data, err := json.Marshal(&Entry{
		Key:       fingerprint,
		Version:   EntryVersion,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
		Payload:   payload,
	})
	if err != nil {
		t.Fatalf("Marshal entry failed: %v", err)
	}
	if err := os.WriteFile(store.entryPath(fingerprint), data, 0o644); err != nil {
		t.Fatalf("Write entry failed: %v", err)
	}
}

func TestStore_EvictRevalidatesUnderLock(t *testing.T) {
	// An eviction decision made from a stale read must not delete an entry
	// another writer refreshed in the meantime.
	dir := t.TempDir()
	storeA, err := New(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	storeB, err := New(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx := context.Background()
	key := testKey("refreshed")

	// storeA observes an expired entry and decides to evict it
	if err := storeA.Store(ctx, key, []byte("old"), 0); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// storeB replaces it with a live value before the eviction runs
	if err := storeB.Store(ctx, key, []byte("fresh"), time.Hour); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	storeA.evict(key.Fingerprint())

	entry, err := storeA.Lookup(ctx, key)
	if err != nil {
		t.Fatalf("Lookup after evict failed: %v (live entry was deleted)", err)
	}
	if string(entry.Payload) != "fresh" {
		t.Errorf("Payload = %s, want fresh", entry.Payload)
	}
}

func TestStore_SweepSkipsRefreshedEntry(t *testing.T) {
	// Sweep classifies entries before taking their locks; an entry
	// refreshed while Sweep waits for the lock must survive.
	store := setupStore(t)
	ctx := context.Background()
	key := testKey("refreshed-during-sweep")
	fingerprint := key.Fingerprint()

	writeEntryFile(t, store, key, []byte("old"), time.Now().Add(-time.Minute))

	// Hold the key's lock so Sweep blocks after classifying it as stale
	fl := flock.New(store.lockPath(fingerprint))
	if err := fl.Lock(); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	done := make(chan int, 1)
	go func() {
		removed, err := store.Sweep(ctx)
		if err != nil {
			t.Errorf("Sweep failed: %v", err)
		}
		done <- removed
	}()

	// Give Sweep time to classify and block, then refresh the entry
	time.Sleep(50 * time.Millisecond)
	writeEntryFile(t, store, key, []byte("fresh"), time.Now().Add(time.Hour))

	if err := fl.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}

	if removed := <-done; removed != 0 {
		t.Errorf("Sweep removed %d entries, want 0", removed)
	}

	entry, err := store.Lookup(ctx, key)
	if err != nil {
		t.Fatalf("Lookup after sweep failed: %v (refreshed entry was deleted)", err)
	}
	if string(entry.Payload) != "fresh" {
		t.Errorf("Payload = %s, want fresh", entry.Payload)
	}
}

func TestStore_Sweep(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	if err := store.Store(ctx, testKey("live"), []byte("v"), 5*time.Minute); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := store.Store(ctx, testKey("dead-1"), []byte("v"), 0); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := store.Store(ctx, testKey("dead-2"), []byte("v"), 0); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	removed, err := store.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Sweep removed %d entries, want 2", removed)
	}

	// Live entry survives
	if _, err := store.Lookup(ctx, testKey("live")); err != nil {
		t.Errorf("Live entry gone after sweep: %v", err)
	}
}

func TestStore_Clear(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	for _, op := range []string{"a", "b", "c"} {
		if err := store.Store(ctx, testKey(op), []byte("v"), 5*time.Minute); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}

	removed, err := store.Clear()
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if removed != 3 {
		t.Errorf("Clear removed %d, want 3", removed)
	}
}

func TestStore_Stats(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	if err := store.Store(ctx, testKey("live"), []byte("value"), 5*time.Minute); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := store.Store(ctx, testKey("expired"), []byte("value"), 0); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}

	if stats.TotalEntries != 2 {
		t.Errorf("TotalEntries = %d, want 2", stats.TotalEntries)
	}
	if stats.ExpiredEntries != 1 {
		t.Errorf("ExpiredEntries = %d, want 1", stats.ExpiredEntries)
	}
	if stats.TotalBytes <= 0 {
		t.Errorf("TotalBytes = %d, want > 0", stats.TotalBytes)
	}
}
