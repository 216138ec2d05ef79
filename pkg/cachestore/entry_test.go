package cachestore

import (
	"testing"
	"time"
)

func TestEntry_IsExpired(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt time.Time
		expired   bool
	}{
		{"future expiry", time.Now().Add(1 * time.Hour), false},
		{"past expiry", time.Now().Add(-1 * time.Hour), true},
		{"expires now", time.Now(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &Entry{ExpiresAt: tt.expiresAt}
			if got := entry.IsExpired(); got != tt.expired {
				t.Errorf("IsExpired() = %v, want %v", got, tt.expired)
			}
		})
	}
}

func TestEntry_TTL(t *testing.T) {
	entry := &Entry{ExpiresAt: time.Now().Add(5 * time.Minute)}

	ttl := entry.TTL()
	if ttl <= 4*time.Minute || ttl > 5*time.Minute {
		t.Errorf("TTL() = %v, want ~5m", ttl)
	}
}

func TestEntry_TTL_Expired(t *testing.T) {
	entry := &Entry{ExpiresAt: time.Now().Add(-1 * time.Minute)}

	if ttl := entry.TTL(); ttl != 0 {
		t.Errorf("TTL() on expired entry = %v, want 0", ttl)
	}
}
