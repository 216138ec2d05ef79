package cachestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Key identifies a cached provider response. Two logically identical
// requests must produce the same fingerprint; any parameter that affects
// the response must be part of the key.
type Key struct {
	// Provider is the provider identifier (e.g. "llm", "tts").
	Provider string

	// Operation is the provider operation (e.g. "chat-completion").
	Operation string

	// Params are the request parameters that affect the response.
	Params map[string]string

	// Body is the request payload. Large payloads contribute their
	// content hash to the fingerprint, not their bytes.
	Body []byte
}

// Fingerprint returns the deterministic hex-encoded SHA-256 digest of the
// normalized key. Params are sorted for stability; the body is hashed
// separately so its size does not matter.
func (k Key) Fingerprint() string {
	h := sha256.New()

	fmt.Fprintf(h, "provider=%s\x00", k.Provider)
	fmt.Fprintf(h, "operation=%s\x00", k.Operation)

	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			fmt.Fprintf(h, "%s=%s\x00", name, k.Params[name])
		}
	}

	if len(k.Body) > 0 {
		bodySum := sha256.Sum256(k.Body)
		fmt.Fprintf(h, "body=%s\x00", hex.EncodeToString(bodySum[:]))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// String returns the fingerprint.
func (k Key) String() string {
	return k.Fingerprint()
}

// ShortFingerprint returns a truncated digest for log output.
func ShortFingerprint(fingerprint string) string {
	if len(fingerprint) <= 16 {
		return fingerprint
	}
	return fingerprint[:16]
}
