// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration. The zero value is usable: info
// level, JSON output to stderr.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output instead of JSON.
	Pretty bool

	// Output is the destination writer. Nil means os.Stderr.
	Output io.Writer
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{Level: LevelInfo}
}

// Setup configures the global zerolog logger and returns it. Every
// component logger created afterwards inherits the level and output
// configured here.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return log.Logger
}

// parseLevel converts LogLevel to zerolog.Level, defaulting to info for
// anything unrecognized.
func parseLevel(level LogLevel) zerolog.Level {
	name := strings.ToLower(string(level))
	if name == "warning" {
		name = "warn"
	}

	parsed, err := zerolog.ParseLevel(name)
	if err != nil || parsed == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return parsed
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache operations (hit/miss, fingerprint, TTL)
//   - Rate limiter admissions and token counts
//   - Retry scheduling (attempt, backoff)
//
// Info: Normal operation events
//   - Successful provider calls after retry
//   - Cache sweeps and their counts
//   - Daemon startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Corrupt cache entries (treated as miss)
//   - Retry attempts
//   - Store write failures after a successful fetch
//
// Error: Error conditions requiring attention
//   - Failed provider calls (after retries)
//   - Lock acquisition timeouts
//   - Configuration errors
//
// Context Fields:
//   - provider: provider identifier (llm, tts, transcription, ...)
//   - fingerprint: cache key digest (first 16 hex chars)
//   - status_code: HTTP status code
//   - kind: failure classification (network, timeout, throttle, server, auth, client, rate_limit)
//   - attempt: retry attempt number
//   - ttl: cache entry TTL
