package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level to be Info, got %s", cfg.Level)
	}

	if cfg.Pretty != false {
		t.Error("Expected default pretty to be false")
	}
}

func TestSetup(t *testing.T) {
	tests := []struct {
		name     string
		level    LogLevel
		logFn    func(logger zerolog.Logger, msg string)
		testMsg  string
		expected bool
	}{
		{
			name:     "info_level_logs_info",
			level:    LevelInfo,
			logFn:    func(l zerolog.Logger, m string) { l.Info().Msg(m) },
			testMsg:  "cache sweep complete",
			expected: true,
		},
		{
			name:     "info_level_drops_debug",
			level:    LevelInfo,
			logFn:    func(l zerolog.Logger, m string) { l.Debug().Msg(m) },
			testMsg:  "cache hit",
			expected: false,
		},
		{
			name:     "debug_level_logs_debug",
			level:    LevelDebug,
			logFn:    func(l zerolog.Logger, m string) { l.Debug().Msg(m) },
			testMsg:  "rate limiter admission",
			expected: true,
		},
		{
			name:     "error_level_drops_warn",
			level:    LevelError,
			logFn:    func(l zerolog.Logger, m string) { l.Warn().Msg(m) },
			testMsg:  "corrupt cache entry",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := Setup(Config{
				Level:  tt.level,
				Pretty: false,
				Output: &buf,
			})

			tt.logFn(logger, tt.testMsg)

			got := strings.Contains(buf.String(), tt.testMsg)
			if got != tt.expected {
				t.Errorf("Message %q logged = %v, want %v (output: %s)",
					tt.testMsg, got, tt.expected, buf.String())
			}
		})
	}
}

func TestSetup_NilOutputDefaults(t *testing.T) {
	// Nil Output falls back to stderr; logging below the level threshold
	// must emit nothing and must not panic.
	logger := Setup(Config{Level: LevelError})
	logger.Info().Msg("suppressed")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"unknown", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	Setup(Config{Level: LevelInfo, Output: &buf})

	logger := NewLogger("cachestore")
	logger.Info().Msg("store initialized")

	out := buf.String()
	if !strings.Contains(out, `"component":"cachestore"`) {
		t.Errorf("Expected component field in output, got: %s", out)
	}
	if !strings.Contains(out, "store initialized") {
		t.Errorf("Expected message in output, got: %s", out)
	}
}
