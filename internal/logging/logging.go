// Package logging configures structured logging for the bot.
// Console output uses a tinted terminal handler; JSON output is
// intended for log shipping. Values under credential-like keys are
// redacted before they reach any handler.
package logging

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Config holds the configuration of the logger.
type Config struct {
	Level  slog.Level
	Format string // "console" or "json"
}

// sensitiveKeys are attribute keys whose values are never logged verbatim.
var sensitiveKeys = []string{"token", "secret", "password", "key", "authorization"}

// FromStrings builds a Config from the LOG_LEVEL / LOG_FORMAT values.
func FromStrings(level, format string) Config {
	cfg := Config{
		Level:  slog.LevelInfo,
		Format: "console",
	}

	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = slog.LevelDebug
	case "info":
		cfg.Level = slog.LevelInfo
	case "warn", "warning":
		cfg.Level = slog.LevelWarn
	case "error":
		cfg.Level = slog.LevelError
	}

	if strings.EqualFold(format, "json") {
		cfg.Format = "json"
	}

	return cfg
}

// Init builds the process-wide logger and installs it as the slog default.
func Init(cfg Config) *slog.Logger {
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:       cfg.Level,
			ReplaceAttr: replaceAttr,
		})
	} else {
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:       cfg.Level,
			TimeFormat:  time.Kitchen,
			ReplaceAttr: replaceAttr,
		})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// For returns a logger tagged with a component name.
func For(component string) *slog.Logger {
	return slog.Default().With(slog.String("component", component))
}

// Redact keeps the first and last four characters of a credential so
// operators can correlate values without exposing them.
func Redact(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// IsSensitiveKey reports whether values under key must be redacted.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sk := range sensitiveKeys {
		if strings.Contains(lower, sk) {
			return true
		}
	}
	return false
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString && IsSensitiveKey(a.Key) {
		return slog.String(a.Key, Redact(a.Value.String()))
	}
	return a
}
