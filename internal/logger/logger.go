package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var level = new(slog.LevelVar)

// Init installs the default logger. LOG_LEVEL picks the level and
// LOG_FORMAT=text switches from JSON to logfmt-style output.
func Init() {
	InitWriter(os.Stderr)
}

func InitWriter(w io.Writer) {
	level.Set(parseLevel(os.Getenv("LOG_LEVEL")))

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

// Quiet raises the level to warn unless LOG_LEVEL was set explicitly.
// The terminal chat uses it so info logs do not interleave with answers.
func Quiet() {
	if os.Getenv("LOG_LEVEL") == "" {
		level.Set(slog.LevelWarn)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
