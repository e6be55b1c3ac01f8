package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, parseLevel(in))
		})
	}
}

func TestInitWriterJSON(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_FORMAT", "")
	var buf bytes.Buffer
	InitWriter(&buf)

	slog.Debug("hidden")
	slog.Info("hello", "session_id", "abc")
	assert.Equal(t, "hello", gjson.Get(buf.String(), "msg").String())
	assert.Equal(t, "abc", gjson.Get(buf.String(), "session_id").String())

	buf.Reset()
	Quiet()
	slog.Info("muted")
	assert.Empty(t, buf.String())
}
