package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestWithComponentUsesOverride(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	WithComponent("supervisor").Info("provider ready", "provider", "calc")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	require.Equal(t, "supervisor", record["component"])
	require.Equal(t, "calc", record["provider"])
}

func TestEnvLoggerHonoursFormat(t *testing.T) {
	t.Setenv("TOOLCHAT_LOG_FORMAT", "text")
	t.Setenv("TOOLCHAT_LOG_LEVEL", "warn")

	var buf bytes.Buffer
	l := newLoggerFromEnv(&buf)
	l.Info("hidden")
	l.Warn("shown")

	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "msg=shown")
	require.Contains(t, buf.String(), "service=toolchat")
}
