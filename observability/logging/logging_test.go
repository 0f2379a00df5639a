package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupEmitsServiceFields(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(&buf, "dlnode", "test", slog.LevelInfo)
	logger.Info("confirmed", "dumpNumber", 7)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "dlnode", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "confirmed", line["message"])
	require.Contains(t, line, "timestamp")
	require.EqualValues(t, 7, line["dumpNumber"])
}

func TestSetupHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(&buf, "dlnode", "", slog.LevelWarn)
	logger.Info("dropped")
	require.Zero(t, buf.Len())
	logger.Warn("kept")
	require.Contains(t, buf.String(), `"severity":"WARN"`)
	require.NotContains(t, buf.String(), `"env"`)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel(" DEBUG "))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
}
