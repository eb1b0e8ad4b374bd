package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { SetLevel("info") })

	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	} {
		SetLevel(in)
		require.Equal(t, want, Level(), in)
	}
}

func TestConfigure_JSON(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, FormatJSON)
	t.Cleanup(func() {
		Configure(os.Stdout, FormatJSON)
		SetLevel("info")
	})

	SetLevel("warn")
	L.Info("dropped")
	L.Warn("kept", "chat", "c1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	require.Equal(t, "kept", rec["msg"])
	require.Equal(t, "c1", rec["chat"])
}

func TestConfigure_Text(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, "TEXT")
	t.Cleanup(func() { Configure(os.Stdout, FormatJSON) })

	L.Info("saved", "nodes", 3)
	require.Contains(t, buf.String(), "msg=saved")
	require.Contains(t, buf.String(), "nodes=3")
}
