package log_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mameuix/mameuix/internal/log"
)

func TestContextAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := log.New(&buf, slog.LevelInfo)

	ctx := log.ContextAttrs(t.Context(), slog.String("cmd", "verify"))
	ctx1 := log.ContextAttrs(ctx, slog.String("session", "one"))
	ctx2 := log.ContextAttrs(ctx, slog.String("session", "two"))

	logger.InfoContext(ctx1, "first")
	logger.With("worker", 3).InfoContext(ctx2, "second")
	logger.DebugContext(ctx1, "hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first, second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))

	require.Equal(t, "first", first["msg"])
	require.Equal(t, "verify", first["cmd"])
	require.Equal(t, "one", first["session"])

	require.Equal(t, "two", second["session"])
	require.Equal(t, float64(3), second["worker"])
}

func TestLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := log.New(&buf, slog.LevelDebug)
	logger.Debug("visible")
	require.Contains(t, buf.String(), `"msg":"visible"`)
}
