package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextLogger(t *testing.T) {
	ctx := context.Background()

	l1 := Ctx(ctx)
	require.NotNil(t, l1)
	assert.Equal(t, defaultLogger, l1, "Ctx should fall back to the default logger")
	assert.Equal(t, Default(), l1)

	var buf bytes.Buffer
	custom := slog.New(slog.NewJSONHandler(&buf, nil))
	l2 := Ctx(With(ctx, custom))
	assert.Equal(t, custom, l2)
}

func TestWithUser(t *testing.T) {
	var buf bytes.Buffer
	ctx := With(context.Background(), slog.New(slog.NewJSONHandler(&buf, nil)))

	ctx = WithUser(ctx, "u1")
	ctx = WithAttrs(ctx, slog.String("date", "20240103"))
	Ctx(ctx).InfoContext(ctx, "rolled over")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "rolled over", rec["msg"])
	assert.Equal(t, "u1", rec["userID"])
	assert.Equal(t, "20240103", rec["date"])
}

func TestSetDefaultLogLevel(t *testing.T) {
	prev := defaultLogLevel.Level()
	t.Cleanup(func() { SetDefaultLogLevel(prev) })

	SetDefaultLogLevel(slog.LevelWarn)
	ctx := context.Background()
	assert.False(t, Default().Enabled(ctx, slog.LevelInfo))
	assert.True(t, Default().Enabled(ctx, slog.LevelWarn))

	// derived loggers share the level
	derived := Ctx(WithUser(ctx, "u1"))
	SetDefaultLogLevel(slog.LevelDebug)
	assert.True(t, derived.Enabled(ctx, slog.LevelDebug))
}
