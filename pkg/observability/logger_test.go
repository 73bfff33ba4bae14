package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantadmin/pkg/contextkeys"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WarnLevel, &buf)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "WARN", entries[0]["level"])
	assert.Equal(t, "warn message", entries[0]["msg"])
	assert.Equal(t, "ERROR", entries[1]["level"])
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("tenant_id", 7).
		WithFields(map[string]interface{}{"role": "admin", "count": 2}).
		WithError(errors.New("boom")).
		Infof("switched to %s", "acme")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "switched to acme", entries[0]["msg"])
	assert.Equal(t, float64(7), entries[0]["tenant_id"])
	assert.Equal(t, "admin", entries[0]["role"])
	assert.Equal(t, "boom", entries[0]["error"])
}

func TestLogger_WithNilError(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})
	assert.Same(t, logger, logger.WithError(nil))
}

func TestContextHelpers(t *testing.T) {
	t.Run("ids round trip", func(t *testing.T) {
		ctx := WithRequestID(context.Background(), "req-123")
		ctx = WithUserID(ctx, "42")

		assert.Equal(t, "req-123", GetRequestID(ctx))
		assert.Equal(t, "42", GetUserID(ctx))
	})

	t.Run("logger default", func(t *testing.T) {
		assert.NotNil(t, GetLogger(context.Background()))
	})

	t.Run("FromContext adds ids", func(t *testing.T) {
		var buf bytes.Buffer
		ctx := WithLogger(context.Background(), NewLogger(InfoLevel, &buf))
		ctx = WithRequestID(ctx, "req-123")
		ctx = WithUserID(ctx, "42")

		FromContext(ctx).Info("test message")

		entries := decodeLines(t, &buf)
		require.Len(t, entries, 1)
		assert.Equal(t, "req-123", entries[0]["request_id"])
		assert.Equal(t, "42", entries[0]["user_id"])
		assert.NotContains(t, entries[0], "original_user_id")
		assert.NotContains(t, entries[0], "tenant_id")
	})

	t.Run("FromContext adds impersonator and tenant", func(t *testing.T) {
		var buf bytes.Buffer
		ctx := WithLogger(context.Background(), NewLogger(InfoLevel, &buf))
		ctx = WithUserID(ctx, "42")
		ctx = contextkeys.WithOriginalUserID(ctx, "7")
		ctx = contextkeys.WithTenantID(ctx, "3")

		FromContext(ctx).Info("switched")

		entries := decodeLines(t, &buf)
		require.Len(t, entries, 1)
		assert.Equal(t, "42", entries[0]["user_id"])
		assert.Equal(t, "7", entries[0]["original_user_id"])
		assert.Equal(t, "3", entries[0]["tenant_id"])
	})
}

func TestLogLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", DebugLevel.String())
	assert.Equal(t, "INFO", InfoLevel.String())
	assert.Equal(t, "WARN", WarnLevel.String())
	assert.Equal(t, "ERROR", ErrorLevel.String())
	assert.Equal(t, "INFO", LogLevel(9).String())
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"warning": WarnLevel,
		" error ": ErrorLevel,
		"bogus":   InfoLevel,
		"":        InfoLevel,
	}
	for name, want := range tests {
		assert.Equal(t, want, ParseLevel(name), name)
	}
}
