package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelInfo, Service: "progressd"})

	log.With(UserID("u1")).Info("session applied", XPAmount(150), Err(errors.New("boom")))
	log.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry Entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "session applied", entry.Message)
	assert.Equal(t, "u1", entry.Fields["user_id"])
	assert.Equal(t, "progressd", entry.Fields["service"])
	assert.Equal(t, float64(150), entry.Fields["xp_amount"])
	assert.Equal(t, "boom", entry.Fields["error"])
}

func TestLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelDebug, Format: FormatText})

	log.Warn("skipped badge", BadgeID("typo"), Attempt(2))

	out := buf.String()
	assert.Contains(t, out, `level=WARN message="skipped badge"`)
	assert.Contains(t, out, "fields.badge_id=typo fields.attempt=2")
	assert.NotContains(t, out, "caller=")
}

func TestLogger_Caller(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, AddCaller: true})
	log.Info("with caller")

	var entry Entry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.True(t, strings.HasPrefix(entry.Caller, "logger_test.go:"), entry.Caller)
}

func TestLogger_Slog(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf}).With(Component("bus"))
	log.Slog().Info("from slog", "event_type", "progress.level_up")

	var entry Entry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "from slog", entry.Message)
	assert.Equal(t, "bus", entry.Fields["component"])
	assert.Equal(t, "progress.level_up", entry.Fields["event_type"])
}

func TestNop(t *testing.T) {
	log := Nop()
	assert.False(t, log.Enabled(LevelError))
	log.With(UserID("u1")).Error("dropped")
}

func TestLogger_WithDoesNotLeakFields(t *testing.T) {
	var buf bytes.Buffer
	base := New(Options{Output: &buf})
	_ = base.With(UserID("u1"))

	base.Info("plain")
	assert.NotContains(t, buf.String(), "user_id")
}

func TestContext(t *testing.T) {
	log := Nop()
	ctx := WithContext(context.Background(), log)
	assert.Same(t, log, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
}
