package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonLogger(buf *bytes.Buffer, level Level) Logger {
	return NewLogger(&Config{
		Level:       level,
		ServiceName: "minutes-test",
		Environment: "testing",
		JSONFormat:  true,
		Output:      buf,
	})
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, LevelInfo, cfg.Level)
	assert.Equal(t, "minutes", cfg.ServiceName)
	assert.False(t, cfg.JSONFormat)
}

func TestNewLogger_NilConfig(t *testing.T) {
	assert.NotNil(t, NewLogger(nil))
}

func TestLogger_JSONFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := jsonLogger(buf, LevelDebug)

	log.Info("stage complete",
		F("stage", "draft"),
		F("segments", 12),
		F("score", 0.92),
		F("elapsed", 1500*time.Millisecond),
		F("speakers", []string{"Ana", "Ben"}),
		Err(errors.New("boom")),
	)

	out := decodeLine(t, buf)
	assert.Equal(t, "stage complete", out["message"])
	assert.Equal(t, "info", out["level"])
	assert.Equal(t, "minutes-test", out["service_name"])
	assert.Equal(t, "draft", out["stage"])
	assert.EqualValues(t, 12, out["segments"])
	assert.EqualValues(t, 0.92, out["score"])
	assert.Equal(t, "boom", out["error"])
	assert.Len(t, out["speakers"], 2)
}

func TestLogger_LevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	log := jsonLogger(buf, LevelWarn)

	log.Debug("hidden")
	log.Info("hidden")
	assert.Zero(t, buf.Len())

	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestLogger_With(t *testing.T) {
	buf := &bytes.Buffer{}
	log := jsonLogger(buf, LevelInfo).With(F("component", "orchestrator"))

	log.Info("hello")

	out := decodeLine(t, buf)
	assert.Equal(t, "orchestrator", out["component"])
}

func TestLogger_WithContext(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := ContextWithJob(context.Background(), "job-1")
	ctx = ContextWithStage(ctx, "validation")
	ctx = ContextWithRequestID(ctx, "req-9")

	jsonLogger(buf, LevelInfo).WithContext(ctx).Info("checked")

	out := decodeLine(t, buf)
	assert.Equal(t, "job-1", out["job_id"])
	assert.Equal(t, "validation", out["stage"])
	assert.Equal(t, "req-9", out["request_id"])
	assert.NotContains(t, out, "trace_id")
}

func TestLogger_ConsoleFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewLogger(&Config{Level: LevelInfo, Output: buf})
	log.Info("console line")
	assert.Contains(t, buf.String(), "console line")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("verbose"))
}

func TestMustGlobal(t *testing.T) {
	prev := global
	t.Cleanup(func() { global = prev })

	global = nil
	assert.NotNil(t, MustGlobal())

	nop := NewNopLogger()
	SetGlobal(nop)
	assert.Same(t, nop, MustGlobal())
}
