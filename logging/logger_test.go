package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-order-kit/errors"
)

func TestLoggerJSONCarriesOrderError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, Config{Level: "debug", Format: "json", Environment: EnvProduction})

	orderErr := errors.NewTransientError(errors.OpMove, fmt.Errorf("connection reset")).WithMetadata("attempt", 2)
	logger.LogError(context.Background(), orderErr, "move failed", slog.String("item_id", "card-1"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "move failed", line["msg"])
	assert.Equal(t, "card-1", line["item_id"])

	group, ok := line["order_error"].(map[string]any)
	require.True(t, ok, "order_error group missing: %s", buf.String())
	assert.Equal(t, "TRANSIENT_MUTATION", group["code"])
	assert.Equal(t, true, group["retryable"])
}

func TestLogOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, Config{Level: "debug", Format: "text"})

	err := logger.LogOperation(context.Background(), Operation("rebalance"), Component("position"), func() error {
		return nil
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "operation completed")
	assert.Contains(t, buf.String(), "component=position")

	buf.Reset()
	want := fmt.Errorf("nope")
	err = logger.LogOperation(context.Background(), Operation("rebalance"), Component("position"), func() error {
		return want
	})
	assert.Equal(t, want, err)
	assert.Contains(t, buf.String(), "operation failed")

	buf.Reset()
	err = logger.WithComponent("coordinator").LogOperation(context.Background(), Operation("move"), "", func() error {
		return nil
	})
	require.NoError(t, err)
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		assert.Equal(t, 1, strings.Count(line, "component="), line)
	}
	assert.Contains(t, buf.String(), "component=coordinator")
}

func TestDynamicLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, levelVar := NewLoggerWithDynamicLevel(&buf, Config{Level: "info", Format: "text"})

	logger.Debug("hidden")
	assert.NotContains(t, buf.String(), "hidden")

	require.True(t, levelVar.SetFromString("debug"))
	logger.Debug("visible")
	assert.Contains(t, buf.String(), "visible")

	assert.False(t, levelVar.SetFromString("loud"))

	require.True(t, levelVar.SetFromString("trace"))
	buf.Reset()
	logger.Trace(context.Background(), "fine grained")
	assert.Contains(t, buf.String(), "level=TRACE")

	require.True(t, levelVar.SetFromString("fatal"))
	buf.Reset()
	logger.Error("suppressed")
	assert.Empty(t, buf.String())
}

func TestConfigFromLookup(t *testing.T) {
	env := map[string]string{
		"ENVIRONMENT": "development",
		"LOG_LEVEL":   "WARN",
	}
	cfg := configFromLookup(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.Equal(t, "warn", cfg.Level)
	assert.Equal(t, "text", cfg.Format)
	assert.True(t, cfg.AddSource)

	cfg = configFromLookup(func(string) (string, bool) { return "", false })
	assert.Equal(t, DefaultConfig, cfg)
}

func TestDiscard(t *testing.T) {
	l := OrDiscard(nil)
	require.NotNil(t, l)
	l.Error("dropped")
	assert.True(t, strings.HasPrefix(LevelTrace.String(), "TRACE"))
}
