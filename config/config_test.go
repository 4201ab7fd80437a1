package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kiterr "github.com/c0deZ3R0/go-order-kit/errors"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 12, cfg.MaxKeyLength)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Retry.BaseDelay.Std())
	assert.Equal(t, StrategyTimestamp, cfg.ConflictStrategy)

	a, err := cfg.NewAlphabet()
	require.NoError(t, err)
	assert.Equal(t, byte('n'), a.Mid())
}

func TestRetryDelayIsLinear(t *testing.T) {
	r := Retry{MaxAttempts: 3, BaseDelay: Duration(100 * time.Millisecond)}
	assert.Equal(t, 100*time.Millisecond, r.Delay(1))
	assert.Equal(t, 200*time.Millisecond, r.Delay(2))
	assert.Equal(t, 300*time.Millisecond, r.Delay(3))
}

func TestParseYAML(t *testing.T) {
	data := []byte(`
alphabet: ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz
max_key_length: 20
retry:
  max_attempts: 5
  base_delay: 50ms
conflict_strategy: user_priority
user_priorities:
  alice: 10
  bob: 1
pending_max_age: 2m
`)
	cfg, err := Parse(data, "yaml")
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.MaxKeyLength)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Retry.BaseDelay.Std())
	assert.Equal(t, StrategyUserPriority, cfg.ConflictStrategy)
	assert.Equal(t, map[string]int{"alice": 10, "bob": 1}, cfg.UserPriorities)
	assert.Equal(t, 2*time.Minute, cfg.PendingMaxAge.Std())
	// Untouched fields keep their defaults.
	assert.Equal(t, time.Minute, cfg.CleanupInterval.Std())
	assert.Equal(t, uint64(4), cfg.MediumGapSlots)
}

func TestParseJSON(t *testing.T) {
	data := []byte(`{"retry":{"max_attempts":2,"base_delay":"1s"},"conflict_strategy":"server_wins","cleanup_interval":1000}`)
	cfg, err := Parse(data, "json")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay.Std())
	assert.Equal(t, StrategyServerWins, cfg.ConflictStrategy)
	assert.Equal(t, time.Microsecond, cfg.CleanupInterval.Std())
}

func TestJSONRoundTripUsesDurationStrings(t *testing.T) {
	out, err := json.Marshal(Default())
	require.NoError(t, err)
	assert.Contains(t, string(out), `"base_delay":"200ms"`)

	cfg, err := Parse(out, "json")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		format string
	}{
		{"unknown format", `{}`, "toml"},
		{"bad yaml", "retry: [", "yaml"},
		{"bad duration", "retry:\n  base_delay: soon\n", "yaml"},
		{"bad strategy", `conflict_strategy: random`, "yaml"},
		{"short alphabet", `alphabet: abc`, "yaml"},
		{"digit alphabet", `alphabet: abc123`, "yaml"},
		{"zero attempts", `{"retry":{"max_attempts":0}}`, "json"},
		{"zero key length", `max_key_length: 0`, "yaml"},
		{"negative delay", `{"retry":{"base_delay":"-1s"}}`, "json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), tt.format)
			require.Error(t, err)
			assert.True(t, kiterr.HasCode(err, kiterr.ErrCodeValidation), "%v", err)
		})
	}
}

func TestLoadDetectsFormat(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "ordering.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("max_key_length: 8\n"), 0o600))
	cfg, err := Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.MaxKeyLength)

	jsonPath := filepath.Join(dir, "ordering.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"max_key_length": 9}`), 0o600))
	cfg, err = Load(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.MaxKeyLength)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestFromLookup(t *testing.T) {
	env := map[string]string{
		EnvMaxKeyLength:     "16",
		EnvRetryMaxAttempts: "4",
		EnvRetryBaseDelay:   "10ms",
		EnvConflictStrategy: "CLIENT_WINS",
		EnvUserPriorities:   "alice=3, bob=1",
		EnvMinGap:           "2",
		EnvCleanupInterval:  " ",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cfg, err := fromLookup(Default(), lookup)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.MaxKeyLength)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, cfg.Retry.BaseDelay.Std())
	assert.Equal(t, StrategyClientWins, cfg.ConflictStrategy)
	assert.Equal(t, map[string]int{"alice": 3, "bob": 1}, cfg.UserPriorities)
	assert.Equal(t, uint64(2), cfg.MinGap)
	assert.Equal(t, time.Minute, cfg.CleanupInterval.Std())
}

func TestFromLookupRejects(t *testing.T) {
	for name, value := range map[string]string{
		EnvMaxKeyLength:   "many",
		EnvMinGap:         "-1",
		EnvRetryBaseDelay: "fast",
		EnvUserPriorities: "alice",
	} {
		lookup := func(k string) (string, bool) {
			if k == name {
				return value, true
			}
			return "", false
		}
		_, err := fromLookup(Default(), lookup)
		assert.Error(t, err, name)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvMaxKeyLength, "7")
	cfg, err := FromEnv(Default())
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxKeyLength)
}
