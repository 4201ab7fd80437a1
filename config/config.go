// Package config holds the ordering configuration value object. It is
// loaded from YAML or JSON, optionally overridden from ORDERKIT_* environment
// variables, and passed explicitly to every component constructor.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	kiterr "github.com/c0deZ3R0/go-order-kit/errors"
	"github.com/c0deZ3R0/go-order-kit/orderkey"
)

// Strategy selects how a remote update that disagrees with a local pending or
// recently settled version is resolved.
type Strategy string

const (
	StrategyTimestamp    Strategy = "timestamp"
	StrategyServerWins   Strategy = "server_wins"
	StrategyClientWins   Strategy = "client_wins"
	StrategyUserPriority Strategy = "user_priority"
)

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyTimestamp, StrategyServerWins, StrategyClientWins, StrategyUserPriority:
		return true
	}
	return false
}

// Retry bounds the retry loop around the mutation authority.
type Retry struct {
	MaxAttempts int      `json:"max_attempts" yaml:"max_attempts"`
	BaseDelay   Duration `json:"base_delay" yaml:"base_delay"`
}

// Delay returns the wait before the given retry attempt (1-based).
func (r Retry) Delay(attempt int) time.Duration {
	return time.Duration(attempt) * r.BaseDelay.Std()
}

// Ordering is the complete ordering configuration.
type Ordering struct {
	Alphabet         string         `json:"alphabet" yaml:"alphabet"`
	MaxKeyLength     int            `json:"max_key_length" yaml:"max_key_length"`
	LegacyWidth      int            `json:"legacy_width" yaml:"legacy_width"`
	MinGap           uint64         `json:"min_gap" yaml:"min_gap"`
	MediumGapSlots   uint64         `json:"medium_gap_slots" yaml:"medium_gap_slots"`
	Retry            Retry          `json:"retry" yaml:"retry"`
	ConflictStrategy Strategy       `json:"conflict_strategy" yaml:"conflict_strategy"`
	UserPriorities   map[string]int `json:"user_priorities,omitempty" yaml:"user_priorities,omitempty"`
	PendingMaxAge    Duration       `json:"pending_max_age" yaml:"pending_max_age"`
	CleanupInterval  Duration       `json:"cleanup_interval" yaml:"cleanup_interval"`
}

// Default returns the built-in configuration.
func Default() Ordering {
	return Ordering{
		Alphabet:       orderkey.Lowercase,
		MaxKeyLength:   12,
		LegacyWidth:    orderkey.DefaultLegacyWidth,
		MinGap:         1,
		MediumGapSlots: 4,
		Retry: Retry{
			MaxAttempts: 3,
			BaseDelay:   Duration(200 * time.Millisecond),
		},
		ConflictStrategy: StrategyTimestamp,
		PendingMaxAge:    Duration(5 * time.Minute),
		CleanupInterval:  Duration(time.Minute),
	}
}

// NewAlphabet builds the key alphabet described by the configuration.
func (o Ordering) NewAlphabet() (*orderkey.Alphabet, error) {
	return orderkey.NewAlphabet(o.Alphabet, orderkey.WithLegacyWidth(o.LegacyWidth))
}

// Validate checks every field and returns the first violation.
func (o Ordering) Validate() error {
	fail := func(format string, args ...any) error {
		return kiterr.NewValidationError(kiterr.OpConfig, fmt.Errorf(format, args...))
	}
	if _, err := o.NewAlphabet(); err != nil {
		return kiterr.NewValidationError(kiterr.OpConfig, err)
	}
	if o.MaxKeyLength < 1 {
		return fail("max_key_length must be positive, got %d", o.MaxKeyLength)
	}
	if o.MediumGapSlots < 1 {
		return fail("medium_gap_slots must be positive, got %d", o.MediumGapSlots)
	}
	if o.Retry.MaxAttempts < 1 {
		return fail("retry.max_attempts must be at least 1, got %d", o.Retry.MaxAttempts)
	}
	if o.Retry.BaseDelay < 0 {
		return fail("retry.base_delay must not be negative, got %s", o.Retry.BaseDelay)
	}
	if !o.ConflictStrategy.Valid() {
		return fail("unknown conflict_strategy %q", o.ConflictStrategy)
	}
	if o.PendingMaxAge < 0 || o.CleanupInterval < 0 {
		return fail("pending_max_age and cleanup_interval must not be negative")
	}
	return nil
}

// Load reads a YAML or JSON file, chosen by extension, over the defaults.
func Load(path string) (Ordering, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Ordering{}, kiterr.NewValidationError(kiterr.OpConfig, fmt.Errorf("read config file %s: %w", path, err))
	}
	return Parse(data, detectFormat(path))
}

// Parse decodes data over the defaults and validates the result.
func Parse(data []byte, format string) (Ordering, error) {
	cfg := Default()
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Ordering{}, kiterr.NewValidationError(kiterr.OpConfig, fmt.Errorf("parse YAML config: %w", err))
		}
	case "json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Ordering{}, kiterr.NewValidationError(kiterr.OpConfig, fmt.Errorf("parse JSON config: %w", err))
		}
	default:
		return Ordering{}, kiterr.NewValidationError(kiterr.OpConfig, fmt.Errorf("unsupported config format: %s", format))
	}
	if err := cfg.Validate(); err != nil {
		return Ordering{}, err
	}
	return cfg, nil
}

func detectFormat(path string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "json":
		return "json"
	default:
		return "yaml"
	}
}
