package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	kiterr "github.com/c0deZ3R0/go-order-kit/errors"
)

// Environment variables read by FromEnv.
const (
	EnvAlphabet         = "ORDERKIT_ALPHABET"
	EnvMaxKeyLength     = "ORDERKIT_MAX_KEY_LENGTH"
	EnvLegacyWidth      = "ORDERKIT_LEGACY_WIDTH"
	EnvMinGap           = "ORDERKIT_MIN_GAP"
	EnvMediumGapSlots   = "ORDERKIT_MEDIUM_GAP_SLOTS"
	EnvRetryMaxAttempts = "ORDERKIT_RETRY_MAX_ATTEMPTS"
	EnvRetryBaseDelay   = "ORDERKIT_RETRY_BASE_DELAY"
	EnvConflictStrategy = "ORDERKIT_CONFLICT_STRATEGY"
	EnvUserPriorities   = "ORDERKIT_USER_PRIORITIES"
	EnvPendingMaxAge    = "ORDERKIT_PENDING_MAX_AGE"
	EnvCleanupInterval  = "ORDERKIT_CLEANUP_INTERVAL"
)

// FromEnv applies ORDERKIT_* overrides to base and validates the result.
func FromEnv(base Ordering) (Ordering, error) {
	return fromLookup(base, os.LookupEnv)
}

func fromLookup(cfg Ordering, lookup func(string) (string, bool)) (Ordering, error) {
	get := func(name string) (string, bool) {
		v, ok := lookup(name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	bad := func(name, value string, err error) (Ordering, error) {
		return Ordering{}, kiterr.NewValidationError(kiterr.OpConfig, fmt.Errorf("%s=%q: %w", name, value, err))
	}

	if v, ok := get(EnvAlphabet); ok {
		cfg.Alphabet = v
	}
	ints := []struct {
		name string
		dst  *int
	}{
		{EnvMaxKeyLength, &cfg.MaxKeyLength},
		{EnvLegacyWidth, &cfg.LegacyWidth},
		{EnvRetryMaxAttempts, &cfg.Retry.MaxAttempts},
	}
	for _, f := range ints {
		if v, ok := get(f.name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return bad(f.name, v, err)
			}
			*f.dst = n
		}
	}
	uints := []struct {
		name string
		dst  *uint64
	}{
		{EnvMinGap, &cfg.MinGap},
		{EnvMediumGapSlots, &cfg.MediumGapSlots},
	}
	for _, f := range uints {
		if v, ok := get(f.name); ok {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return bad(f.name, v, err)
			}
			*f.dst = n
		}
	}
	durations := []struct {
		name string
		dst  *Duration
	}{
		{EnvRetryBaseDelay, &cfg.Retry.BaseDelay},
		{EnvPendingMaxAge, &cfg.PendingMaxAge},
		{EnvCleanupInterval, &cfg.CleanupInterval},
	}
	for _, f := range durations {
		if v, ok := get(f.name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return bad(f.name, v, err)
			}
			*f.dst = Duration(d)
		}
	}
	if v, ok := get(EnvConflictStrategy); ok {
		cfg.ConflictStrategy = Strategy(strings.ToLower(v))
	}
	if v, ok := get(EnvUserPriorities); ok {
		prio, err := parsePriorities(v)
		if err != nil {
			return bad(EnvUserPriorities, v, err)
		}
		cfg.UserPriorities = prio
	}

	if err := cfg.Validate(); err != nil {
		return Ordering{}, err
	}
	return cfg, nil
}

// parsePriorities reads "alice=2,bob=1".
func parsePriorities(s string) (map[string]int, error) {
	out := make(map[string]int)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		user, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(user) == "" {
			return nil, fmt.Errorf("expected user=priority, got %q", pair)
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, err
		}
		out[strings.TrimSpace(user)] = n
	}
	return out, nil
}
