package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Environment types
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// GetConfigFromEnv creates a logger configuration based on environment variables
func GetConfigFromEnv() Config {
	return configFromLookup(os.LookupEnv)
}

func configFromLookup(lookup func(string) (string, bool)) Config {
	config := DefaultConfig
	levelSet, formatSet := false, false

	if level, ok := lookup("LOG_LEVEL"); ok && level != "" {
		config.Level = strings.ToLower(level)
		levelSet = true
	}

	if format, ok := lookup("LOG_FORMAT"); ok && format != "" {
		config.Format = strings.ToLower(format)
		formatSet = true
	}

	if env, ok := lookup("ENVIRONMENT"); ok && env != "" {
		config.Environment = strings.ToLower(env)
	}

	// Environment-specific defaults, explicit variables win
	switch config.Environment {
	case EnvProduction:
		if !formatSet {
			config.Format = "json"
		}
		if !levelSet {
			config.Level = "info"
		}
		config.AddSource = false

	case EnvTest:
		if !formatSet {
			config.Format = "text"
		}
		if !levelSet {
			config.Level = "debug"
		}
		config.AddSource = false

	case EnvDevelopment:
		if !formatSet {
			config.Format = "text"
		}
		if !levelSet {
			config.Level = "debug"
		}
		config.AddSource = true
	}

	if addSource, ok := lookup("LOG_ADD_SOURCE"); ok && addSource != "" {
		config.AddSource = strings.ToLower(addSource) == "true"
	}

	return config
}

// CustomLevel defines a custom log level between existing ones
type CustomLevel slog.Level

const (
	LevelTrace CustomLevel = CustomLevel(slog.LevelDebug - 4)
	LevelFatal CustomLevel = CustomLevel(slog.LevelError + 4)
)

// String returns the string representation of the custom level
func (l CustomLevel) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelFatal:
		return "FATAL"
	default:
		return slog.Level(l).String()
	}
}

// DynamicLevelVar allows changing log level at runtime
type DynamicLevelVar struct {
	*slog.LevelVar
}

// NewDynamicLevelVar creates a new dynamic level variable
func NewDynamicLevelVar(initialLevel slog.Level) *DynamicLevelVar {
	levelVar := &slog.LevelVar{}
	levelVar.Set(initialLevel)
	return &DynamicLevelVar{LevelVar: levelVar}
}

// SetFromString sets the level from a string representation
func (d *DynamicLevelVar) SetFromString(level string) bool {
	switch strings.ToLower(level) {
	case "trace":
		d.Set(slog.Level(LevelTrace))
	case "debug":
		d.Set(slog.LevelDebug)
	case "info":
		d.Set(slog.LevelInfo)
	case "warn", "warning":
		d.Set(slog.LevelWarn)
	case "error":
		d.Set(slog.LevelError)
	case "fatal":
		d.Set(slog.Level(LevelFatal))
	default:
		return false
	}
	return true
}

// NewLoggerWithDynamicLevel creates a logger whose level can change at runtime
func NewLoggerWithDynamicLevel(w io.Writer, config Config) (*Logger, *DynamicLevelVar) {
	levelVar := NewDynamicLevelVar(ParseLevel(config.Level))

	opts := &slog.HandlerOptions{
		Level:     levelVar.LevelVar,
		AddSource: config.AddSource,
	}

	return &Logger{Logger: slog.New(newHandler(w, config, opts))}, levelVar
}
