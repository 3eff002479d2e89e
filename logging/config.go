package logging

import (
	"log/slog"
	"os"
	"strings"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

type preset struct {
	format    string
	level     string
	addSource bool
}

// presets fill in what LOG_LEVEL and LOG_FORMAT leave unset. AddSource is always forced.
var presets = map[string]preset{
	EnvDevelopment: {format: "text", level: "debug", addSource: true},
	EnvTest:        {format: "text", level: "debug"},
	EnvProduction:  {format: "json", level: "info"},
}

// GetConfigFromEnv is ApplyEnv over DefaultConfig.
func GetConfigFromEnv() Config {
	return ApplyEnv(DefaultConfig)
}

// ApplyEnv overlays LOG_LEVEL, LOG_FORMAT, ENVIRONMENT and LOG_ADD_SOURCE on config, then the
// preset of the resulting environment.
func ApplyEnv(config Config) Config {
	if v := lowerEnv("LOG_LEVEL"); v != "" {
		config.Level = v
	}
	if v := lowerEnv("LOG_FORMAT"); v != "" {
		config.Format = v
	}
	if v := lowerEnv("ENVIRONMENT"); v != "" {
		config.Environment = v
	}
	if v := lowerEnv("LOG_ADD_SOURCE"); v != "" {
		config.AddSource = v == "true"
	}

	if p, ok := presets[config.Environment]; ok {
		if config.Format == "" {
			config.Format = p.format
		}
		if config.Level == "" {
			config.Level = p.level
		}
		config.AddSource = p.addSource
	}
	return config
}

func lowerEnv(key string) string {
	return strings.ToLower(strings.TrimSpace(os.Getenv(key)))
}

// DynamicLevelVar is a level that can be changed while the process runs.
type DynamicLevelVar struct {
	*slog.LevelVar
}

func NewDynamicLevelVar(initial slog.Level) *DynamicLevelVar {
	v := &slog.LevelVar{}
	v.Set(initial)
	return &DynamicLevelVar{LevelVar: v}
}

// SetFromString accepts debug, info, warn or error and reports whether level was understood.
func (d *DynamicLevelVar) SetFromString(level string) bool {
	l, ok := parseLevel(strings.ToLower(strings.TrimSpace(level)))
	if !ok || level == "" {
		return false
	}
	d.Set(l)
	return true
}

// NewLoggerWithDynamicLevel builds a logger whose level follows the returned variable.
func NewLoggerWithDynamicLevel(config Config) (*Logger, *DynamicLevelVar) {
	initial, _ := parseLevel(config.Level)
	levelVar := NewDynamicLevelVar(initial)
	return &Logger{Logger: slog.New(newHandler(config, levelVar))}, levelVar
}
