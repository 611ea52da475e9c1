// Package logging builds the process logger.
//
// Components never reach for a global logger; they take a *zap.Logger in
// their options and default to zap.NewNop().
package logging

import (
	"os"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EnvLogLevel = "WSRPC_LOG_LEVEL"
	EnvLogDev   = "WSRPC_LOG_DEV"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

type Config struct {
	Level       zapcore.Level
	Disabled    bool
	Development bool // console encoding, caller and stack traces on warn
}

func DefaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: zapcore.DebugLevel, Development: true}
	default:
		return Config{Level: zapcore.InfoLevel}
	}
}

// ApplyEnv overlays WSRPC_LOG_* variables onto cfg. Unparseable values are
// ignored.
func ApplyEnv(cfg *Config) {
	applyLevel(cfg, os.Getenv(EnvLogLevel))
	if v, ok := parseBool(os.Getenv(EnvLogDev)); ok {
		cfg.Development = v
	}
}

// SetLevel applies a level name from a config file.
func SetLevel(cfg *Config, raw string) error {
	if !applyLevel(cfg, raw) {
		return errors.NotValidf("log level %q", raw)
	}
	return nil
}

func applyLevel(cfg *Config, raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return false
	case "disabled", "disable", "off", "none":
		cfg.Disabled = true
		return true
	}
	lvl, ok := ParseLevel(raw)
	if ok {
		cfg.Level = lvl
		cfg.Disabled = false
	}
	return ok
}

func ParseLevel(raw string) (zapcore.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug", "trace":
		return zapcore.DebugLevel, true
	case "info":
		return zapcore.InfoLevel, true
	case "warn", "warning":
		return zapcore.WarnLevel, true
	case "error":
		return zapcore.ErrorLevel, true
	default:
		return zapcore.InfoLevel, false
	}
}

// New returns a logger for cfg.
func New(cfg Config) (*zap.Logger, error) {
	if cfg.Disabled {
		return zap.NewNop(), nil
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(cfg.Level)
	logger, err := zc.Build()
	if err != nil {
		return nil, errors.Annotate(err, "building logger")
	}
	return logger, nil
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
