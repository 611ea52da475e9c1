package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestDefaultConfigProfiles(t *testing.T) {
	assert.Equal(t, Config{Level: zapcore.InfoLevel}, DefaultConfig(ProfileRuntime))
	assert.Equal(t, Config{Level: zapcore.DebugLevel, Development: true}, DefaultConfig(ProfileTest))
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvLogLevel, "warning")
	t.Setenv(EnvLogDev, "true")

	cfg := DefaultConfig(ProfileRuntime)
	ApplyEnv(&cfg)
	assert.Equal(t, zapcore.WarnLevel, cfg.Level)
	assert.True(t, cfg.Development)
}

func TestApplyEnvIgnoresGarbage(t *testing.T) {
	t.Setenv(EnvLogLevel, "loud")
	t.Setenv(EnvLogDev, "maybe")

	cfg := DefaultConfig(ProfileRuntime)
	ApplyEnv(&cfg)
	assert.Equal(t, DefaultConfig(ProfileRuntime), cfg)
}

func TestSetLevel(t *testing.T) {
	cfg := DefaultConfig(ProfileRuntime)
	require.NoError(t, SetLevel(&cfg, "off"))
	assert.True(t, cfg.Disabled)

	require.NoError(t, SetLevel(&cfg, "DEBUG"))
	assert.False(t, cfg.Disabled)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)

	assert.Error(t, SetLevel(&cfg, "chatty"))
}

func TestNew(t *testing.T) {
	logger, err := New(Config{Disabled: true})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.ErrorLevel))

	logger, err = New(Config{Level: zapcore.WarnLevel})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}
