package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitLogger(t *testing.T) {
	orig := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(orig) })

	logger, err := InitLogger(LogConfig{Level: "warn", Format: LogFormatJSON})
	require.NoError(t, err)
	assert.Same(t, logger, zap.L())
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger, err = InitLogger(LogConfig{Level: "debug", Format: LogFormatConsole})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestInitLogger_Invalid(t *testing.T) {
	_, err := InitLogger(LogConfig{Level: "loud", Format: LogFormatJSON})
	assert.Error(t, err)

	_, err = InitLogger(LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
