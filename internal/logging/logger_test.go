package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_DefaultConfig(t *testing.T) {
	t.Parallel()

	logger, err := New(DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, logger)

	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNew_DebugLevel(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Level: "debug", Format: FormatConsole})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNew_InvalidLevel(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Level: "loud", Format: FormatJSON})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestNew_InvalidFormat(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Level: "info", Format: "xml"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log format")
}

func TestOrNop(t *testing.T) {
	t.Parallel()

	assert.NotNil(t, OrNop(nil))

	logger, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.Same(t, logger, OrNop(logger))
}
