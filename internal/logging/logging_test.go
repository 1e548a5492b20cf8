package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	require := require.New(t)

	log, err := New("debug", "console")
	require.NoError(err)
	require.True(log.Core().Enabled(zapcore.DebugLevel))

	log, err = New("warn", "json")
	require.NoError(err)
	require.False(log.Core().Enabled(zapcore.InfoLevel))
	require.NotNil(Gorm(log))

	_, err = New("loud", "json")
	require.Error(err)

	_, err = New("info", "xml")
	require.Error(err)
}
