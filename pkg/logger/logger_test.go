package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerAvailableBeforeInit(t *testing.T) {
	require.NotNil(t, Logger())
	require.NotPanics(t, func() { Info("noop") })
}

func TestInitAcceptsUnknownLevel(t *testing.T) {
	require.NoError(t, Init("nonsense-level"))
	require.NotNil(t, WithModule("recovery"))
}
