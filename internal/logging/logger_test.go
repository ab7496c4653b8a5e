package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	for _, format := range []string{"json", FormatConsole} {
		logger, err := New("debug", format)
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zap.DebugLevel))
	}

	logger, err := New("warn", "json")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))

	_, err = New("loud", "json")
	assert.Error(t, err)
}

func TestForSite(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	ForSite(zap.New(core), "scraper", "walmart").Info("hello")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "scraper", entries[0].LoggerName)
	assert.Equal(t, "walmart", entries[0].ContextMap()["site"])

	assert.NotNil(t, ForSite(nil, "scraper", "walmart"))
}
