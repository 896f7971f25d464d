package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "pagelift.log")

	l, err := New(Config{Level: "info", File: path})
	require.NoError(t, err)

	lg := l.GetZerolog()
	lg.Info().Str("component", "test").Msg("hello")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"test"`)
	assert.Contains(t, string(data), "hello")
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pagelift.log")

	l, err := New(Config{Level: "shout", File: path})
	require.NoError(t, err)

	lg := l.GetZerolog()
	lg.Debug().Msg("too quiet")
	lg.Info().Msg("loud enough")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "too quiet"))
	assert.Contains(t, string(data), "loud enough")
}

func TestNew_LevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pagelift.log")

	l, err := New(Config{Level: "error", File: path})
	require.NoError(t, err)

	lg := l.GetZerolog()
	lg.Warn().Msg("warned")
	lg.Error().Msg("failed")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "warned"))
	assert.Contains(t, string(data), "failed")
}
