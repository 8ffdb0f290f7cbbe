package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moviebox/internal/config"
)

func TestNewWithOutput_JSONAndComponent(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := NewWithOutput(config.LoggingConfig{Level: "debug"}, &buf)
	defer closer.Close()

	componentLogger := Component(logger, "saved")
	componentLogger.Info().Str("id", "42").Msg("added")

	line := buf.String()
	assert.Contains(t, line, `"component":"saved"`)
	assert.Contains(t, line, `"id":"42"`)
	assert.Contains(t, line, `"message":"added"`)
}

func TestNewWithOutput_FileSink(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "moviebox.log")
	logger, closer := NewWithOutput(config.LoggingConfig{Level: "info", File: path, MaxSizeMB: 1}, &buf)

	logger.Warn().Msg("persist failed")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "persist failed"))
	assert.Contains(t, buf.String(), "persist failed")
}

func TestNew_CloserWithoutFile(t *testing.T) {
	_, closer := NewWithOutput(config.LoggingConfig{}, &bytes.Buffer{})
	assert.NoError(t, closer.Close())
}
