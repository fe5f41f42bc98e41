package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivewatch/drivewatch/internal/config"
)

// newRootCmd() binds flags via StringVar/BoolVar, which resets the global
// flag variables. Tests that touch the globals set them AFTER newRootCmd()
// returns, or use cmd.SetArgs() + cmd.Execute() and let Cobra parse.

func resetFlags(t *testing.T) {
	t.Helper()

	oldConfig := flagConfigPath
	oldVerbose := flagVerbose
	oldQuiet := flagQuiet

	t.Cleanup(func() {
		flagConfigPath = oldConfig
		flagVerbose = oldVerbose
		flagQuiet = oldQuiet
	})

	flagConfigPath = ""
	flagVerbose = false
	flagQuiet = false
}

func TestBuildLoggerDefault(t *testing.T) {
	resetFlags(t)

	logger, err := buildLogger(config.LoggingConfig{Level: "info", Format: "json"})
	require.NoError(t, err)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLoggerVerbose(t *testing.T) {
	resetFlags(t)
	flagVerbose = true

	logger, err := buildLogger(config.LoggingConfig{Level: "info", Format: "json"})
	require.NoError(t, err)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLoggerQuiet(t *testing.T) {
	resetFlags(t)
	flagQuiet = true

	logger, err := buildLogger(config.LoggingConfig{Level: "info", Format: "json"})
	require.NoError(t, err)

	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelError))
}

func TestCheckCommand(t *testing.T) {
	resetFlags(t)

	path := filepath.Join(t.TempDir(), "drivewatch.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[drive]
refresh_token = "rt"
client_id = "id"
client_secret = "secret"

[[poller]]
name = "media"
targets = ["folder123#/GDRIVE/media"]
buffer_interval = "45s"

[[poller.sink]]
type = "dummy"
`), 0o600))

	var out bytes.Buffer

	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"check", "--config", path})

	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "Configuration valid")
	assert.Contains(t, out.String(), `Poller "media"`)
	assert.Contains(t, out.String(), "folder123 -> /GDRIVE/media")
	assert.Contains(t, out.String(), "media-dummy-0 [dummy] (buffered 45s)")
}

func TestCheckCommandInvalidConfig(t *testing.T) {
	resetFlags(t)

	path := filepath.Join(t.TempDir(), "drivewatch.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[drive]
refresh_token = "rt"

[[poller]]
targets = []
`), 0o600))

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"check", "--config", path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "targets is empty")
}
