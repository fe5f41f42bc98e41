package sink

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivewatch/drivewatch/internal/config"
	"github.com/drivewatch/drivewatch/internal/pipeline"
)

func TestCommandRunsWithActivityEnvironment(t *testing.T) {
	t.Parallel()

	outFile := filepath.Join(t.TempDir(), "out")

	c := NewCommand(config.SinkConfig{
		Type:           "command",
		Name:           "cmd",
		Command:        `printf '%s|%s|%s' "$DRIVEWATCH_ACTION" "$DRIVEWATCH_PATH" "$DRIVEWATCH_COUNT" > ` + outFile,
		WaitForProcess: true,
		Mappings:       [][]string{{"/GDRIVE", "/mnt/gd"}},
	}, testLogger())

	out, err := c.Deliver(context.Background(), []pipeline.Activity{
		{Action: pipeline.ActionCreate, ResolvedPath: "/GDRIVE/shows/e1.mkv"},
		{Action: pipeline.ActionCreate, ResolvedPath: "/GDRIVE/shows/e2.mkv"},
	})
	require.NoError(t, err)
	assert.False(t, out.Dropped)

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Equal(t, "create|/mnt/gd/shows/e1.mkv|2", string(data))
}

func TestCommandReportsFailure(t *testing.T) {
	t.Parallel()

	c := NewCommand(config.SinkConfig{
		Type:           "command",
		Name:           "cmd",
		Command:        "echo boom >&2; exit 3",
		WaitForProcess: true,
	}, testLogger())

	_, err := c.Deliver(context.Background(), []pipeline.Activity{
		{Action: pipeline.ActionCreate, ResolvedPath: "/x"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestCommandDropsWhileBusy(t *testing.T) {
	t.Parallel()

	c := NewCommand(config.SinkConfig{
		Type:              "command",
		Name:              "cmd",
		Command:           "sleep 5",
		DropDuringProcess: true,
	}, testLogger())

	first, err := c.Deliver(context.Background(), []pipeline.Activity{
		{Action: pipeline.ActionCreate, ResolvedPath: "/x"},
	})
	require.NoError(t, err)
	assert.False(t, first.Dropped)

	// The first invocation is still sleeping.
	second, err := c.Deliver(context.Background(), []pipeline.Activity{
		{Action: pipeline.ActionCreate, ResolvedPath: "/y"},
	})
	require.NoError(t, err)
	assert.True(t, second.Dropped)
}

func TestCommandTimeoutKillsProcess(t *testing.T) {
	t.Parallel()

	c := NewCommand(config.SinkConfig{
		Type:           "command",
		Name:           "cmd",
		Command:        "sleep 10",
		WaitForProcess: true,
		Timeout:        "100ms",
	}, testLogger())

	start := time.Now()

	_, err := c.Deliver(context.Background(), []pipeline.Activity{
		{Action: pipeline.ActionCreate, ResolvedPath: "/x"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
	assert.Less(t, time.Since(start), 5*time.Second)

	// The kill released the slot: the instance is idle again and the next
	// job runs normally.
	c.command = "true"

	out, err := c.Deliver(context.Background(), []pipeline.Activity{
		{Action: pipeline.ActionCreate, ResolvedPath: "/y"},
	})
	require.NoError(t, err)
	assert.False(t, out.Dropped)
}

func TestCommandIgnoresEmptyBatch(t *testing.T) {
	t.Parallel()

	outFile := filepath.Join(t.TempDir(), "out")

	c := NewCommand(config.SinkConfig{
		Type:           "command",
		Name:           "cmd",
		Command:        "touch " + outFile,
		WaitForProcess: true,
	}, testLogger())

	out, err := c.Deliver(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, out.Dropped)

	_, statErr := os.Stat(outFile)
	assert.True(t, os.IsNotExist(statErr), "command should not run for an empty batch")
}

func TestCommandSerializesWhenNotDropping(t *testing.T) {
	t.Parallel()

	outFile := filepath.Join(t.TempDir(), "out")

	c := NewCommand(config.SinkConfig{
		Type:           "command",
		Name:           "cmd",
		Command:        `echo "$DRIVEWATCH_PATH" >> ` + outFile,
		WaitForProcess: true,
	}, testLogger())

	for _, p := range []string{"/a", "/b", "/c"} {
		_, err := c.Deliver(context.Background(), []pipeline.Activity{
			{Action: pipeline.ActionCreate, ResolvedPath: p},
		})
		require.NoError(t, err)
	}

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Equal(t, "/a\n/b\n/c\n", string(data))
}
