package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/drivewatch/drivewatch/internal/config"
	"github.com/drivewatch/drivewatch/internal/pipeline"
)

// Command runs a local program for each delivered batch, through the
// shell, with the activity described in DRIVEWATCH_* environment
// variables. At most one process runs per sink instance:
//
//   - drop_during_process drops a delivery arriving while the previous
//     process is still running (backpressure instead of queueing),
//   - otherwise the delivery waits for the previous process to finish,
//   - wait_for_process makes the delivery itself synchronous: it returns
//     only after the process exits, reporting its failure.
//
// A process that outlives the timeout is killed.
type Command struct {
	base

	command string
	wait    bool
	drop    bool
	timeout time.Duration

	// busy is a one-slot semaphore for the running process.
	busy chan struct{}
}

func NewCommand(cfg config.SinkConfig, logger *slog.Logger) *Command {
	return &Command{
		base:    newBase(cfg, logger),
		command: cfg.Command,
		wait:    cfg.WaitForProcess,
		drop:    cfg.DropDuringProcess,
		timeout: config.Duration(cfg.Timeout, config.DefaultCommandTimeout),
		busy:    make(chan struct{}, 1),
	}
}

func (c *Command) Deliver(ctx context.Context, batch []pipeline.Activity) (pipeline.Outcome, error) {
	if len(batch) == 0 {
		return pipeline.Outcome{}, nil
	}

	select {
	case c.busy <- struct{}{}:
	default:
		if c.drop {
			return pipeline.Outcome{Dropped: true}, nil
		}

		// Wait for the running process to release the slot.
		select {
		case c.busy <- struct{}{}:
		case <-ctx.Done():
			return pipeline.Outcome{}, ctx.Err()
		}
	}

	if c.wait {
		defer func() { <-c.busy }()

		return pipeline.Outcome{}, c.run(ctx, batch)
	}

	go func() {
		defer func() { <-c.busy }()

		if err := c.run(context.Background(), batch); err != nil {
			c.logger.Error("command failed", slog.String("error", err.Error()))
		}
	}()

	return pipeline.Outcome{}, nil
}

func (c *Command) run(ctx context.Context, batch []pipeline.Activity) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", c.command)
	cmd.Env = append(os.Environ(), c.env(batch)...)

	var output bytes.Buffer

	cmd.Stdout = &output
	cmd.Stderr = &output

	start := time.Now()
	err := cmd.Run()

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("command killed after %s timeout", c.timeout)
	case err != nil:
		return fmt.Errorf("command: %w: %s", err, excerpt(output.Bytes()))
	}

	c.logger.Debug("command finished",
		slog.Duration("elapsed", time.Since(start)),
		slog.Int("activities", len(batch)),
	)

	return nil
}

// env renders the batch into the subprocess environment. Scalar values
// describe the first activity; DRIVEWATCH_PATHS carries every mapped
// path, newline separated.
func (c *Command) env(batch []pipeline.Activity) []string {
	paths := make([]string, 0, len(batch))
	for _, act := range batch {
		paths = append(paths, c.MapPath(act.ResolvedPath))
	}

	first := batch[0]

	return []string{
		"DRIVEWATCH_ACTION=" + string(first.Action),
		"DRIVEWATCH_DETAIL=" + first.Detail,
		"DRIVEWATCH_PATH=" + c.MapPath(first.ResolvedPath),
		"DRIVEWATCH_TITLE=" + first.Title,
		"DRIVEWATCH_IS_FOLDER=" + strconv.FormatBool(first.IsFolder),
		"DRIVEWATCH_LINK=" + first.Link,
		"DRIVEWATCH_POLLER=" + first.Poller,
		"DRIVEWATCH_COUNT=" + strconv.Itoa(len(batch)),
		"DRIVEWATCH_PATHS=" + strings.Join(paths, "\n"),
	}
}
