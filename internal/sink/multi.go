package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/drivewatch/drivewatch/internal/config"
	"github.com/drivewatch/drivewatch/internal/pipeline"
)

// Multi fans one delivery out to a two-stage backend group: every rclone
// backend first, so the mounts see the new files, then the library
// scanners (plex, kavita). Backends are isolated from each other: one
// failing does not stop the rest, and the joined error is reported once
// at the end. Async job handles are collected from every mount and
// reported even when a sibling backend fails.
type Multi struct {
	base

	mounts   []pipeline.Sink
	scanners []pipeline.Sink
}

func NewMulti(cfg config.SinkConfig, logger *slog.Logger) (*Multi, error) {
	m := &Multi{base: newBase(cfg, logger)}

	for i, rc := range cfg.Rclones {
		backend, err := NewRclone(named(rc, cfg.Name, "rclone", i), logger)
		if err != nil {
			return nil, err
		}

		m.mounts = append(m.mounts, backend)
	}

	for i, px := range cfg.Plexes {
		backend, err := NewPlex(named(px, cfg.Name, "plex", i), logger)
		if err != nil {
			return nil, err
		}

		m.scanners = append(m.scanners, backend)
	}

	for i, kv := range cfg.Kavitas {
		backend, err := NewKavita(named(kv, cfg.Name, "kavita", i), logger)
		if err != nil {
			return nil, err
		}

		m.scanners = append(m.scanners, backend)
	}

	return m, nil
}

// named fills in a backend's name from its position under the multi sink
// when the config leaves it blank.
func named(cfg config.SinkConfig, parent, kind string, i int) config.SinkConfig {
	if cfg.Name == "" {
		cfg.Name = fmt.Sprintf("%s-%s-%d", parent, kind, i)
	}

	return cfg
}

// RegisterCheckers hands every task-reporting backend to the monitor
// under the backend's own name, which is what the fan-out stamps on the
// handles it forwards.
func (m *Multi) RegisterCheckers(register func(name string, checker pipeline.TaskChecker)) {
	for _, backend := range m.mounts {
		if checker, ok := backend.(pipeline.TaskChecker); ok {
			register(backend.Name(), checker)
		}
	}
}

func (m *Multi) Deliver(ctx context.Context, batch []pipeline.Activity) (pipeline.Outcome, error) {
	var (
		errs  []error
		tasks []pipeline.TaskHandle
	)

	deliver := func(backend pipeline.Sink) {
		out, err := backend.Deliver(ctx, m.remap(batch))
		if err != nil {
			m.logger.Warn("multi backend failed",
				slog.String("backend", backend.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)

			return
		}

		for _, task := range out.Tasks {
			if task.Sink == "" {
				task.Sink = backend.Name()
			}

			tasks = append(tasks, task)
		}
	}

	for _, backend := range m.mounts {
		deliver(backend)
	}

	for _, backend := range m.scanners {
		deliver(backend)
	}

	return pipeline.Outcome{Tasks: tasks}, errors.Join(errs...)
}

// remap applies the multi sink's own mapping before each backend applies
// its own, so shared rules live once on the multi block.
func (m *Multi) remap(batch []pipeline.Activity) []pipeline.Activity {
	out := make([]pipeline.Activity, len(batch))

	for i, act := range batch {
		act.ResolvedPath = m.mapper.Apply(act.ResolvedPath)
		out[i] = act
	}

	return out
}
