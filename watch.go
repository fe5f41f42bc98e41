package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/drivewatch/drivewatch/internal/config"
	"github.com/drivewatch/drivewatch/internal/drive"
	"github.com/drivewatch/drivewatch/internal/pipeline"
	"github.com/drivewatch/drivewatch/internal/sink"
	"github.com/drivewatch/drivewatch/internal/state"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the watcher daemon",
		Long:  "Polls the configured Drive folders for activity and dispatches qualifying changes to the configured sinks until interrupted.",
		RunE:  runWatch,
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return err
	}

	logger.Info("drivewatch starting",
		slog.String("version", version),
		slog.String("config", cfgPath),
		slog.Int("pollers", len(cfg.Pollers)),
	)

	ctx := shutdownContext(cmd.Context(), logger)

	client, err := drive.NewClient(ctx, cfg.Drive, logger)
	if err != nil {
		return err
	}

	var cursors pipeline.CursorStore

	if cfg.State.Path != "" {
		store, err := state.Open(ctx, cfg.State.Path, logger)
		if err != nil {
			return err
		}

		defer store.Close()

		cursors = store
	} else {
		logger.Warn("no state path configured, poll cursors will not survive restarts")
	}

	monitor := buildMonitor(cfg, logger)

	var tasks chan<- pipeline.TaskHandle
	if monitor != nil {
		tasks = monitor.Queue()
	}

	units := make([]pipeline.PollerUnit, 0, len(cfg.Pollers))

	for _, pc := range cfg.Pollers {
		unit, err := buildPollerUnit(pc, client, cursors, monitor, tasks, logger)
		if err != nil {
			return err
		}

		units = append(units, unit)
	}

	go watchConfigFile(ctx, cfgPath, logger)

	engine := pipeline.NewEngine(units, monitor, pipeline.DefaultDrainGrace, logger)

	err = engine.Run(ctx)

	logger.Info("drivewatch stopped")

	return err
}

// buildMonitor creates the shared task monitor when any poller enables
// task checking. The shortest configured interval wins.
func buildMonitor(cfg *config.Config, logger *slog.Logger) *pipeline.Monitor {
	var interval time.Duration

	for _, pc := range cfg.Pollers {
		d := config.Duration(pc.TaskCheckInterval, 0)
		if d > 0 && (interval == 0 || d < interval) {
			interval = d
		}
	}

	if interval == 0 {
		return nil
	}

	return pipeline.NewMonitor(interval, logger)
}

// buildPollerUnit assembles one poller: filter, sinks, chain, and the
// scheduling loop options.
func buildPollerUnit(pc config.PollerConfig, feed pipeline.ChangeFeed, cursors pipeline.CursorStore, monitor *pipeline.Monitor, tasks chan<- pipeline.TaskHandle, logger *slog.Logger) (pipeline.PollerUnit, error) {
	ignoreFolder := pc.IgnoreFolder != nil && *pc.IgnoreFolder

	filter, err := pipeline.NewFilter(pc.Actions, ignoreFolder, pc.Patterns, pc.IgnorePatterns)
	if err != nil {
		return pipeline.PollerUnit{}, fmt.Errorf("poller %s: %w", pc.Name, err)
	}

	entries := make([]pipeline.SinkEntry, 0, len(pc.Sinks))

	for _, sc := range pc.Sinks {
		s, err := sink.Build(sc, logger)
		if err != nil {
			return pipeline.PollerUnit{}, fmt.Errorf("poller %s: %w", pc.Name, err)
		}

		if monitor != nil {
			if checker, ok := s.(pipeline.TaskChecker); ok {
				monitor.Register(s.Name(), checker)
			}

			if multi, ok := s.(*sink.Multi); ok {
				multi.RegisterCheckers(monitor.Register)
			}
		}

		// A sink without its own buffer_interval inherits the poller's.
		iv := sc.BufferInterval
		if iv == "" {
			iv = pc.BufferInterval
		}

		entries = append(entries, pipeline.SinkEntry{
			Sink:           s,
			BufferInterval: config.Duration(iv, 0),
		})
	}

	chain := pipeline.NewChain(pc.Name, config.Duration(pc.DispatchInterval, config.DefaultDispatchInterval), entries, tasks, logger)

	targets := make([]pipeline.WatchTarget, 0, len(pc.Targets))
	for _, t := range pc.Targets {
		targets = append(targets, pipeline.ParseTarget(t))
	}

	poller := pipeline.NewPoller(pipeline.PollerOptions{
		Name:     pc.Name,
		Interval: config.Duration(pc.PollingInterval, config.DefaultPollingInterval),
		Delay:    config.Duration(pc.PollingDelay, config.DefaultPollingDelay),
		PageSize: pc.PageSize,
	}, feed, filter, chain, cursors, logger)

	return pipeline.PollerUnit{Poller: poller, Chain: chain, Targets: targets}, nil
}

// watchConfigFile warns when the loaded config file changes on disk.
// Changes are not applied live; the warning tells the operator a restart
// is needed. The parent directory is watched because editors typically
// replace the file instead of writing it in place.
func watchConfigFile(ctx context.Context, path string, logger *slog.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("config watcher unavailable", slog.String("error", err.Error()))

		return
	}

	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		logger.Warn("config watcher unavailable", slog.String("error", err.Error()))

		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(ev.Name) == filepath.Clean(path) && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				logger.Warn("configuration file changed on disk, restart to apply",
					slog.String("path", path),
				)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}

			logger.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}
