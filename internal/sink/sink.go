// Package sink implements the downstream adapters activities are
// dispatched to: rclone VFS refreshes, Plex and Kavita library scans,
// Discord webhook notifications, local subprocess invocation, the
// multi fan-out combinator, and a dummy logger sink.
//
// Every adapter applies its own path mapping before talking to its
// backend, so one activity can fan out to backends that see the same
// file under different mount points.
package sink

import (
	"fmt"
	"log/slog"

	"github.com/drivewatch/drivewatch/internal/config"
	"github.com/drivewatch/drivewatch/internal/pipeline"
)

// Build constructs the adapter for one sink config. The config has
// already been validated; errors here are construction failures such as
// an unparseable URL.
func Build(cfg config.SinkConfig, logger *slog.Logger) (pipeline.Sink, error) {
	logger = logger.With(slog.String("sink", cfg.Name))

	switch cfg.Type {
	case "dummy":
		return NewDummy(cfg, logger), nil
	case "rclone":
		return NewRclone(cfg, logger)
	case "plex":
		return NewPlex(cfg, logger)
	case "kavita":
		return NewKavita(cfg, logger)
	case "discord":
		return NewDiscord(cfg, logger)
	case "command":
		return NewCommand(cfg, logger), nil
	case "multi":
		return NewMulti(cfg, logger)
	default:
		return nil, fmt.Errorf("sink: unknown type %q", cfg.Type)
	}
}

// base carries the identity and path mapping shared by all adapters.
type base struct {
	name   string
	mapper *Mapper
	logger *slog.Logger
}

func newBase(cfg config.SinkConfig, logger *slog.Logger) base {
	return base{
		name:   cfg.Name,
		mapper: NewMapper(cfg.Mappings),
		logger: logger,
	}
}

func (b *base) Name() string { return b.name }

func (b *base) MapPath(p string) string { return b.mapper.Apply(p) }

// mappedDirs returns the deduplicated mapped parent folders of a batch,
// in first-appearance order.
func (b *base) mappedDirs(batch []pipeline.Activity) []string {
	seen := make(map[string]bool, len(batch))
	dirs := make([]string, 0, len(batch))

	for _, act := range batch {
		dir := parentDir(b.MapPath(act.ResolvedPath))
		if seen[dir] {
			continue
		}

		seen[dir] = true
		dirs = append(dirs, dir)
	}

	return dirs
}
