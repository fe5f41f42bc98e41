package sink

import (
	"context"
	"log/slog"

	"github.com/drivewatch/drivewatch/internal/config"
	"github.com/drivewatch/drivewatch/internal/pipeline"
)

// Dummy logs every delivered activity and does nothing else. Useful for
// dry runs and for watching what a filter lets through.
type Dummy struct {
	base
}

func NewDummy(cfg config.SinkConfig, logger *slog.Logger) *Dummy {
	return &Dummy{base: newBase(cfg, logger)}
}

func (d *Dummy) Deliver(_ context.Context, batch []pipeline.Activity) (pipeline.Outcome, error) {
	for _, act := range batch {
		d.logger.Info("activity",
			slog.String("action", string(act.Action)),
			slog.String("detail", act.Detail),
			slog.String("path", d.MapPath(act.ResolvedPath)),
			slog.Bool("folder", act.IsFolder),
			slog.String("link", act.Link),
		)
	}

	return pipeline.Outcome{}, nil
}
