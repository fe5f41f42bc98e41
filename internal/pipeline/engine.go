package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultDrainGrace bounds how long shutdown waits for buffered jobs and
// running subprocesses after the pollers have stopped.
const DefaultDrainGrace = 30 * time.Second

// PollerUnit is one fully assembled poller: its scheduling loops plus the
// chain its activities flow into.
type PollerUnit struct {
	Poller  *Poller
	Chain   *Chain
	Targets []WatchTarget
}

// Engine runs the assembled pipeline: every poller's per-target loops,
// plus the shared task monitor when one is configured. Run blocks until
// ctx is canceled, then drains buffers and in-flight jobs within the
// drain grace period before returning.
type Engine struct {
	units   []PollerUnit
	monitor *Monitor
	grace   time.Duration
	logger  *slog.Logger
}

// NewEngine assembles an engine. monitor may be nil when no sink reports
// asynchronous tasks.
func NewEngine(units []PollerUnit, monitor *Monitor, grace time.Duration, logger *slog.Logger) *Engine {
	if grace <= 0 {
		grace = DefaultDrainGrace
	}

	return &Engine{
		units:   units,
		monitor: monitor,
		grace:   grace,
		logger:  logger,
	}
}

// Run starts every loop and blocks until ctx is canceled and the drain
// completes. The returned error is non-nil only if a loop fails in a way
// it cannot contain, which the loops are written not to do.
func (e *Engine) Run(ctx context.Context) error {
	// Deliveries get their own context so jobs flushed at shutdown can
	// still reach their sinks. It is canceled only when the grace expires.
	drainCtx, cancelDrain := context.WithCancel(context.Background())
	defer cancelDrain()

	for _, unit := range e.units {
		unit.Chain.Start(drainCtx)
	}

	group, runCtx := errgroup.WithContext(ctx)

	for _, unit := range e.units {
		for _, target := range unit.Targets {
			group.Go(func() error {
				return unit.Poller.Run(runCtx, target)
			})
		}
	}

	if e.monitor != nil {
		group.Go(func() error {
			return e.monitor.Run(runCtx)
		})
	}

	err := group.Wait()

	e.drain(cancelDrain)

	return err
}

// drain flushes all buffers, then waits up to the grace period for the
// resulting jobs to finish before cutting their context.
func (e *Engine) drain(cancelDrain context.CancelFunc) {
	e.logger.Info("shutting down, draining buffers", slog.Duration("grace", e.grace))

	for _, unit := range e.units {
		unit.Chain.DrainBuffers()
	}

	done := make(chan struct{})

	go func() {
		for _, unit := range e.units {
			unit.Chain.Wait()
		}

		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("drain complete")
	case <-time.After(e.grace):
		e.logger.Warn("drain grace expired, abandoning in-flight jobs")
		cancelDrain()
		<-done
	}
}
