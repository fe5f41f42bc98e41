package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SinkEntry pairs a sink with its buffering policy for chain assembly.
// BufferInterval zero means the sink receives each activity directly in
// the chain step; positive means activities pass through a per-folder
// debounce buffer and reach the sink as coalesced batches.
type SinkEntry struct {
	Sink           Sink
	BufferInterval time.Duration
}

// Chain dispatches qualifying activities to a poller's sinks in their
// configured order. Direct (unbuffered) sinks are invoked inside the
// chain step with a minimum spacing between successive invocations;
// buffered sinks get their batches as independent jobs when their
// buckets flush. A sink's failure is recorded and the chain proceeds;
// a later sink is never starved by an earlier one.
type Chain struct {
	poller  string
	spacing time.Duration
	entries []*chainEntry
	tasks   chan<- TaskHandle
	logger  *slog.Logger

	// ctx governs deliveries, including flush jobs that outlive the
	// poller tick that admitted their activities. Set by Start; canceled
	// by the engine when the shutdown grace period expires.
	ctx context.Context

	jobs  sync.WaitGroup
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

type chainEntry struct {
	sink   Sink
	buffer *Buffer
}

// NewChain assembles a chain for the named poller. tasks may be nil when
// task monitoring is disabled; reported handles are then discarded.
func NewChain(poller string, spacing time.Duration, entries []SinkEntry, tasks chan<- TaskHandle, logger *slog.Logger) *Chain {
	c := &Chain{
		poller:  poller,
		spacing: spacing,
		tasks:   tasks,
		logger:  logger,
		ctx:     context.Background(),
		sleep:   timeSleep,
		now:     time.Now,
	}

	for _, e := range entries {
		ce := &chainEntry{sink: e.Sink}

		if e.BufferInterval > 0 {
			entry := ce
			ce.buffer = NewBuffer(e.Sink, e.BufferInterval, func(folder string, batch []Activity) {
				c.dispatchJob(entry, folder, batch)
			}, logger)
		}

		c.entries = append(c.entries, ce)
	}

	return c
}

// Start binds the delivery context. Must be called before the first
// Submit; the engine passes a context that stays live through the
// shutdown grace period so in-flight jobs can finish.
func (c *Chain) Start(ctx context.Context) {
	c.ctx = ctx
}

// Submit runs one chain step for a single qualifying activity: buffered
// sinks admit it, direct sinks are invoked in order with the configured
// spacing between invocations. The ctx governs only the spacing waits;
// deliveries use the chain's own context.
func (c *Chain) Submit(ctx context.Context, act Activity) {
	invoked := false

	for _, e := range c.entries {
		if e.buffer != nil {
			e.buffer.Admit(act)
			continue
		}

		if invoked {
			if err := c.sleep(ctx, c.spacing); err != nil {
				return
			}
		}

		invoked = true

		c.deliver(e, uuid.NewString(), []Activity{act})
	}
}

// dispatchJob delivers a flushed bucket to its sink as an independent,
// concurrently-running job.
func (c *Chain) dispatchJob(e *chainEntry, folder string, batch []Activity) {
	c.jobs.Add(1)

	go func() {
		defer c.jobs.Done()

		c.logger.Debug("dispatching buffered job",
			slog.String("poller", c.poller),
			slog.String("sink", e.sink.Name()),
			slog.String("folder", folder),
			slog.Int("members", len(batch)),
		)

		c.deliver(e, uuid.NewString(), batch)
	}()
}

// deliver invokes one sink once and classifies the outcome. Failures are
// contained here: logged with correlation context, never propagated.
func (c *Chain) deliver(e *chainEntry, job string, batch []Activity) {
	out, err := e.sink.Deliver(c.ctx, batch)

	attrs := []any{
		slog.String("poller", c.poller),
		slog.String("sink", e.sink.Name()),
		slog.String("job", job),
		slog.Int("activities", len(batch)),
	}

	if len(batch) > 0 {
		attrs = append(attrs,
			slog.String("activity", batch[0].ID),
			slog.String("action", string(batch[0].Action)),
		)
	}

	switch {
	case err != nil:
		c.logger.Error("sink delivery failed", append(attrs, slog.String("error", err.Error()))...)
	case out.Dropped:
		c.logger.Info("sink busy, job dropped", attrs...)
	case len(out.Tasks) == 0:
		c.logger.Debug("sink delivery ok", attrs...)
	}

	// A partially failed fan-out can still have submitted jobs on its
	// healthy backends, so handles are forwarded regardless of the error.
	for _, handle := range out.Tasks {
		// Fan-out sinks stamp the originating backend; otherwise the
		// delivering sink owns the job.
		if handle.Sink == "" {
			handle.Sink = e.sink.Name()
		}

		if handle.StartedAt.IsZero() {
			handle.StartedAt = c.now()
		}

		c.logger.Info("sink reported async task", append(attrs, slog.String("task", handle.ID))...)

		if c.tasks == nil {
			continue
		}

		select {
		case c.tasks <- handle:
		default:
			c.logger.Warn("task monitor queue full, handle discarded",
				slog.String("sink", handle.Sink),
				slog.String("task", handle.ID),
			)
		}
	}
}

// DrainBuffers flushes every open bucket immediately. Called once at
// shutdown after the pollers have stopped submitting.
func (c *Chain) DrainBuffers() {
	for _, e := range c.entries {
		if e.buffer != nil {
			e.buffer.Close()
		}
	}
}

// Wait blocks until all in-flight buffered jobs have finished.
func (c *Chain) Wait() {
	c.jobs.Wait()
}
