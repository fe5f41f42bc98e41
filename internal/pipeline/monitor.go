package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// taskQueueSize bounds the handle channel between chains and the monitor.
// A full queue drops new handles rather than blocking dispatch.
const taskQueueSize = 256

// maxTaskAge is how long the monitor keeps polling a job whose backend
// never reports a terminal status before giving up on it.
const maxTaskAge = 24 * time.Hour

// Monitor polls asynchronous backend jobs reported by sinks until they
// reach a terminal status. Sinks that support job status register a
// TaskChecker under their name; handles from unregistered sinks are
// logged once and forgotten.
type Monitor struct {
	interval time.Duration
	queue    chan TaskHandle
	logger   *slog.Logger

	mu       sync.Mutex
	checkers map[string]TaskChecker
	active   map[string]TaskHandle

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewMonitor creates a monitor polling at the given interval.
func NewMonitor(interval time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		interval: interval,
		queue:    make(chan TaskHandle, taskQueueSize),
		logger:   logger,
		checkers: make(map[string]TaskChecker),
		active:   make(map[string]TaskHandle),
		sleep:    timeSleep,
		now:      time.Now,
	}
}

// Register associates a sink name with its task checker. Must be called
// before Run; handles for the sink arriving earlier are discarded.
func (m *Monitor) Register(sink string, checker TaskChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkers[sink] = checker
}

// Queue is the channel chains report task handles on.
func (m *Monitor) Queue() chan<- TaskHandle {
	return m.queue
}

// Active returns the number of jobs currently being tracked.
func (m *Monitor) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.active)
}

// Run accepts handles and polls tracked jobs until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		if err := m.sleep(ctx, m.interval); err != nil {
			return nil
		}

		m.drainQueue()
		m.checkAll(ctx)
	}
}

// drainQueue moves every waiting handle into the active set.
func (m *Monitor) drainQueue() {
	for {
		select {
		case handle := <-m.queue:
			m.admit(handle)
		default:
			return
		}
	}
}

func (m *Monitor) admit(handle TaskHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.checkers[handle.Sink]; !ok {
		m.logger.Warn("no task checker for sink, handle discarded",
			slog.String("sink", handle.Sink),
			slog.String("task", handle.ID),
		)

		return
	}

	key := handle.Sink + "/" + handle.ID
	if _, ok := m.active[key]; ok {
		return
	}

	m.active[key] = handle

	m.logger.Debug("tracking task",
		slog.String("sink", handle.Sink),
		slog.String("task", handle.ID),
	)
}

// checkAll polls every tracked job once, dropping the ones that finished.
func (m *Monitor) checkAll(ctx context.Context) {
	m.mu.Lock()
	snapshot := make(map[string]TaskHandle, len(m.active))
	for k, h := range m.active {
		snapshot[k] = h
	}
	m.mu.Unlock()

	for key, handle := range snapshot {
		if ctx.Err() != nil {
			return
		}

		m.mu.Lock()
		checker := m.checkers[handle.Sink]
		m.mu.Unlock()

		status, err := checker.CheckTask(ctx, handle)

		switch {
		case err != nil:
			// Transient: the job stays tracked, retried next round.
			m.logger.Warn("task status check failed",
				slog.String("sink", handle.Sink),
				slog.String("task", handle.ID),
				slog.String("error", err.Error()),
			)
		case status.Terminal():
			m.forget(key)

			level := slog.LevelInfo
			if status == TaskFailed {
				level = slog.LevelWarn
			}

			m.logger.Log(ctx, level, "task finished",
				slog.String("sink", handle.Sink),
				slog.String("task", handle.ID),
				slog.String("status", string(status)),
				slog.Duration("elapsed", m.now().Sub(handle.StartedAt)),
			)
		default:
			if m.now().Sub(handle.StartedAt) > maxTaskAge {
				m.forget(key)
				m.logger.Warn("task never finished, giving up",
					slog.String("sink", handle.Sink),
					slog.String("task", handle.ID),
					slog.String("status", string(status)),
				)

				break
			}

			m.logger.Debug("task still running",
				slog.String("sink", handle.Sink),
				slog.String("task", handle.ID),
				slog.String("status", string(status)),
			)
		}
	}
}

func (m *Monitor) forget(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.active, key)
}
