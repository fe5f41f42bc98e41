package pipeline

import (
	"log/slog"
	"path"
	"sync"
	"time"
)

// Buffer coalesces activities for one sink, keyed by the post-mapping
// parent folder of each activity. The first admission for a key opens a
// bucket and schedules its flush at openedAt + interval; every further
// admission within the window joins the bucket. A bucket is flushed
// exactly once: flushing removes it, and a later activity for the same
// key opens a fresh bucket with a fresh window.
//
// Admissions and flushes synchronize on one mutex, so a bucket is either
// being appended to or being read for flush, never both.
type Buffer struct {
	sink     Sink
	interval time.Duration
	submit   func(folderKey string, batch []Activity)
	logger   *slog.Logger

	mu      sync.Mutex
	buckets map[string]*bucket
	closed  bool

	// afterFunc is replaceable in tests to drive flushes deterministically.
	afterFunc func(d time.Duration, f func()) *time.Timer
	now       func() time.Time
}

type bucket struct {
	openedAt time.Time
	members  []Activity
	timer    *time.Timer
}

// NewBuffer creates a buffer for sink. submit is invoked once per flushed
// bucket, from the flush timer's goroutine.
func NewBuffer(sink Sink, interval time.Duration, submit func(string, []Activity), logger *slog.Logger) *Buffer {
	return &Buffer{
		sink:      sink,
		interval:  interval,
		submit:    submit,
		logger:    logger,
		buckets:   make(map[string]*bucket),
		afterFunc: time.AfterFunc,
		now:       time.Now,
	}
}

// Admit routes the activity into its folder bucket, opening one if needed.
func (b *Buffer) Admit(act Activity) {
	key := path.Dir(b.sink.MapPath(act.ResolvedPath))

	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()
		b.logger.Warn("buffer closed, dropping activity",
			slog.String("sink", b.sink.Name()),
			slog.String("activity", act.ID),
		)

		return
	}

	bk, ok := b.buckets[key]
	if !ok {
		bk = &bucket{openedAt: b.now()}
		bk.timer = b.afterFunc(b.interval, func() { b.flush(key) })
		b.buckets[key] = bk

		b.logger.Debug("buffer bucket opened",
			slog.String("sink", b.sink.Name()),
			slog.String("folder", key),
			slog.Duration("window", b.interval),
		)
	}

	bk.members = append(bk.members, act)
	b.mu.Unlock()
}

// flush removes the bucket for key and submits its members. Called from
// the bucket's timer goroutine; a no-op if the bucket was already drained
// by Close.
func (b *Buffer) flush(key string) {
	b.mu.Lock()
	bk := b.buckets[key]
	delete(b.buckets, key)
	b.mu.Unlock()

	if bk == nil {
		return
	}

	b.logger.Debug("buffer bucket flushed",
		slog.String("sink", b.sink.Name()),
		slog.String("folder", key),
		slog.Int("members", len(bk.members)),
	)

	b.submit(key, bk.members)
}

// Len returns the number of open buckets.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.buckets)
}

// Close stops all pending flush timers and submits every open bucket
// immediately. Used during shutdown to drain buffered activity before
// the grace period starts. Admissions after Close are dropped.
func (b *Buffer) Close() {
	b.mu.Lock()

	b.closed = true
	drained := b.buckets
	b.buckets = make(map[string]*bucket)

	for _, bk := range drained {
		bk.timer.Stop()
	}

	b.mu.Unlock()

	for key, bk := range drained {
		b.submit(key, bk.members)
	}
}
