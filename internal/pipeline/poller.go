package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// maxPollPages caps pagination within one tick so a runaway feed cannot
// wedge a poller.
const maxPollPages = 1000

// folderLinkBase is the Drive web UI folder URL prefix used for activity
// links in notification sinks.
const folderLinkBase = "https://drive.google.com/drive/folders/"

// PollerOptions are the scheduling parameters for one poller's loops.
type PollerOptions struct {
	Name     string
	Interval time.Duration
	Delay    time.Duration
	PageSize int
}

// Poller runs one scheduling loop per watch target: each tick it fetches
// the activity window ending at now − delay, resolves paths, filters, and
// hands qualifying activities to the dispatch chain. A failed fetch skips
// the tick without advancing the cursor, so the same window is retried.
type Poller struct {
	opts    PollerOptions
	feed    ChangeFeed
	filter  *Filter
	chain   *Chain
	cursors CursorStore
	logger  *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	stats pollerCounters
}

type pollerCounters struct {
	emitted     atomic.Int64
	filtered    atomic.Int64
	ticks       atomic.Int64
	failedTicks atomic.Int64
}

// PollerStats is a snapshot of a poller's counters.
type PollerStats struct {
	Emitted     int64
	Filtered    int64
	Ticks       int64
	FailedTicks int64
}

// NewPoller wires a poller. cursors may be nil: the read cursor then
// lives only in memory, starting at startup time minus the delay.
func NewPoller(opts PollerOptions, feed ChangeFeed, filter *Filter, chain *Chain, cursors CursorStore, logger *slog.Logger) *Poller {
	return &Poller{
		opts:    opts,
		feed:    feed,
		filter:  filter,
		chain:   chain,
		cursors: cursors,
		logger:  logger,
		sleep:   timeSleep,
		now:     time.Now,
	}
}

// Stats returns a snapshot of the poller's counters.
func (p *Poller) Stats() PollerStats {
	return PollerStats{
		Emitted:     p.stats.emitted.Load(),
		Filtered:    p.stats.filtered.Load(),
		Ticks:       p.stats.ticks.Load(),
		FailedTicks: p.stats.failedTicks.Load(),
	}
}

// Run polls the target until ctx is canceled, returning nil on clean
// shutdown. Each target gets its own Run goroutine; targets never block
// each other.
func (p *Poller) Run(ctx context.Context, target WatchTarget) error {
	cursor := p.initialCursor(ctx, target)

	p.logger.Info("poller started",
		slog.String("poller", p.opts.Name),
		slog.String("target", target.FolderID),
		slog.String("root", target.RootPath),
		slog.Duration("interval", p.opts.Interval),
		slog.Time("cursor", cursor),
	)

	for {
		next, err := p.tick(ctx, target, cursor)

		p.stats.ticks.Add(1)

		switch {
		case err != nil:
			p.stats.failedTicks.Add(1)
			// The cursor stays put: the same window is retried next tick.
			p.logger.Error("poll tick failed",
				slog.String("poller", p.opts.Name),
				slog.String("target", target.FolderID),
				slog.String("error", err.Error()),
			)
		case next.After(cursor):
			cursor = next
			p.persistCursor(ctx, target, cursor)
		}

		if err := p.sleep(ctx, p.opts.Interval); err != nil {
			p.logger.Info("poller stopped",
				slog.String("poller", p.opts.Name),
				slog.String("target", target.FolderID),
			)

			return nil
		}
	}
}

// initialCursor restores the target's persisted cursor, falling back to
// now − delay so a fresh target does not replay history.
func (p *Poller) initialCursor(ctx context.Context, target WatchTarget) time.Time {
	fallback := p.now().Add(-p.opts.Delay)

	if p.cursors == nil {
		return fallback
	}

	saved, ok, err := p.cursors.Cursor(ctx, p.opts.Name, target.FolderID)
	if err != nil {
		p.logger.Warn("cursor restore failed, starting fresh",
			slog.String("poller", p.opts.Name),
			slog.String("target", target.FolderID),
			slog.String("error", err.Error()),
		)

		return fallback
	}

	if !ok {
		return fallback
	}

	return saved
}

func (p *Poller) persistCursor(ctx context.Context, target WatchTarget, cursor time.Time) {
	if p.cursors == nil {
		return
	}

	if err := p.cursors.SetCursor(ctx, p.opts.Name, target.FolderID, cursor); err != nil {
		p.logger.Warn("cursor persist failed",
			slog.String("poller", p.opts.Name),
			slog.String("target", target.FolderID),
			slog.String("error", err.Error()),
		)
	}
}

// tick reads one window (since, now − delay], paginating to completion,
// and processes every record. It returns the new cursor position; on any
// fetch error the original cursor is returned untouched.
func (p *Poller) tick(ctx context.Context, target WatchTarget, since time.Time) (time.Time, error) {
	until := p.now().Add(-p.opts.Delay)
	if !until.After(since) {
		return since, nil
	}

	var records []Record

	pageToken := ""

	for page := 0; ; page++ {
		if page >= maxPollPages {
			return since, fmt.Errorf("pipeline: target %s: exceeded %d pages in one window", target.FolderID, maxPollPages)
		}

		recs, next, err := p.feed.FetchActivities(ctx, target, since, until, pageToken, p.opts.PageSize)
		if err != nil {
			return since, fmt.Errorf("pipeline: fetching activities for %s: %w", target.FolderID, err)
		}

		records = append(records, recs...)

		if next == "" {
			break
		}

		pageToken = next
	}

	if len(records) == 0 {
		return until, nil
	}

	// Oldest first, so per-sink append order follows activity order.
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})

	p.logger.Debug("window fetched",
		slog.String("poller", p.opts.Name),
		slog.String("target", target.FolderID),
		slog.Int("records", len(records)),
		slog.Time("since", since),
		slog.Time("until", until),
	)

	for i := range records {
		p.process(ctx, target, &records[i])
	}

	return until, nil
}

// process turns one record into zero or more activities and submits the
// ones that pass the filter. Per-record failures degrade, never abort
// the tick.
func (p *Poller) process(ctx context.Context, target WatchTarget, rec *Record) {
	// A permanently deleted item cannot be resolved or acted upon.
	if rec.Action == ActionDelete && rec.Detail != "TRASH" {
		p.logger.Debug("skipping permanently deleted item",
			slog.String("poller", p.opts.Name),
			slog.String("item", rec.TargetID),
		)

		return
	}

	act := p.buildActivity(ctx, target, rec)
	p.submit(ctx, act)

	// A move from an accessible parent also means the item vanished from
	// its old folder: emit a companion delete for the old path.
	if removed := p.removedPath(ctx, target, rec, act.ResolvedPath); removed != "" {
		companion := act
		companion.ID = uuid.NewString()
		companion.Action = ActionDelete
		companion.Detail = "TRASH"
		companion.ResolvedPath = removed
		p.submit(ctx, companion)
	}
}

func (p *Poller) buildActivity(ctx context.Context, target WatchTarget, rec *Record) Activity {
	act := Activity{
		ID:        uuid.NewString(),
		Timestamp: rec.Timestamp,
		Action:    rec.Action,
		Detail:    rec.Detail,
		IsFolder:  rec.IsFolder,
		RemoteID:  rec.TargetID,
		Title:     rec.TargetTitle,
		Poller:    p.opts.Name,
	}

	res, err := p.feed.ResolvePath(ctx, rec.TargetID, target)
	if err != nil {
		// Degrade to the unmapped remote id rather than dropping the event.
		p.logger.Warn("path resolution failed, using remote id",
			slog.String("poller", p.opts.Name),
			slog.String("item", rec.TargetID),
			slog.String("error", err.Error()),
		)

		act.ResolvedPath = "/" + rec.TargetID

		return act
	}

	act.ResolvedPath = res.Path
	act.ParentID = res.ParentID
	act.IsFolder = act.IsFolder || res.IsFolder

	if act.IsFolder {
		act.Link = folderLinkBase + rec.TargetID
	} else if res.ParentID != "" {
		act.Link = folderLinkBase + res.ParentID
	}

	return act
}

// removedPath resolves the source path of a move or reconstructs it for
// a rename. Empty when the record carries no source information or the
// old parent cannot be resolved.
func (p *Poller) removedPath(ctx context.Context, target WatchTarget, rec *Record, resolvedPath string) string {
	switch {
	case rec.Action == ActionMove && rec.RemovedParentID != "":
		res, err := p.feed.ResolvePath(ctx, rec.RemovedParentID, target)
		if err != nil {
			p.logger.Debug("move source unresolvable",
				slog.String("poller", p.opts.Name),
				slog.String("parent", rec.RemovedParentID),
				slog.String("error", err.Error()),
			)

			return ""
		}

		return path.Join(res.Path, rec.TargetTitle)
	case rec.Action == ActionRename && rec.OldTitle != "":
		return path.Join(path.Dir(resolvedPath), rec.OldTitle)
	default:
		return ""
	}
}

func (p *Poller) submit(ctx context.Context, act Activity) {
	ok, reason := p.filter.Allow(&act)
	if !ok {
		p.stats.filtered.Add(1)
		p.logger.Debug("activity filtered",
			slog.String("poller", p.opts.Name),
			slog.String("path", act.ResolvedPath),
			slog.String("action", string(act.Action)),
			slog.String("reason", reason),
		)

		return
	}

	p.stats.emitted.Add(1)
	p.logger.Info("activity qualified",
		slog.String("poller", p.opts.Name),
		slog.String("activity", act.ID),
		slog.String("action", string(act.Action)),
		slog.String("path", act.ResolvedPath),
	)

	p.chain.Submit(ctx, act)
}
