// Package pipeline implements the drivewatch event pipeline: per-target
// polling loops over the Drive activity feed, action/pattern filtering,
// per-sink debounce buffering keyed by parent folder, ordered multi-sink
// dispatch with rate spacing, and background task monitoring.
//
// The pipeline consumes two collaborator capabilities through interfaces
// defined here: a ChangeFeed producing raw change records and resolving
// item paths, and Sink adapters delivering activity batches downstream.
package pipeline

import (
	"context"
	"strings"
	"time"
)

// Action is a Drive Activity primary action kind.
type Action string

// The full action set reported by the Drive Activity API.
const (
	ActionCreate             Action = "create"
	ActionEdit               Action = "edit"
	ActionMove               Action = "move"
	ActionRename             Action = "rename"
	ActionDelete             Action = "delete"
	ActionRestore            Action = "restore"
	ActionPermissionChange   Action = "permissionChange"
	ActionComment            Action = "comment"
	ActionDLPChange          Action = "dlpChange"
	ActionReference          Action = "reference"
	ActionSettingsChange     Action = "settingsChange"
	ActionAppliedLabelChange Action = "appliedLabelChange"
	ActionUnknown            Action = "unknown"
)

// Activity is one qualifying change event derived from a raw feed record.
// It is immutable after filtering: sinks receive copies and apply their
// own path mapping without touching ResolvedPath.
type Activity struct {
	ID           string
	Timestamp    time.Time
	Action       Action
	Detail       string
	IsFolder     bool
	RemoteID     string
	Title        string
	ResolvedPath string
	ParentID     string
	Link         string
	Poller       string
}

// Record is a raw change record from the feed, before path resolution
// and filtering.
type Record struct {
	Timestamp   time.Time
	Action      Action
	Detail      string
	TargetTitle string
	TargetID    string
	IsFolder    bool

	// OldTitle is the previous name for rename records.
	OldTitle string

	// RemovedParentID is the source parent for move records.
	RemovedParentID string
}

// WatchTarget is one watched remote folder and the local logical root its
// paths are mapped onto.
type WatchTarget struct {
	FolderID string
	RootPath string
}

// ParseTarget splits a "folderID#/mapped/root" target string. Without a
// fragment the mapped root defaults to "/<folderID>/ROOT", so resolved
// paths stay unambiguous across targets.
func ParseTarget(s string) WatchTarget {
	id, root, found := strings.Cut(s, "#")
	if !found || root == "" {
		root = "/" + id + "/ROOT"
	}

	if !strings.HasPrefix(root, "/") {
		root = "/" + root
	}

	return WatchTarget{FolderID: id, RootPath: root}
}

// Resolution is the result of resolving a remote item id to a logical path.
type Resolution struct {
	Path     string
	IsFolder bool
	ParentID string
}

// ChangeFeed produces raw change records for a watch target and resolves
// item ids to logical paths. Implemented by the Drive client; fakes in
// tests. Both calls may block on the network and must honor ctx.
type ChangeFeed interface {
	// FetchActivities returns records with since < time <= until, one page
	// at a time. A non-empty next page token means more pages remain.
	FetchActivities(ctx context.Context, target WatchTarget, since, until time.Time, pageToken string, pageSize int) ([]Record, string, error)

	// ResolvePath maps an item id to its logical path under the target's
	// mapped root.
	ResolvePath(ctx context.Context, itemID string, target WatchTarget) (Resolution, error)
}

// CursorStore persists each target's last settled window end so restarts
// neither re-deliver nor skip activity. A nil store means cursors live
// only in memory.
type CursorStore interface {
	Cursor(ctx context.Context, poller, folderID string) (time.Time, bool, error)
	SetCursor(ctx context.Context, poller, folderID string, t time.Time) error
}

// Outcome reports what a sink did with a delivered batch.
type Outcome struct {
	// Dropped marks an intentional backpressure drop (sink busy). Distinct
	// from failure: the error return is nil.
	Dropped bool

	// Tasks holds a handle for every asynchronous job the backend accepted
	// for this batch, to be polled by the task monitor. A fan-out sink may
	// report several.
	Tasks []TaskHandle
}

// TaskHandle references an asynchronous backend job reported by a sink.
type TaskHandle struct {
	Sink      string
	ID        string
	StartedAt time.Time
}

// TaskStatus is the lifecycle state of a monitored backend job.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
	TaskUnknown TaskStatus = "unknown"
)

// Terminal reports whether the monitor can stop polling this status.
func (s TaskStatus) Terminal() bool {
	return s == TaskDone || s == TaskFailed
}

// Sink is a configured downstream adapter. Deliver receives the batch
// with unmapped paths and applies the sink's own mapping; MapPath exposes
// that mapping so the buffer engine can coalesce on the post-mapping
// parent folder, the folder the backend actually sees.
type Sink interface {
	Name() string
	MapPath(path string) string
	Deliver(ctx context.Context, batch []Activity) (Outcome, error)
}

// TaskChecker is implemented by sinks whose backend exposes job status.
type TaskChecker interface {
	CheckTask(ctx context.Context, handle TaskHandle) (TaskStatus, error)
}

// timeSleep waits for d or until ctx is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
