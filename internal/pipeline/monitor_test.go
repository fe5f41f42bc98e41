package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorTracksUntilTerminal(t *testing.T) {
	t.Parallel()

	checker := &stubChecker{statuses: map[string][]TaskStatus{
		"j1": {TaskPending, TaskPending, TaskDone},
	}}

	m := NewMonitor(time.Second, testLogger())
	m.Register("rclone", checker)

	m.Queue() <- TaskHandle{Sink: "rclone", ID: "j1", StartedAt: time.Now()}
	m.drainQueue()

	require.Equal(t, 1, m.Active())

	ctx := context.Background()

	m.checkAll(ctx)
	assert.Equal(t, 1, m.Active())

	m.checkAll(ctx)
	assert.Equal(t, 1, m.Active())

	m.checkAll(ctx)
	assert.Equal(t, 0, m.Active())
}

func TestMonitorFailedTaskIsRemoved(t *testing.T) {
	t.Parallel()

	checker := &stubChecker{statuses: map[string][]TaskStatus{
		"j1": {TaskFailed},
	}}

	m := NewMonitor(time.Second, testLogger())
	m.Register("rclone", checker)

	m.Queue() <- TaskHandle{Sink: "rclone", ID: "j1", StartedAt: time.Now()}
	m.drainQueue()
	m.checkAll(context.Background())

	assert.Equal(t, 0, m.Active())
}

func TestMonitorDiscardsHandlesWithoutChecker(t *testing.T) {
	t.Parallel()

	m := NewMonitor(time.Second, testLogger())

	m.Queue() <- TaskHandle{Sink: "unregistered", ID: "j1"}
	m.drainQueue()

	assert.Equal(t, 0, m.Active())
}

func TestMonitorKeepsTaskOnCheckError(t *testing.T) {
	t.Parallel()

	checker := &stubChecker{err: errors.New("status endpoint down")}

	m := NewMonitor(time.Second, testLogger())
	m.Register("rclone", checker)

	m.Queue() <- TaskHandle{Sink: "rclone", ID: "j1", StartedAt: time.Now()}
	m.drainQueue()
	m.checkAll(context.Background())

	assert.Equal(t, 1, m.Active())
	assert.Equal(t, 1, checker.calls)
}

func TestMonitorDeduplicatesHandles(t *testing.T) {
	t.Parallel()

	checker := &stubChecker{statuses: map[string][]TaskStatus{
		"j1": {TaskPending},
	}}

	m := NewMonitor(time.Second, testLogger())
	m.Register("rclone", checker)

	handle := TaskHandle{Sink: "rclone", ID: "j1", StartedAt: time.Now()}
	m.Queue() <- handle
	m.Queue() <- handle
	m.drainQueue()

	assert.Equal(t, 1, m.Active())
}

func TestMonitorGivesUpOnAncientTasks(t *testing.T) {
	t.Parallel()

	checker := &stubChecker{statuses: map[string][]TaskStatus{
		"j1": {TaskPending},
	}}

	m := NewMonitor(time.Second, testLogger())
	m.Register("rclone", checker)

	m.Queue() <- TaskHandle{Sink: "rclone", ID: "j1", StartedAt: time.Now().Add(-25 * time.Hour)}
	m.drainQueue()
	m.checkAll(context.Background())

	assert.Equal(t, 0, m.Active())
}
