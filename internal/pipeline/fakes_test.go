package pipeline

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubSink records every delivered batch and returns a canned outcome.
type stubSink struct {
	name    string
	mapFrom string
	mapTo   string
	outcome Outcome
	err     error

	mu      sync.Mutex
	batches [][]Activity
}

func (s *stubSink) Name() string { return s.name }

func (s *stubSink) MapPath(p string) string {
	if s.mapFrom != "" && strings.HasPrefix(p, s.mapFrom) {
		return s.mapTo + strings.TrimPrefix(p, s.mapFrom)
	}

	return p
}

func (s *stubSink) Deliver(_ context.Context, batch []Activity) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.batches = append(s.batches, append([]Activity(nil), batch...))

	return s.outcome, s.err
}

func (s *stubSink) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.batches)
}

func (s *stubSink) batch(i int) []Activity {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.batches[i]
}

// fakeFeed serves canned record pages and resolutions.
type fakeFeed struct {
	mu          sync.Mutex
	pages       [][]Record
	fetchErr    error
	fetchCalls  int
	resolutions map[string]Resolution
	resolveErr  map[string]error
}

func (f *fakeFeed) FetchActivities(_ context.Context, _ WatchTarget, _, _ time.Time, pageToken string, _ int) ([]Record, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetchCalls++

	if f.fetchErr != nil {
		return nil, "", f.fetchErr
	}

	page := 0
	if pageToken != "" {
		page = int(pageToken[0] - '0')
	}

	if page >= len(f.pages) {
		return nil, "", nil
	}

	next := ""
	if page+1 < len(f.pages) {
		next = string(rune('0' + page + 1))
	}

	return f.pages[page], next, nil
}

func (f *fakeFeed) ResolvePath(_ context.Context, itemID string, _ WatchTarget) (Resolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.resolveErr[itemID]; err != nil {
		return Resolution{}, err
	}

	res, ok := f.resolutions[itemID]
	if !ok {
		return Resolution{Path: "/" + itemID}, nil
	}

	return res, nil
}

// memCursors is an in-memory CursorStore.
type memCursors struct {
	mu     sync.Mutex
	m      map[string]time.Time
	getErr error
	setErr error
}

func newMemCursors() *memCursors {
	return &memCursors{m: make(map[string]time.Time)}
}

func (c *memCursors) Cursor(_ context.Context, poller, folderID string) (time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.getErr != nil {
		return time.Time{}, false, c.getErr
	}

	t, ok := c.m[poller+"/"+folderID]

	return t, ok, nil
}

func (c *memCursors) SetCursor(_ context.Context, poller, folderID string, t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.setErr != nil {
		return c.setErr
	}

	c.m[poller+"/"+folderID] = t

	return nil
}

func (c *memCursors) get(poller, folderID string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.m[poller+"/"+folderID]

	return t, ok
}

// stubChecker returns a scripted sequence of statuses per task id.
type stubChecker struct {
	mu       sync.Mutex
	statuses map[string][]TaskStatus
	err      error
	calls    int
}

func (c *stubChecker) CheckTask(_ context.Context, handle TaskHandle) (TaskStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++

	if c.err != nil {
		return TaskUnknown, c.err
	}

	seq := c.statuses[handle.ID]
	if len(seq) == 0 {
		return TaskDone, nil
	}

	status := seq[0]
	c.statuses[handle.ID] = seq[1:]

	return status, nil
}
