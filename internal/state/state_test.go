package state

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "cursors.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestCursorRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Cursor(ctx, "p1", "folder1")
	require.NoError(t, err)
	assert.False(t, ok)

	want := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetCursor(ctx, "p1", "folder1", want))

	got, ok, err := s.Cursor(ctx, "p1", "folder1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestCursorOverwrite(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	first := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	second := first.Add(time.Minute)

	require.NoError(t, s.SetCursor(ctx, "p1", "folder1", first))
	require.NoError(t, s.SetCursor(ctx, "p1", "folder1", second))

	got, ok, err := s.Cursor(ctx, "p1", "folder1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second, got)
}

func TestCursorsAreScopedPerPollerAndTarget(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	t1 := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	require.NoError(t, s.SetCursor(ctx, "p1", "folder1", t1))
	require.NoError(t, s.SetCursor(ctx, "p2", "folder1", t2))

	got, ok, err := s.Cursor(ctx, "p1", "folder1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, t1, got)

	_, ok, err = s.Cursor(ctx, "p1", "folder2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreSurvivesReopen(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dbPath := filepath.Join(t.TempDir(), "cursors.db")
	ctx := context.Background()

	s, err := Open(ctx, dbPath, logger)
	require.NoError(t, err)

	want := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetCursor(ctx, "p1", "folder1", want))
	require.NoError(t, s.Close())

	s, err = Open(ctx, dbPath, logger)
	require.NoError(t, err)

	defer s.Close()

	got, ok, err := s.Cursor(ctx, "p1", "folder1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}
