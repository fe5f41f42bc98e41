// Package state persists per-target poll cursors in an embedded SQLite
// database so a restart resumes exactly where the previous run settled.
package state

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	sqlGetCursor = `SELECT cursor_ms FROM cursors WHERE poller = ? AND folder_id = ?`

	sqlSetCursor = `INSERT INTO cursors (poller, folder_id, cursor_ms, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(poller, folder_id) DO UPDATE SET
		 cursor_ms = excluded.cursor_ms,
		 updated_at = excluded.updated_at`
)

// Store is the cursor database. It implements pipeline.CursorStore.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	getStmt *sql.Stmt
	setStmt *sql.Stmt

	nowFunc func() time.Time
}

// Open opens (or creates) the database at dbPath and applies pending
// migrations. Use ":memory:" for tests.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("state: open sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()

		return nil, fmt.Errorf("state: set WAL mode: %w", err)
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()

		return nil, err
	}

	s := &Store{db: db, logger: logger, nowFunc: time.Now}

	if s.getStmt, err = db.PrepareContext(ctx, sqlGetCursor); err != nil {
		db.Close()

		return nil, fmt.Errorf("state: prepare get: %w", err)
	}

	if s.setStmt, err = db.PrepareContext(ctx, sqlSetCursor); err != nil {
		db.Close()

		return nil, fmt.Errorf("state: prepare set: %w", err)
	}

	logger.Info("cursor database ready", slog.String("path", dbPath))

	return s, nil
}

func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("state: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("state: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("state: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Cursor returns the persisted window end for the poller/target pair.
// The second return is false when no cursor has been stored yet.
func (s *Store) Cursor(ctx context.Context, poller, folderID string) (time.Time, bool, error) {
	var ms int64

	err := s.getStmt.QueryRowContext(ctx, poller, folderID).Scan(&ms)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return time.Time{}, false, nil
	case err != nil:
		return time.Time{}, false, fmt.Errorf("state: reading cursor %s/%s: %w", poller, folderID, err)
	}

	return time.UnixMilli(ms).UTC(), true, nil
}

// SetCursor stores the window end for the poller/target pair.
func (s *Store) SetCursor(ctx context.Context, poller, folderID string, t time.Time) error {
	_, err := s.setStmt.ExecContext(ctx, poller, folderID, t.UnixMilli(), s.nowFunc().UnixMilli())
	if err != nil {
		return fmt.Errorf("state: writing cursor %s/%s: %w", poller, folderID, err)
	}

	return nil
}

// Close releases the prepared statements and the database handle.
func (s *Store) Close() error {
	if s.getStmt != nil {
		s.getStmt.Close()
	}

	if s.setStmt != nil {
		s.setStmt.Close()
	}

	return s.db.Close()
}
