package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	code              TEXT PRIMARY KEY,
	id                TEXT NOT NULL UNIQUE,
	video_url         TEXT NOT NULL DEFAULT '',
	playback_position REAL NOT NULL DEFAULT 0,
	is_playing        INTEGER NOT NULL DEFAULT 0,
	subtitle_enabled  INTEGER NOT NULL DEFAULT 0,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS participants (
	room_code TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	username  TEXT NOT NULL,
	is_host   INTEGER NOT NULL DEFAULT 0,
	status    TEXT NOT NULL,
	joined_at INTEGER NOT NULL,
	left_at   INTEGER NOT NULL DEFAULT 0,
	UNIQUE (room_code, user_id)
);

CREATE TABLE IF NOT EXISTS join_requests (
	id              TEXT PRIMARY KEY,
	room_code       TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	username        TEXT NOT NULL,
	browser         TEXT NOT NULL DEFAULT '',
	browser_version TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	created_at      INTEGER NOT NULL,
	resolved_at     INTEGER NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS join_requests_one_pending
	ON join_requests (room_code, user_id) WHERE status = 'pending';
`

type repo struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens the database at path and applies the schema.
func Open(ctx context.Context, path string, logger *slog.Logger) (*repo, *sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// sqlite serializes writers, a single connection also keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	r, err := NewRepo(ctx, db, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	return r, db, nil
}

func NewRepo(ctx context.Context, db *sql.DB, logger *slog.Logger) (*repo, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &repo{
		db:     db,
		logger: logger,
	}, nil
}

func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

func (r repo) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
