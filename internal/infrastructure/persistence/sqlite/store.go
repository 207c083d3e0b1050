// Package sqlite provides a SQLite-backed progress store for single-node
// deployments. The aggregate is stored as a JSON document next to its version.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alem-hub/study-progress/internal/domain/progress"
	"github.com/alem-hub/study-progress/internal/domain/shared"
)

const schema = `
CREATE TABLE IF NOT EXISTS user_progress (
	user_id    TEXT    PRIMARY KEY,
	version    INTEGER NOT NULL CHECK (version >= 1),
	xp         INTEGER NOT NULL DEFAULT 0,
	level      INTEGER NOT NULL DEFAULT 1,
	data       TEXT    NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_user_progress_xp ON user_progress(xp DESC);
`

// Store persists progress aggregates in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// Open opens a SQLite progress store and ensures the schema exists.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; compare-and-swap still guards concurrent handlers.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Get implements progress.Store.
func (s *Store) Get(ctx context.Context, userID string) (*progress.UserProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		version int64
		data    string
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT version, data FROM user_progress WHERE user_id = ?`, userID,
	).Scan(&version, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get %s: %w", userID, shared.ErrProgressNotFound)
		}
		return nil, fmt.Errorf("get progress: %w", err)
	}

	var p progress.UserProgress
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("decode progress %s: %w", userID, err)
	}
	// The column is authoritative for concurrency control.
	p.Version = version
	p.Normalize()
	return &p, nil
}

// Commit implements progress.Store.
func (s *Store) Commit(ctx context.Context, p *progress.UserProgress, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p == nil || p.UserID == "" {
		return shared.ValidationError("Commit", "userId", "must not be empty")
	}

	next := expectedVersion + 1
	doc := p.Clone()
	doc.Version = next
	doc.Level = progress.CalculateLevel(doc.XP)
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}

	var res sql.Result
	if expectedVersion == 0 {
		res, err = s.sqlDB.ExecContext(ctx,
			`INSERT INTO user_progress (user_id, version, xp, level, data, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (user_id) DO NOTHING`,
			doc.UserID, next, doc.XP, doc.Level, string(data), toMillis(doc.UpdatedAt),
		)
	} else {
		res, err = s.sqlDB.ExecContext(ctx,
			`UPDATE user_progress
			 SET version = ?, xp = ?, level = ?, data = ?, updated_at = ?
			 WHERE user_id = ? AND version = ?`,
			next, doc.XP, doc.Level, string(data), toMillis(doc.UpdatedAt), doc.UserID, expectedVersion,
		)
	}
	if err != nil {
		return fmt.Errorf("commit progress: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("commit progress: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("commit %s at version %d: %w", p.UserID, expectedVersion, shared.ErrVersionConflict)
	}

	p.Version = next
	return nil
}

// Ping implements progress.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}
