package postgres

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
)

// Migration is one schema step. AppliedAt and IsApplied are filled by Status.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// migrationLockID serialises migrators of this service across instances.
const migrationLockID int64 = 0x5e55_1011

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

// Migrator applies GetMigrations in version order, one transaction per step.
type Migrator struct {
	conn  *Connection
	steps []Migration
}

func NewMigrator(conn *Connection) *Migrator {
	steps := GetMigrations()
	slices.SortFunc(steps, func(a, b Migration) int { return a.Version - b.Version })
	return &Migrator{conn: conn, steps: steps}
}

// appliedVersions creates the bookkeeping table on first use.
func (m *Migrator) appliedVersions(ctx context.Context) (map[int]time.Time, error) {
	q, err := m.conn.querier()
	if err != nil {
		return nil, err
	}
	if _, err := q.Exec(ctx, createMigrationsTable); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	rows, err := q.Query(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	done := make(map[int]time.Time)
	var (
		v  int
		at time.Time
	)
	_, err = pgx.ForEachRow(rows, []any{&v, &at}, func() error {
		done[v] = at
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan schema_migrations: %w", err)
	}
	return done, nil
}

// step runs sql and the bookkeeping statement under the advisory lock.
func (m *Migrator) step(ctx context.Context, sql, bookkeeping string, args ...any) error {
	return m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, sql); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, bookkeeping, args...)
		return err
	})
}

// Migrate applies every pending step and reports how many ran. It stops at
// the first failure; earlier steps stay applied.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	done, err := m.appliedVersions(ctx)
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, s := range m.steps {
		if _, ok := done[s.Version]; ok {
			continue
		}
		if s.UpSQL == "" {
			return ran, fmt.Errorf("%w: %d %s has no up SQL", ErrMigrationFailed, s.Version, s.Name)
		}
		err := m.step(ctx, s.UpSQL,
			`INSERT INTO schema_migrations (version, name) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING`,
			s.Version, s.Name)
		if err != nil {
			return ran, fmt.Errorf("%w: %d %s: %v", ErrMigrationFailed, s.Version, s.Name, err)
		}
		ran++
	}
	return ran, nil
}

// Rollback reverts the newest applied step. With nothing applied it is a no-op.
func (m *Migrator) Rollback(ctx context.Context) error {
	done, err := m.appliedVersions(ctx)
	if err != nil {
		return err
	}
	if len(done) == 0 {
		return nil
	}

	newest := 0
	for v := range done {
		newest = max(newest, v)
	}
	i := slices.IndexFunc(m.steps, func(s Migration) bool { return s.Version == newest })
	if i < 0 || m.steps[i].DownSQL == "" {
		return fmt.Errorf("%w: %d has no down SQL", ErrMigrationFailed, newest)
	}

	if err := m.step(ctx, m.steps[i].DownSQL, `DELETE FROM schema_migrations WHERE version = $1`, newest); err != nil {
		return fmt.Errorf("%w: rollback %d: %v", ErrMigrationFailed, newest, err)
	}
	return nil
}

// Status lists every known step with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	done, err := m.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}
	out := slices.Clone(m.steps)
	for i := range out {
		out[i].AppliedAt, out[i].IsApplied = done[out[i].Version]
	}
	return out, nil
}
