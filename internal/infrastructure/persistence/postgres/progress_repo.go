package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/study-progress/internal/domain/progress"
	"github.com/alem-hub/study-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements progress.Store for PostgreSQL.
type ProgressRepository struct {
	conn *Connection
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn}
}

const progressColumns = `
	user_id, xp, level, current_streak, longest_streak, last_activity_date,
	total_duration_seconds, total_sessions, activity_types, longest_session_seconds,
	first_session_of_day_count, sessions_before_noon_count, sessions_after_midnight_count,
	sessions_on_last_active_day, max_sessions_in_one_day, version, created_at, updated_at`

// badgeRow is one element of the aggregated badge list.
type badgeRow struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
}

// Get implements progress.Store. Row and badges are read in one statement so
// they come from the same snapshot.
func (r *ProgressRepository) Get(ctx context.Context, userID string) (*progress.UserProgress, error) {
	q, err := r.conn.querier()
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + progressColumns + `,
			COALESCE((
				SELECT json_agg(json_build_object('id', b.badge_id, 'at', b.unlocked_at) ORDER BY b.position)
				FROM user_badges b WHERE b.user_id = p.user_id
			), '[]'::json)
		FROM user_progress p
		WHERE p.user_id = $1
	`

	var (
		p            progress.UserProgress
		lastActivity *time.Time
		badgesJSON   []byte
	)
	err = q.QueryRow(ctx, query, userID).Scan(
		&p.UserID,
		&p.XP,
		&p.Level,
		&p.CurrentStreak,
		&p.LongestStreak,
		&lastActivity,
		&p.TotalDurationSeconds,
		&p.TotalSessions,
		&p.ActivityTypes,
		&p.LongestSessionSeconds,
		&p.FirstSessionOfDayCount,
		&p.SessionsBeforeNoonCount,
		&p.SessionsAfterMidnightCount,
		&p.SessionsOnLastActiveDay,
		&p.MaxSessionsInOneDay,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
		&badgesJSON,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, fmt.Errorf("get %s: %w", userID, shared.ErrProgressNotFound)
		}
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}

	if lastActivity != nil {
		p.LastActivityDate = time.Date(lastActivity.Year(), lastActivity.Month(), lastActivity.Day(), 0, 0, 0, 0, time.UTC)
	}

	var badges []badgeRow
	if err := json.Unmarshal(badgesJSON, &badges); err != nil {
		return nil, fmt.Errorf("failed to decode badges: %w", err)
	}
	p.BadgeUnlockedAt = make(map[string]time.Time, len(badges))
	for _, b := range badges {
		p.UnlockedBadgeIDs = append(p.UnlockedBadgeIDs, b.ID)
		p.BadgeUnlockedAt[b.ID] = b.At.UTC()
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	p.Normalize()

	return &p, nil
}

// Commit implements progress.Store. The row write is conditional on the
// version; badges are appended in the same transaction.
func (r *ProgressRepository) Commit(ctx context.Context, p *progress.UserProgress, expectedVersion int64) error {
	if p == nil || p.UserID == "" {
		return shared.ValidationError("Commit", "userId", "must not be empty")
	}
	next := expectedVersion + 1

	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		var (
			affected int64
			err      error
		)
		if expectedVersion == 0 {
			affected, err = r.insert(ctx, tx, p, next)
		} else {
			affected, err = r.update(ctx, tx, p, expectedVersion, next)
		}
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("commit %s at version %d: %w", p.UserID, expectedVersion, shared.ErrVersionConflict)
		}
		return r.appendBadges(ctx, tx, p)
	})
	if err != nil {
		if shared.IsConflict(err) {
			return err
		}
		if IsSerializationFailure(err) {
			return fmt.Errorf("commit %s: %v: %w", p.UserID, err, shared.ErrVersionConflict)
		}
		return fmt.Errorf("failed to commit progress: %w", err)
	}

	p.Version = next
	return nil
}

func (r *ProgressRepository) insert(ctx context.Context, tx pgx.Tx, p *progress.UserProgress, version int64) (int64, error) {
	query := `
		INSERT INTO user_progress (` + progressColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (user_id) DO NOTHING
	`
	tag, err := tx.Exec(ctx, query, append(progressArgs(p), version, p.CreatedAt, p.UpdatedAt)...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert progress: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *ProgressRepository) update(ctx context.Context, tx pgx.Tx, p *progress.UserProgress, expected, next int64) (int64, error) {
	query := `
		UPDATE user_progress SET
			xp = $2,
			level = $3,
			current_streak = $4,
			longest_streak = $5,
			last_activity_date = $6,
			total_duration_seconds = $7,
			total_sessions = $8,
			activity_types = $9,
			longest_session_seconds = $10,
			first_session_of_day_count = $11,
			sessions_before_noon_count = $12,
			sessions_after_midnight_count = $13,
			sessions_on_last_active_day = $14,
			max_sessions_in_one_day = $15,
			version = $16,
			updated_at = $17
		WHERE user_id = $1 AND version = $18
	`
	tag, err := tx.Exec(ctx, query, append(progressArgs(p), next, p.UpdatedAt, expected)...)
	if err != nil {
		return 0, fmt.Errorf("failed to update progress: %w", err)
	}
	return tag.RowsAffected(), nil
}

// progressArgs returns parameters $1..$15 shared by insert and update.
func progressArgs(p *progress.UserProgress) []any {
	var lastActivity any
	if !p.LastActivityDate.IsZero() {
		lastActivity = p.LastActivityDate
	}
	activityTypes := p.ActivityTypes
	if activityTypes == nil {
		activityTypes = []string{}
	}
	return []any{
		p.UserID,
		p.XP,
		progress.CalculateLevel(p.XP),
		p.CurrentStreak,
		p.LongestStreak,
		lastActivity,
		p.TotalDurationSeconds,
		p.TotalSessions,
		activityTypes,
		p.LongestSessionSeconds,
		p.FirstSessionOfDayCount,
		p.SessionsBeforeNoonCount,
		p.SessionsAfterMidnightCount,
		p.SessionsOnLastActiveDay,
		p.MaxSessionsInOneDay,
	}
}

// appendBadges inserts unlocked badges; existing ones are left untouched so
// the set only grows.
func (r *ProgressRepository) appendBadges(ctx context.Context, tx pgx.Tx, p *progress.UserProgress) error {
	if len(p.UnlockedBadgeIDs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i, id := range p.UnlockedBadgeIDs {
		at, ok := p.BadgeUnlockedAt[id]
		if !ok {
			at = p.UpdatedAt
		}
		batch.Queue(`
			INSERT INTO user_badges (user_id, badge_id, position, unlocked_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, badge_id) DO NOTHING
		`, p.UserID, id, i, at)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert badges: %w", err)
	}
	return nil
}

// Ping implements progress.Pinger.
func (r *ProgressRepository) Ping(ctx context.Context) error {
	return r.conn.Ping(ctx)
}
