package postgres

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_user_progress", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_user_badges", UpSQL: migration002Up, DownSQL: migration002Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: USER PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- One aggregate row per user. version drives optimistic concurrency:
-- every write is UPDATE ... WHERE version = <expected>.
CREATE TABLE IF NOT EXISTS user_progress (
    user_id                       VARCHAR(64) PRIMARY KEY,
    xp                            BIGINT  NOT NULL DEFAULT 0,
    level                         INTEGER NOT NULL DEFAULT 1,
    current_streak                INTEGER NOT NULL DEFAULT 0,
    longest_streak                INTEGER NOT NULL DEFAULT 0,
    last_activity_date            DATE,
    total_duration_seconds        BIGINT  NOT NULL DEFAULT 0,
    total_sessions                BIGINT  NOT NULL DEFAULT 0,
    activity_types                TEXT[]  NOT NULL DEFAULT '{}',
    longest_session_seconds       BIGINT  NOT NULL DEFAULT 0,
    first_session_of_day_count    BIGINT  NOT NULL DEFAULT 0,
    sessions_before_noon_count    BIGINT  NOT NULL DEFAULT 0,
    sessions_after_midnight_count BIGINT  NOT NULL DEFAULT 0,
    sessions_on_last_active_day   BIGINT  NOT NULL DEFAULT 0,
    max_sessions_in_one_day       BIGINT  NOT NULL DEFAULT 0,
    version                       BIGINT  NOT NULL,
    created_at                    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at                    TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_xp CHECK (xp >= 0),
    CONSTRAINT valid_level CHECK (level BETWEEN 1 AND 100),
    CONSTRAINT valid_streak CHECK (current_streak >= 0 AND longest_streak >= current_streak),
    CONSTRAINT valid_version CHECK (version >= 1)
);

CREATE INDEX IF NOT EXISTS idx_user_progress_xp ON user_progress(xp DESC);
CREATE INDEX IF NOT EXISTS idx_user_progress_updated_at ON user_progress(updated_at);
`

const migration001Down = `
DROP TABLE IF EXISTS user_progress;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: USER BADGES
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Unlocked badges only grow; position keeps the unlock order.
CREATE TABLE IF NOT EXISTS user_badges (
    user_id     VARCHAR(64) NOT NULL REFERENCES user_progress(user_id) ON DELETE CASCADE,
    badge_id    VARCHAR(64) NOT NULL,
    position    INTEGER     NOT NULL,
    unlocked_at TIMESTAMPTZ NOT NULL,

    PRIMARY KEY (user_id, badge_id)
);

CREATE INDEX IF NOT EXISTS idx_user_badges_badge_id ON user_badges(badge_id);
`

const migration002Down = `
DROP TABLE IF EXISTS user_badges;
`
