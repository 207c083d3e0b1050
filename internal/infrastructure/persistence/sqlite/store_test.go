package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-progress/internal/domain/progress"
	"github.com/alem-hub/study-progress/internal/domain/shared"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "progress.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	_, err := store.Get(ctx, "u1")
	assert.True(t, shared.IsNotFound(err))

	p := progress.NewUserProgress("u1", now)
	p.XP = 300
	p.CurrentStreak = 2
	p.LongestStreak = 5
	p.LastActivityDate = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	p.ActivityTypes = []string{"coding", "reading"}
	p.UnlockedBadgeIDs = []string{"first_steps", "streak_3"}
	p.BadgeUnlockedAt = map[string]time.Time{"first_steps": now, "streak_3": now.Add(time.Hour)}
	require.NoError(t, store.Commit(ctx, p, 0))
	assert.Equal(t, int64(1), p.Version)

	got, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, int64(300), got.XP)
	assert.Equal(t, 2, got.Level)
	assert.Equal(t, p.LastActivityDate, got.LastActivityDate)
	assert.Equal(t, p.ActivityTypes, got.ActivityTypes)
	assert.Equal(t, p.UnlockedBadgeIDs, got.UnlockedBadgeIDs)
	assert.True(t, got.BadgeUnlockedAt["streak_3"].Equal(now.Add(time.Hour)))
}

func TestStore_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, store.Commit(ctx, progress.NewUserProgress("u1", now), 0))
	assert.True(t, shared.IsConflict(store.Commit(ctx, progress.NewUserProgress("u1", now), 0)))

	a, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	b := a.Clone()

	a.XP = 10
	require.NoError(t, store.Commit(ctx, a, 1))
	b.XP = 20
	assert.True(t, shared.IsConflict(store.Commit(ctx, b, 1)))

	got, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.XP)
	assert.Equal(t, int64(2), got.Version)

	require.NoError(t, store.Ping(ctx))
}
