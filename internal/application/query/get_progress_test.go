package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-progress/internal/domain/progress"
	"github.com/alem-hub/study-progress/internal/domain/shared"
	"github.com/alem-hub/study-progress/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/study-progress/pkg/clock"
)

var day = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func seed(t *testing.T, store *memory.Store, catalog *progress.Catalog) {
	t.Helper()
	engine, err := progress.NewEngine(progress.EngineConfig{Catalog: catalog, Clock: clock.NewManual(day.Add(9 * time.Hour))})
	require.NoError(t, err)

	var current *progress.UserProgress
	for i := 0; i < 2; i++ {
		out, err := engine.Apply(current, progress.Session{
			UserID:          "u1",
			DurationSeconds: 5400,
			CompletedAt:     day.Add(time.Duration(i)*24*time.Hour + 9*time.Hour),
			ActivityLabel:   "Reading",
		})
		require.NoError(t, err)
		require.NoError(t, store.Commit(context.Background(), out.Progress, out.ExpectedVersion))
		current = out.Progress
	}
}

func testCatalog(t *testing.T) *progress.Catalog {
	t.Helper()
	c, err := progress.NewCatalog([]progress.Badge{
		{ID: "first_steps", Name: "First Steps", Rarity: progress.RarityCommon, XPReward: 50,
			Condition: progress.FieldThreshold{Field: "totalSessions", AtLeast: 1}},
		{ID: "marathon", Name: "Marathon", Rarity: progress.RarityEpic, XPReward: 300,
			Condition: progress.LongSession{AtLeastSeconds: 14400}},
		{ID: "streak_3", Name: "Three in a Row", XPReward: 100,
			Condition: progress.FieldThreshold{Field: "longestStreak", AtLeast: 3}},
	})
	require.NoError(t, err)
	return c
}

func TestGetProgress_Card(t *testing.T) {
	store := memory.NewStore()
	catalog := testCatalog(t)
	seed(t, store, catalog)

	now := clock.NewManual(day.Add(24*time.Hour + 20*time.Hour))
	h := NewGetProgressHandler(store, catalog, time.UTC, now)

	card, err := h.Handle(context.Background(), GetProgressQuery{UserID: "u1", IncludeLocked: true})
	require.NoError(t, err)

	// day 1: 15 + 25 + 25 + 50 (badge); day 2: 15 + 25 + 25
	assert.Equal(t, int64(180), card.XP)
	assert.Equal(t, 1, card.Level)
	assert.Equal(t, progress.XPForLevel(2), card.NextLevelXP)
	assert.Equal(t, progress.XPForLevel(2)-180, card.XPToNextLevel)
	assert.Equal(t, int64(2), card.TotalSessions)
	assert.Equal(t, []string{"reading"}, card.ActivityTypes)
	assert.Equal(t, int64(2), card.Version)

	assert.Equal(t, StreakDTO{Current: 2, Effective: 2, Longest: 2, LastActivityDate: "2024-03-02", ActiveToday: true}, card.Streak)

	require.Len(t, card.Badges, 3)
	assert.Equal(t, "first_steps", card.Badges[0].ID)
	assert.True(t, card.Badges[0].Unlocked)
	require.NotNil(t, card.Badges[0].UnlockedAt)
	assert.Equal(t, day.Add(9*time.Hour), *card.Badges[0].UnlockedAt)
	// locked ones follow, cheapest first
	assert.Equal(t, []string{"streak_3", "marathon"}, []string{card.Badges[1].ID, card.Badges[2].ID})
	assert.False(t, card.Badges[1].Unlocked)
	assert.Equal(t, 1, card.UnlockedBadges)
	assert.Equal(t, 3, card.TotalBadges)
}

func TestGetProgress_StreakStates(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, testCatalog(t))
	now := clock.NewManual(day)
	h := NewGetProgressHandler(store, nil, time.UTC, now)

	now.Set(day.Add(2*24*time.Hour + time.Hour))
	card, err := h.Handle(context.Background(), GetProgressQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, card.Streak.AtRisk)
	assert.False(t, card.Streak.ActiveToday)
	assert.Equal(t, 2, card.Streak.Effective)

	now.Set(day.Add(5 * 24 * time.Hour))
	card, err = h.Handle(context.Background(), GetProgressQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.False(t, card.Streak.AtRisk)
	assert.Equal(t, 0, card.Streak.Effective)
	assert.Equal(t, 2, card.Streak.Current)

	// unknown badge ids still render without a catalog entry
	require.Len(t, card.Badges, 1)
	assert.Equal(t, "first_steps", card.Badges[0].Name)
}

func TestGetProgress_Errors(t *testing.T) {
	h := NewGetProgressHandler(memory.NewStore(), nil, nil, nil)

	_, err := h.Handle(context.Background(), GetProgressQuery{UserID: ""})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(context.Background(), GetProgressQuery{UserID: "nobody"})
	assert.True(t, shared.IsNotFound(err))
}
