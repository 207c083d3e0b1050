package command

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-progress/internal/domain/progress"
	"github.com/alem-hub/study-progress/internal/domain/shared"
	"github.com/alem-hub/study-progress/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/study-progress/pkg/clock"
)

var morning = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func noSleep(context.Context, time.Duration) error { return nil }

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

func newEngine(t *testing.T, badges ...progress.Badge) *progress.Engine {
	t.Helper()
	catalog, err := progress.NewCatalog(badges)
	require.NoError(t, err)
	engine, err := progress.NewEngine(progress.EngineConfig{
		Location: time.UTC,
		Catalog:  catalog,
		Clock:    clock.NewManual(morning),
	})
	require.NoError(t, err)
	return engine
}

func newHandler(engine *progress.Engine, store progress.Store, pub shared.EventPublisher) *CompleteSessionHandler {
	cfg := DefaultCompleteSessionHandlerConfig()
	cfg.Sleep = noSleep
	return NewCompleteSessionHandler(engine, store, pub, nil, cfg)
}

func hourAt(userID string, at time.Time) CompleteSessionCommand {
	return CompleteSessionCommand{UserID: userID, DurationSeconds: 3600, CompletedAt: at, ActivityLabel: "coding"}
}

func TestCompleteSession_CreatesAggregateAndPublishes(t *testing.T) {
	store := memory.NewStore()
	pub := &recordingPublisher{}
	h := newHandler(newEngine(t,
		progress.Badge{ID: "first_steps", Name: "First Steps", XPReward: 250,
			Condition: progress.FieldThreshold{Field: "totalSessions", AtLeast: 1}},
	), store, pub)

	res, err := h.Handle(context.Background(), hourAt("u1", morning))
	require.NoError(t, err)

	// 10 (hour) + 25 (completion) + 25 (first of day) + 250 (badge) = 310 -> level 2
	assert.Equal(t, int64(310), res.XPGained)
	assert.Equal(t, 1, res.OldLevel)
	assert.Equal(t, 2, res.NewLevel)
	assert.True(t, res.LeveledUp)
	assert.Equal(t, []string{"first_steps"}, res.NewlyUnlockedBadgeIDs)
	assert.Equal(t, 1, res.Attempts)

	stored, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
	assert.Equal(t, int64(310), stored.XP)
	assert.Equal(t, 2, stored.Level)

	assert.Equal(t, []shared.EventType{
		shared.EventSessionCompleted,
		shared.EventXPGained,
		shared.EventXPGained,
		shared.EventStreakUpdated,
		shared.EventLevelUp,
		shared.EventBadgeUnlocked,
	}, pub.types())

	badge := pub.events[5].(shared.BadgeUnlockedEvent)
	assert.Equal(t, "first_steps", badge.BadgeID)
	assert.Equal(t, int64(250), badge.XPReward)
	assert.Equal(t, int64(1), badge.Version)
}

func TestCompleteSession_ValidationBeforeAnyWrite(t *testing.T) {
	store := memory.NewStore()
	pub := &recordingPublisher{}
	h := newHandler(newEngine(t), store, pub)

	cases := []CompleteSessionCommand{
		{UserID: "u1", DurationSeconds: 0, CompletedAt: morning},
		{UserID: "u1", DurationSeconds: -5, CompletedAt: morning},
		{UserID: "bad id!", DurationSeconds: 60, CompletedAt: morning},
		{UserID: "u1", DurationSeconds: 60},
		{UserID: "u1", DurationSeconds: 60, CompletedAt: morning, ActivityLabel: strings.Repeat("x", 200)},
	}
	for _, cmd := range cases {
		_, err := h.Handle(context.Background(), cmd)
		require.Error(t, err)
		assert.True(t, shared.IsValidation(err), "%+v: %v", cmd, err)
		assert.Error(t, cmd.Validate())
	}

	assert.Equal(t, 0, store.Len())
	assert.Empty(t, pub.types())
}

func TestCompleteSession_StreakAcrossDays(t *testing.T) {
	store := memory.NewStore()
	pub := &recordingPublisher{}
	h := newHandler(newEngine(t), store, pub)
	ctx := context.Background()

	_, err := h.Handle(ctx, hourAt("u1", morning))
	require.NoError(t, err)
	res, err := h.Handle(ctx, hourAt("u1", morning.Add(24*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Progress.CurrentStreak)

	pub.events = nil
	res, err = h.Handle(ctx, hourAt("u1", morning.Add(5*24*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Progress.CurrentStreak)
	assert.Equal(t, 2, res.Progress.LongestStreak)
	assert.Contains(t, pub.types(), shared.EventStreakBroken)

	broken := pub.events[2].(shared.StreakBrokenEvent)
	assert.Equal(t, 2, broken.PreviousStreak)
	assert.Equal(t, 3, broken.DaysMissed)
}

// interferingStore lets a competing writer commit right before the first
// Commit of the handler under test.
type interferingStore struct {
	*memory.Store
	once      sync.Once
	interfere func()
}

func (s *interferingStore) Commit(ctx context.Context, p *progress.UserProgress, expected int64) error {
	s.once.Do(s.interfere)
	return s.Store.Commit(ctx, p, expected)
}

func TestCompleteSession_ConflictRerunsWholePipeline(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)
	inner := memory.NewStore()

	store := &interferingStore{Store: inner}
	store.interfere = func() {
		out, err := engine.Apply(nil, hourAt("u1", morning.Add(-time.Hour)).session())
		require.NoError(t, err)
		require.NoError(t, inner.Commit(ctx, out.Progress, out.ExpectedVersion))
	}

	res, err := newHandler(engine, store, nil).Handle(ctx, hourAt("u1", morning))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)

	// second run saw the competing session: same day, no first-of-day bonus
	assert.Equal(t, int64(35), res.XPGained)
	assert.Equal(t, int64(95), res.Progress.XP)
	assert.Equal(t, int64(2), res.Progress.TotalSessions)
	assert.Equal(t, int64(2), res.Progress.Version)
}

type conflictStore struct {
	*memory.Store
	commits int
}

func (s *conflictStore) Commit(context.Context, *progress.UserProgress, int64) error {
	s.commits++
	return shared.ErrVersionConflict
}

func TestCompleteSession_ExhaustedConflicts(t *testing.T) {
	store := &conflictStore{Store: memory.NewStore()}
	pub := &recordingPublisher{}
	cfg := DefaultCompleteSessionHandlerConfig()
	cfg.MaxAttempts = 3
	cfg.Sleep = noSleep
	h := NewCompleteSessionHandler(newEngine(t), store, pub, nil, cfg)

	_, err := h.Handle(context.Background(), hourAt("u1", morning))
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrRetriesExhausted)
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.False(t, shared.IsValidation(err))
	assert.Equal(t, 3, store.commits)
	assert.Empty(t, pub.types())
}

type failingStore struct{ err error }

func (s failingStore) Get(context.Context, string) (*progress.UserProgress, error) {
	return nil, s.err
}

func (s failingStore) Commit(context.Context, *progress.UserProgress, int64) error {
	return s.err
}

func TestCompleteSession_StoreFailureIsNotRetried(t *testing.T) {
	h := newHandler(newEngine(t), failingStore{err: errors.New("connection reset")}, nil)

	_, err := h.Handle(context.Background(), hourAt("u1", morning))
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.NotErrorIs(t, err, shared.ErrRetriesExhausted)
}

func TestCompleteSession_ConcurrentWritersLoseNothing(t *testing.T) {
	store := memory.NewStore()
	engine := newEngine(t)
	cfg := DefaultCompleteSessionHandlerConfig()
	cfg.MaxAttempts = 50
	cfg.InitialBackoff = time.Microsecond
	cfg.MaxBackoff = time.Millisecond
	h := NewCompleteSessionHandler(engine, store, nil, nil, cfg)

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.Handle(context.Background(), hourAt("u1", morning.Add(time.Duration(i)*time.Minute)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	p, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(writers), p.TotalSessions)
	assert.Equal(t, int64(writers), p.Version)
	assert.Equal(t, int64(writers)*3600, p.TotalDurationSeconds)
	// one first-of-day bonus, every session earns 10 + 25
	assert.Equal(t, int64(writers*35+25), p.XP)
	assert.Equal(t, int64(1), p.FirstSessionOfDayCount)
}
