package eventhandler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-progress/internal/domain/shared"
	"github.com/alem-hub/study-progress/internal/infrastructure/messaging"
)

type recordingAnnouncer struct {
	mu  sync.Mutex
	got []Announcement
	err error
}

func (r *recordingAnnouncer) Announce(_ context.Context, a Announcement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, a)
	return r.err
}

// mapEvent mimics an event decoded from the wire: numbers arrive as float64.
type mapEvent struct {
	id      string
	typ     shared.EventType
	payload map[string]interface{}
}

func (e mapEvent) EventID() string                 { return e.id }
func (e mapEvent) EventType() shared.EventType     { return e.typ }
func (e mapEvent) OccurredAt() time.Time           { return time.Time{} }
func (e mapEvent) AggregateID() string             { return "u1" }
func (e mapEvent) Payload() map[string]interface{} { return e.payload }

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestOnProgressChanged_ViaBus(t *testing.T) {
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{Logger: quiet})
	defer bus.Close()

	rec := &recordingAnnouncer{}
	h := NewOnProgressChangedHandler(rec, quiet)
	require.NoError(t, h.Register(bus))

	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	events := []shared.Event{
		shared.LevelUpEvent{BaseEvent: shared.NewBaseEvent(shared.EventLevelUp, "u1", 1, at), UserID: "u1", OldLevel: 1, NewLevel: 3, LevelsGained: 2},
		shared.BadgeUnlockedEvent{BaseEvent: shared.NewBaseEvent(shared.EventBadgeUnlocked, "u1", 1, at), UserID: "u1", BadgeID: "first_steps", Name: "First Steps", Rarity: "common", XPReward: 50},
		shared.StreakUpdatedEvent{BaseEvent: shared.NewBaseEvent(shared.EventStreakUpdated, "u1", 1, at), UserID: "u1", CurrentStreak: 2, LongestStreak: 2},
		shared.StreakUpdatedEvent{BaseEvent: shared.NewBaseEvent(shared.EventStreakUpdated, "u1", 2, at), UserID: "u1", CurrentStreak: 7, LongestStreak: 7, Milestone: 7},
		shared.XPGainedEvent{BaseEvent: shared.NewBaseEvent(shared.EventXPGained, "u1", 1, at), UserID: "u1", Amount: 65},
	}
	for _, e := range events {
		require.NoError(t, bus.Publish(e))
	}

	require.Len(t, rec.got, 3)
	assert.Equal(t, AnnouncementLevelUp, rec.got[0].Kind)
	assert.Equal(t, "Reached level 3", rec.got[0].Text)
	assert.Equal(t, `Unlocked badge "First Steps" (common), +50 XP`, rec.got[1].Text)
	assert.Equal(t, AnnouncementStreakMilestone, rec.got[2].Kind)
	assert.Equal(t, "7-day streak", rec.got[2].Text)
	assert.Equal(t, at, rec.got[2].OccurredAt)
}

func TestOnProgressChanged_DecodedPayload(t *testing.T) {
	rec := &recordingAnnouncer{}
	h := NewOnProgressChangedHandler(rec, quiet)

	e := mapEvent{id: "e1", typ: shared.EventStreakBroken, payload: map[string]interface{}{
		"previous_streak": float64(12),
		"days_missed":     float64(3),
	}}
	require.NoError(t, h.Handle(e))
	require.NoError(t, h.Handle(e), "redelivery is ignored")

	require.Len(t, rec.got, 1)
	assert.Equal(t, AnnouncementStreakBroken, rec.got[0].Kind)
	assert.Equal(t, "Streak of 12 days ended after 3 missed days", rec.got[0].Text)
	assert.Equal(t, "u1", rec.got[0].UserID)
}

func TestOnProgressChanged_AnnouncerError(t *testing.T) {
	rec := &recordingAnnouncer{err: errors.New("channel down")}
	h := NewOnProgressChangedHandler(rec, quiet)

	err := h.Handle(mapEvent{id: "e2", typ: shared.EventLevelUp, payload: map[string]interface{}{"new_level": 4}})
	assert.EqualError(t, err, "channel down")
}
