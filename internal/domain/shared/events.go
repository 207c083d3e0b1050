package shared

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Event types. Every event is published after the aggregate commit succeeded,
// so a subscriber never sees state that was rolled back.
const (
	EventSessionCompleted EventType = "progress.session_completed"
	EventXPGained         EventType = "progress.xp_gained"
	EventLevelUp          EventType = "progress.level_up"
	EventStreakUpdated    EventType = "progress.streak_updated"
	EventStreakBroken     EventType = "progress.streak_broken"
	EventBadgeUnlocked    EventType = "progress.badge_unlocked"
)

// Event is what the bus carries. AggregateID is the user id. Payload is the
// only view that survives the Redis round trip, so subscribers read it rather
// than type-asserting the concrete event.
type Event interface {
	EventID() string
	EventType() EventType
	OccurredAt() time.Time
	AggregateID() string
	Payload() map[string]interface{}
}

// BaseEvent carries the envelope fields. Version is the aggregate version the
// event was committed with; Timestamp is the commit time.
type BaseEvent struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int64     `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func (e BaseEvent) EventID() string       { return e.ID }
func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() string   { return e.AggregateId }

// NewBaseEvent stamps a fresh random id.
func NewBaseEvent(eventType EventType, aggregateID string, version int64, occurredAt time.Time) BaseEvent {
	return BaseEvent{
		ID:          uuid.NewString(),
		Type:        eventType,
		Timestamp:   occurredAt,
		AggregateId: aggregateID,
		Version:     version,
	}
}

// WithCorrelationID ties the event to the session that caused it.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// SessionCompletedEvent is emitted once per accepted work session.
type SessionCompletedEvent struct {
	BaseEvent
	UserID          string    `json:"user_id"`
	DurationSeconds int64     `json:"duration_seconds"`
	ActivityLabel   string    `json:"activity_label"`
	CompletedAt     time.Time `json:"completed_at"`
	XPGained        int64     `json:"xp_gained"`
}

func (e SessionCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":          e.UserID,
		"duration_seconds": e.DurationSeconds,
		"activity_label":   e.ActivityLabel,
		"completed_at":     e.CompletedAt,
		"xp_gained":        e.XPGained,
	}
}

// XP sources.
const (
	XPSourceSession = "session"
	XPSourceBadges  = "badges"
)

// XPGainedEvent is emitted per XP source: the session itself, then badge rewards.
type XPGainedEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	Amount   int64  `json:"amount"`
	NewTotal int64  `json:"new_total"`
	Source   string `json:"source"`
}

func (e XPGainedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"amount":    e.Amount,
		"new_total": e.NewTotal,
		"source":    e.Source,
	}
}

// LevelUpEvent is emitted when the derived level increases.
type LevelUpEvent struct {
	BaseEvent
	UserID       string `json:"user_id"`
	OldLevel     int    `json:"old_level"`
	NewLevel     int    `json:"new_level"`
	LevelsGained int    `json:"levels_gained"`
}

func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":       e.UserID,
		"old_level":     e.OldLevel,
		"new_level":     e.NewLevel,
		"levels_gained": e.LevelsGained,
	}
}

// StreakUpdatedEvent is emitted on the first session of a new civil day.
type StreakUpdatedEvent struct {
	BaseEvent
	UserID        string `json:"user_id"`
	CurrentStreak int    `json:"current_streak"`
	LongestStreak int    `json:"longest_streak"`
	Milestone     int    `json:"milestone,omitempty"`
}

func (e StreakUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.UserID,
		"current_streak": e.CurrentStreak,
		"longest_streak": e.LongestStreak,
		"milestone":      e.Milestone,
	}
}

// StreakBrokenEvent is emitted when a gap resets a running streak.
type StreakBrokenEvent struct {
	BaseEvent
	UserID         string `json:"user_id"`
	PreviousStreak int    `json:"previous_streak"`
	DaysMissed     int    `json:"days_missed"`
}

func (e StreakBrokenEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":         e.UserID,
		"previous_streak": e.PreviousStreak,
		"days_missed":     e.DaysMissed,
	}
}

// BadgeUnlockedEvent is emitted for every badge unlocked by a session.
type BadgeUnlockedEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	BadgeID  string `json:"badge_id"`
	Name     string `json:"name"`
	Rarity   string `json:"rarity"`
	XPReward int64  `json:"xp_reward"`
}

func (e BadgeUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"badge_id":  e.BadgeID,
		"name":      e.Name,
		"rarity":    e.Rarity,
		"xp_reward": e.XPReward,
	}
}

// EventHandler consumes one event. Its error is logged by the bus and never
// reaches the publisher.
type EventHandler func(event Event) error

type EventPublisher interface {
	Publish(event Event) error
}

// EventSubscriber registers handlers per type, or for every type.
type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

// EventBus is both ends.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
