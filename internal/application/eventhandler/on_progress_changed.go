// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alem-hub/study-progress/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON PROGRESS CHANGED HANDLER
// Превращает события прогресса в короткие объявления для пользователя:
// новый уровень, открытый значок, веха серии, потерянная серия.
//
// Обработчик читает только Payload(), поэтому одинаково работает и с
// локальными событиями, и с событиями, пришедшими из Redis (там числа
// приходят как float64).
// ═══════════════════════════════════════════════════════════════════════════

// AnnouncementKind - тип объявления.
type AnnouncementKind string

const (
	AnnouncementLevelUp         AnnouncementKind = "level_up"
	AnnouncementBadgeUnlocked   AnnouncementKind = "badge_unlocked"
	AnnouncementStreakMilestone AnnouncementKind = "streak_milestone"
	AnnouncementStreakBroken    AnnouncementKind = "streak_broken"
)

// Announcement - сообщение для канала уведомлений.
type Announcement struct {
	EventID    string
	UserID     string
	Kind       AnnouncementKind
	Text       string
	OccurredAt time.Time
}

// Announcer доставляет объявления (Telegram, push, лог).
type Announcer interface {
	Announce(ctx context.Context, a Announcement) error
}

// LogAnnouncer пишет объявления в лог. Используется, пока нет внешнего канала.
type LogAnnouncer struct {
	logger *slog.Logger
}

// NewLogAnnouncer создаёт LogAnnouncer.
func NewLogAnnouncer(logger *slog.Logger) *LogAnnouncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAnnouncer{logger: logger.With("component", "announcer")}
}

// Announce реализует Announcer.
func (l *LogAnnouncer) Announce(_ context.Context, a Announcement) error {
	l.logger.Info("announcement",
		"user_id", a.UserID,
		"kind", string(a.Kind),
		"text", a.Text,
		"event_id", a.EventID,
	)
	return nil
}

// OnProgressChangedHandler обрабатывает события прогресса.
type OnProgressChangedHandler struct {
	announcer Announcer
	logger    *slog.Logger
	timeout   time.Duration

	// Дедупликация: одно событие может прийти дважды при повторной доставке.
	mu   sync.Mutex
	seen map[string]struct{}
	ring []string
}

// dedupWindow - сколько последних event id помнит обработчик.
const dedupWindow = 1024

// NewOnProgressChangedHandler создаёт обработчик.
func NewOnProgressChangedHandler(announcer Announcer, logger *slog.Logger) *OnProgressChangedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if announcer == nil {
		announcer = NewLogAnnouncer(logger)
	}
	return &OnProgressChangedHandler{
		announcer: announcer,
		logger:    logger.With("handler", "on_progress_changed"),
		timeout:   5 * time.Second,
		seen:      make(map[string]struct{}, dedupWindow),
	}
}

// Register подписывает обработчик на нужные типы событий.
func (h *OnProgressChangedHandler) Register(bus shared.EventSubscriber) error {
	for _, t := range []shared.EventType{
		shared.EventLevelUp,
		shared.EventBadgeUnlocked,
		shared.EventStreakUpdated,
		shared.EventStreakBroken,
	} {
		if err := bus.Subscribe(t, h.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}

// Handle реализует shared.EventHandler.
func (h *OnProgressChangedHandler) Handle(event shared.Event) error {
	if h.duplicate(event.EventID()) {
		return nil
	}

	a, ok := announcementFor(event)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.announcer.Announce(ctx, a); err != nil {
		h.logger.Warn("announcement failed",
			"event_type", string(event.EventType()),
			"user_id", a.UserID,
			"error", err,
		)
		return err
	}
	return nil
}

// duplicate запоминает id и сообщает, встречался ли он раньше.
func (h *OnProgressChangedHandler) duplicate(id string) bool {
	if id == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.seen[id]; ok {
		return true
	}
	if len(h.ring) >= dedupWindow {
		delete(h.seen, h.ring[0])
		h.ring = h.ring[1:]
	}
	h.seen[id] = struct{}{}
	h.ring = append(h.ring, id)
	return false
}

// announcementFor строит объявление по событию. Вторым значением
// возвращает false, если событие объявлять не нужно.
func announcementFor(event shared.Event) (Announcement, bool) {
	p := event.Payload()
	a := Announcement{
		EventID:    event.EventID(),
		UserID:     event.AggregateID(),
		OccurredAt: event.OccurredAt(),
	}

	switch event.EventType() {
	case shared.EventLevelUp:
		a.Kind = AnnouncementLevelUp
		a.Text = fmt.Sprintf("Reached level %d", payloadInt(p, "new_level"))

	case shared.EventBadgeUnlocked:
		a.Kind = AnnouncementBadgeUnlocked
		name, _ := p["name"].(string)
		if name == "" {
			name, _ = p["badge_id"].(string)
		}
		rarity, _ := p["rarity"].(string)
		a.Text = fmt.Sprintf("Unlocked badge %q", name)
		if rarity != "" {
			a.Text += " (" + rarity + ")"
		}
		if reward := payloadInt(p, "xp_reward"); reward > 0 {
			a.Text += fmt.Sprintf(", +%d XP", reward)
		}

	case shared.EventStreakUpdated:
		milestone := payloadInt(p, "milestone")
		if milestone <= 0 {
			return a, false
		}
		a.Kind = AnnouncementStreakMilestone
		a.Text = fmt.Sprintf("%d-day streak", milestone)

	case shared.EventStreakBroken:
		a.Kind = AnnouncementStreakBroken
		a.Text = fmt.Sprintf("Streak of %d days ended after %d missed days",
			payloadInt(p, "previous_streak"), payloadInt(p, "days_missed"))

	default:
		return a, false
	}
	return a, true
}

// payloadInt читает целое из Payload независимо от того, как оно было
// декодировано.
func payloadInt(p map[string]interface{}, key string) int64 {
	switch v := p[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}
