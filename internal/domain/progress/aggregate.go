package progress

import (
	"sort"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER PROGRESS AGGREGATE
// ══════════════════════════════════════════════════════════════════════════════

// UserProgress - единственный агрегат движка, по одному на пользователя.
// Создаётся лениво при первой завершённой сессии и никогда не удаляется.
type UserProgress struct {
	// UserID - идентификатор владельца.
	UserID string `json:"user_id"`

	// XP - накопленный опыт, только растёт.
	XP int64 `json:"xp"`

	// Level - всегда CalculateLevel(XP); хранится только для чтения.
	Level int `json:"level"`

	// CurrentStreak - текущая серия календарных дней.
	CurrentStreak int `json:"current_streak"`

	// LongestStreak - лучшая серия за всё время.
	LongestStreak int `json:"longest_streak"`

	// LastActivityDate - гражданская дата последней активности (полночь UTC).
	LastActivityDate time.Time `json:"last_activity_date"`

	// TotalDurationSeconds - суммарная длительность сессий.
	TotalDurationSeconds int64 `json:"total_duration_seconds"`

	// TotalSessions - количество завершённых сессий.
	TotalSessions int64 `json:"total_sessions"`

	// UnlockedBadgeIDs - открытые значки в порядке открытия.
	UnlockedBadgeIDs []string `json:"unlocked_badge_ids"`

	// BadgeUnlockedAt - время открытия каждого значка.
	BadgeUnlockedAt map[string]time.Time `json:"badge_unlocked_at"`

	// ActivityTypes - отсортированное множество меток активности.
	ActivityTypes []string `json:"activity_types"`

	// LongestSessionSeconds - самая длинная сессия.
	LongestSessionSeconds int64 `json:"longest_session_seconds"`

	// FirstSessionOfDayCount - сколько раз сессия была первой за день.
	FirstSessionOfDayCount int64 `json:"first_session_of_day_count"`

	// SessionsBeforeNoonCount - сессии, завершённые до 12:00.
	SessionsBeforeNoonCount int64 `json:"sessions_before_noon_count"`

	// SessionsAfterMidnightCount - сессии, завершённые между 00:00 и 05:00.
	SessionsAfterMidnightCount int64 `json:"sessions_after_midnight_count"`

	// SessionsOnLastActiveDay - сессии за LastActivityDate.
	SessionsOnLastActiveDay int64 `json:"sessions_on_last_active_day"`

	// MaxSessionsInOneDay - рекорд сессий за один календарный день.
	MaxSessionsInOneDay int64 `json:"max_sessions_in_one_day"`

	// Version - счётчик для optimistic concurrency. 0 - запись ещё не создана.
	Version int64 `json:"version"`

	// CreatedAt, UpdatedAt - служебные метки.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewUserProgress создаёт пустой агрегат версии 0.
func NewUserProgress(userID string, now time.Time) *UserProgress {
	return &UserProgress{
		UserID:          userID,
		Level:           MinLevel,
		BadgeUnlockedAt: make(map[string]time.Time),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Clone возвращает глубокую копию. Конвейер никогда не мутирует снимок,
// прочитанный из хранилища.
func (p *UserProgress) Clone() *UserProgress {
	if p == nil {
		return nil
	}
	c := *p
	c.UnlockedBadgeIDs = append([]string(nil), p.UnlockedBadgeIDs...)
	c.ActivityTypes = append([]string(nil), p.ActivityTypes...)
	c.BadgeUnlockedAt = make(map[string]time.Time, len(p.BadgeUnlockedAt))
	for id, at := range p.BadgeUnlockedAt {
		c.BadgeUnlockedAt[id] = at
	}
	return &c
}

// HasBadge проверяет, открыт ли значок.
func (p *UserProgress) HasBadge(id string) bool {
	if _, ok := p.BadgeUnlockedAt[id]; ok {
		return true
	}
	for _, b := range p.UnlockedBadgeIDs {
		if b == id {
			return true
		}
	}
	return false
}

// HasActivityType проверяет наличие метки в множестве.
func (p *UserProgress) HasActivityType(label string) bool {
	i := sort.SearchStrings(p.ActivityTypes, label)
	return i < len(p.ActivityTypes) && p.ActivityTypes[i] == label
}

// LevelProgress - процент пути к следующему уровню.
func (p *UserProgress) LevelProgress() float64 {
	return LevelProgress(p.XP)
}

// XPToNextLevel - недостающий XP до следующего уровня.
func (p *UserProgress) XPToNextLevel() int64 {
	return XPToNextLevel(p.XP)
}

// addActivityType вставляет метку, сохраняя сортировку и уникальность.
func (p *UserProgress) addActivityType(label string) bool {
	i := sort.SearchStrings(p.ActivityTypes, label)
	if i < len(p.ActivityTypes) && p.ActivityTypes[i] == label {
		return false
	}
	p.ActivityTypes = append(p.ActivityTypes, "")
	copy(p.ActivityTypes[i+1:], p.ActivityTypes[i:])
	p.ActivityTypes[i] = label
	return true
}

// unlockBadge открывает значок. Повторное открытие ничего не меняет.
func (p *UserProgress) unlockBadge(id string, at time.Time) bool {
	if p.HasBadge(id) {
		return false
	}
	if p.BadgeUnlockedAt == nil {
		p.BadgeUnlockedAt = make(map[string]time.Time)
	}
	p.UnlockedBadgeIDs = append(p.UnlockedBadgeIDs, id)
	p.BadgeUnlockedAt[id] = at
	return true
}

// setXP записывает XP и сразу выводит из него уровень.
func (p *UserProgress) setXP(xp int64) {
	p.XP = xp
	p.Level = CalculateLevel(xp)
}

// Normalize приводит загруженный из хранилища агрегат к инвариантам:
// уровень выводится из XP, множество меток отсортировано, карта не nil.
func (p *UserProgress) Normalize() {
	if p.XP < 0 {
		p.XP = 0
	}
	p.Level = CalculateLevel(p.XP)
	if p.BadgeUnlockedAt == nil {
		p.BadgeUnlockedAt = make(map[string]time.Time)
	}
	if !sort.StringsAreSorted(p.ActivityTypes) {
		sort.Strings(p.ActivityTypes)
	}
}
