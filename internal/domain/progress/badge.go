package progress

import (
	"fmt"
	"sort"
	"time"

	"github.com/alem-hub/study-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// BADGE DEFINITIONS
// ══════════════════════════════════════════════════════════════════════════════

// Category - категория значка.
type Category string

const (
	CategoryTime        Category = "time"
	CategorySessions    Category = "sessions"
	CategoryStreak      Category = "streak"
	CategoryLevel       Category = "level"
	CategoryHabit       Category = "habit"
	CategoryExploration Category = "exploration"
)

// Rarity - редкость значка.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityUncommon  Rarity = "uncommon"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// IsValid проверяет, что редкость известна.
func (r Rarity) IsValid() bool {
	switch r {
	case RarityCommon, RarityUncommon, RarityRare, RarityEpic, RarityLegendary:
		return true
	}
	return false
}

// Badge - неизменяемое определение значка из каталога.
type Badge struct {
	ID          string
	Name        string
	Description string
	Category    Category
	Rarity      Rarity
	XPReward    int64
	Condition   Condition
}

// ══════════════════════════════════════════════════════════════════════════════
// CONDITIONS (закрытый вариант)
// ══════════════════════════════════════════════════════════════════════════════

// Condition - условие открытия значка. Набор реализаций закрыт:
// FieldThreshold, SetCardinality, DailySessions, LongSession, ClockWindow.
type Condition interface {
	// Kind возвращает имя вида условия, как оно записано в каталоге.
	Kind() string

	// satisfied проверяет условие по агрегату. Ошибка - нерешаемое имя поля.
	satisfied(p *UserProgress) (bool, error)
}

// Виды условий.
const (
	KindFieldThreshold = "field_threshold"
	KindSetCardinality = "set_cardinality"
	KindDailySessions  = "daily_sessions"
	KindLongSession    = "long_session"
	KindClockWindow    = "clock_window"
)

// numericFields - числовые поля агрегата, доступные FieldThreshold.
var numericFields = map[string]func(p *UserProgress) int64{
	"xp":                         func(p *UserProgress) int64 { return p.XP },
	"level":                      func(p *UserProgress) int64 { return int64(p.Level) },
	"currentStreak":              func(p *UserProgress) int64 { return int64(p.CurrentStreak) },
	"longestStreak":              func(p *UserProgress) int64 { return int64(p.LongestStreak) },
	"totalDurationSeconds":       func(p *UserProgress) int64 { return p.TotalDurationSeconds },
	"totalSessions":              func(p *UserProgress) int64 { return p.TotalSessions },
	"longestSessionSeconds":      func(p *UserProgress) int64 { return p.LongestSessionSeconds },
	"firstSessionOfDayCount":     func(p *UserProgress) int64 { return p.FirstSessionOfDayCount },
	"sessionsBeforeNoonCount":    func(p *UserProgress) int64 { return p.SessionsBeforeNoonCount },
	"sessionsAfterMidnightCount": func(p *UserProgress) int64 { return p.SessionsAfterMidnightCount },
	"maxSessionsInOneDay":        func(p *UserProgress) int64 { return p.MaxSessionsInOneDay },
}

// setFields - множества агрегата, доступные SetCardinality.
var setFields = map[string]func(p *UserProgress) int{
	"activityTypes":  func(p *UserProgress) int { return len(p.ActivityTypes) },
	"unlockedBadges": func(p *UserProgress) int { return len(p.UnlockedBadgeIDs) },
}

// NumericFieldNames возвращает имена полей для FieldThreshold.
func NumericFieldNames() []string {
	return sortedKeys(numericFields)
}

// SetFieldNames возвращает имена множеств для SetCardinality.
func SetFieldNames() []string {
	return sortedKeys(setFields)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// FieldThreshold: числовое поле агрегата >= AtLeast.
type FieldThreshold struct {
	Field   string
	AtLeast int64
}

func (FieldThreshold) Kind() string { return KindFieldThreshold }

func (c FieldThreshold) satisfied(p *UserProgress) (bool, error) {
	get, ok := numericFields[c.Field]
	if !ok {
		return false, fmt.Errorf("unknown field %q", c.Field)
	}
	return get(p) >= c.AtLeast, nil
}

// SetCardinality: мощность множества агрегата >= AtLeast.
type SetCardinality struct {
	Set     string
	AtLeast int
}

func (SetCardinality) Kind() string { return KindSetCardinality }

func (c SetCardinality) satisfied(p *UserProgress) (bool, error) {
	size, ok := setFields[c.Set]
	if !ok {
		return false, fmt.Errorf("unknown set %q", c.Set)
	}
	return size(p) >= c.AtLeast, nil
}

// DailySessions: не меньше AtLeast сессий за один календарный день.
type DailySessions struct {
	AtLeast int64
}

func (DailySessions) Kind() string { return KindDailySessions }

func (c DailySessions) satisfied(p *UserProgress) (bool, error) {
	return p.MaxSessionsInOneDay >= c.AtLeast, nil
}

// LongSession: хотя бы одна сессия длиной не меньше AtLeastSeconds.
type LongSession struct {
	AtLeastSeconds int64
}

func (LongSession) Kind() string { return KindLongSession }

func (c LongSession) satisfied(p *UserProgress) (bool, error) {
	return p.LongestSessionSeconds >= c.AtLeastSeconds, nil
}

// ClockWindow - окно времени суток по моменту завершения сессии.
type ClockWindow struct {
	Window  Window
	AtLeast int64
}

// Window - именованное окно времени суток в эталонной зоне.
type Window string

const (
	// WindowBeforeNoon - до 12:00.
	WindowBeforeNoon Window = "beforeNoon"

	// WindowAfterMidnight - с 00:00 до 05:00.
	WindowAfterMidnight Window = "afterMidnight"
)

func (ClockWindow) Kind() string { return KindClockWindow }

func (c ClockWindow) satisfied(p *UserProgress) (bool, error) {
	switch c.Window {
	case WindowBeforeNoon:
		return p.SessionsBeforeNoonCount >= c.AtLeast, nil
	case WindowAfterMidnight:
		return p.SessionsAfterMidnightCount >= c.AtLeast, nil
	default:
		return false, fmt.Errorf("unknown clock window %q", c.Window)
	}
}

// CheckCondition проверяет, что условие ссылается только на существующие
// поля. Вычисляется на пустом агрегате.
func CheckCondition(c Condition) error {
	if c == nil {
		return fmt.Errorf("missing condition")
	}
	_, err := c.satisfied(NewUserProgress("", time.Time{}))
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// Catalog - неизменяемый упорядоченный список значков. Загружается один раз
// при старте и разделяется между всеми горутинами только на чтение.
type Catalog struct {
	badges []Badge
	byID   map[string]int
}

// NewCatalog проверяет структуру каталога: пустые и повторные id, отсутствие
// условия, отрицательная награда, неизвестная редкость. Нерешаемые имена полей
// структурной ошибкой не считаются - такие значки пропускаются при оценке.
func NewCatalog(badges []Badge) (*Catalog, error) {
	c := &Catalog{
		badges: make([]Badge, 0, len(badges)),
		byID:   make(map[string]int, len(badges)),
	}
	for i, b := range badges {
		switch {
		case b.ID == "":
			return nil, fmt.Errorf("catalog: badge #%d has empty id", i)
		case b.Condition == nil:
			return nil, fmt.Errorf("catalog: badge %q has no condition", b.ID)
		case b.XPReward < 0:
			return nil, fmt.Errorf("catalog: badge %q has negative reward", b.ID)
		case b.Rarity != "" && !b.Rarity.IsValid():
			return nil, fmt.Errorf("catalog: badge %q has unknown rarity %q", b.ID, b.Rarity)
		}
		if _, dup := c.byID[b.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate badge id %q", b.ID)
		}
		if b.Rarity == "" {
			b.Rarity = RarityCommon
		}
		c.byID[b.ID] = len(c.badges)
		c.badges = append(c.badges, b)
	}
	return c, nil
}

// Badges возвращает копию списка в порядке каталога.
func (c *Catalog) Badges() []Badge {
	return append([]Badge(nil), c.badges...)
}

// Len - размер каталога.
func (c *Catalog) Len() int {
	return len(c.badges)
}

// Get возвращает значок по id.
func (c *Catalog) Get(id string) (Badge, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Badge{}, false
	}
	return c.badges[i], true
}

// Check возвращает CatalogError для каждого значка с нерешаемым условием.
func (c *Catalog) Check() []*shared.CatalogError {
	var errs []*shared.CatalogError
	for _, b := range c.badges {
		if err := CheckCondition(b.Condition); err != nil {
			errs = append(errs, &shared.CatalogError{BadgeID: b.ID, Reason: err.Error()})
		}
	}
	return errs
}
