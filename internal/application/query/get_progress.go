// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"sort"
	"time"

	"github.com/alem-hub/study-progress/internal/domain/progress"
	"github.com/alem-hub/study-progress/internal/domain/shared"
	"github.com/alem-hub/study-progress/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS QUERY
// Карточка прогресса пользователя для презентационных коллабораторов:
// уровень, путь до следующего уровня, серия и значки.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressQuery содержит параметры запроса.
type GetProgressQuery struct {
	// UserID - владелец агрегата.
	UserID string

	// IncludeLocked - добавить ещё не открытые значки каталога.
	IncludeLocked bool
}

// Validate проверяет корректность параметров.
func (q GetProgressQuery) Validate() error {
	if _, err := shared.NewUserID(q.UserID); err != nil {
		return shared.WrapError("query", "GetProgress", shared.ErrValidation, "userId", err)
	}
	return nil
}

// BadgeDTO - значок в карточке.
type BadgeDTO struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Category    string     `json:"category,omitempty"`
	Rarity      string     `json:"rarity"`
	XPReward    int64      `json:"xp_reward"`
	Unlocked    bool       `json:"unlocked"`
	UnlockedAt  *time.Time `json:"unlocked_at,omitempty"`
}

// StreakDTO - состояние серии на момент запроса.
type StreakDTO struct {
	// Current - сохранённая серия.
	Current int `json:"current"`

	// Effective - серия с учётом пропущенных дней (0, если серия уже прервана).
	Effective int `json:"effective"`

	// Longest - лучшая серия.
	Longest int `json:"longest"`

	// LastActivityDate - дата последней активности (YYYY-MM-DD).
	LastActivityDate string `json:"last_activity_date,omitempty"`

	// ActiveToday - сегодня уже была сессия.
	ActiveToday bool `json:"active_today"`

	// AtRisk - серия прервётся, если сегодня не будет сессии.
	AtRisk bool `json:"at_risk"`
}

// ProgressDTO - карточка прогресса.
type ProgressDTO struct {
	UserID        string  `json:"user_id"`
	XP            int64   `json:"xp"`
	Level         int     `json:"level"`
	LevelProgress float64 `json:"level_progress"`
	XPToNextLevel int64   `json:"xp_to_next_level"`
	NextLevelXP   int64   `json:"next_level_xp,omitempty"`

	Streak StreakDTO `json:"streak"`

	TotalSessions         int64    `json:"total_sessions"`
	TotalDurationSeconds  int64    `json:"total_duration_seconds"`
	TotalDuration         string   `json:"total_duration"`
	LongestSessionSeconds int64    `json:"longest_session_seconds"`
	ActivityTypes         []string `json:"activity_types"`

	Badges         []BadgeDTO `json:"badges"`
	UnlockedBadges int        `json:"unlocked_badges"`
	TotalBadges    int        `json:"total_badges"`

	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// Clock - источник текущего времени.
type Clock interface {
	Now() time.Time
}

// GetProgressHandler обрабатывает GetProgressQuery.
type GetProgressHandler struct {
	store   progress.Store
	catalog *progress.Catalog
	loc     *time.Location
	clock   Clock
}

// NewGetProgressHandler создаёт новый обработчик.
func NewGetProgressHandler(store progress.Store, catalog *progress.Catalog, loc *time.Location, clock Clock) *GetProgressHandler {
	if loc == nil {
		loc = time.UTC
	}
	if catalog == nil {
		catalog, _ = progress.NewCatalog(nil)
	}
	return &GetProgressHandler{store: store, catalog: catalog, loc: loc, clock: clock}
}

// Handle выполняет запрос. Если агрегата нет, возвращает ошибку с
// shared.ErrNotFound.
func (h *GetProgressHandler) Handle(ctx context.Context, q GetProgressQuery) (*ProgressDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	p, err := h.store.Get(ctx, q.UserID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, shared.WrapError("query", "GetProgress", shared.ErrNotFound, "user has no progress yet", err)
		}
		return nil, shared.WrapError("query", "GetProgress", shared.ErrServiceUnavailable, "failed to load progress", err)
	}
	p.Normalize()

	dto := &ProgressDTO{
		UserID:                p.UserID,
		XP:                    p.XP,
		Level:                 p.Level,
		LevelProgress:         p.LevelProgress(),
		XPToNextLevel:         p.XPToNextLevel(),
		Streak:                h.streak(p),
		TotalSessions:         p.TotalSessions,
		TotalDurationSeconds:  p.TotalDurationSeconds,
		TotalDuration:         timeutil.FormatDuration(p.TotalDurationSeconds),
		LongestSessionSeconds: p.LongestSessionSeconds,
		ActivityTypes:         append([]string{}, p.ActivityTypes...),
		UnlockedBadges:        len(p.UnlockedBadgeIDs),
		TotalBadges:           h.catalog.Len(),
		Version:               p.Version,
		UpdatedAt:             p.UpdatedAt,
	}
	if p.Level < progress.MaxLevel {
		dto.NextLevelXP = progress.XPForLevel(p.Level + 1)
	}
	dto.Badges = h.badges(p, q.IncludeLocked)

	return dto, nil
}

// streak вычисляет состояние серии относительно сегодняшнего дня.
func (h *GetProgressHandler) streak(p *progress.UserProgress) StreakDTO {
	s := StreakDTO{Current: p.CurrentStreak, Longest: p.LongestStreak}
	if p.LastActivityDate.IsZero() {
		return s
	}
	s.LastActivityDate = timeutil.FormatDate(p.LastActivityDate)

	today := timeutil.DateOf(h.now(), h.loc)
	switch days := timeutil.DaysBetween(p.LastActivityDate, today); {
	case days <= 0:
		s.ActiveToday = true
		s.Effective = p.CurrentStreak
	case days == 1:
		s.AtRisk = p.CurrentStreak > 0
		s.Effective = p.CurrentStreak
	default:
		s.Effective = 0
	}
	return s
}

// badges - открытые значки в порядке открытия, затем закрытые по возрастанию награды.
func (h *GetProgressHandler) badges(p *progress.UserProgress, includeLocked bool) []BadgeDTO {
	out := make([]BadgeDTO, 0, len(p.UnlockedBadgeIDs))
	for _, id := range p.UnlockedBadgeIDs {
		dto := BadgeDTO{ID: id, Name: id, Unlocked: true, Rarity: string(progress.RarityCommon)}
		if b, ok := h.catalog.Get(id); ok {
			dto = badgeDTO(b)
			dto.Unlocked = true
		}
		if at, ok := p.BadgeUnlockedAt[id]; ok {
			at := at
			dto.UnlockedAt = &at
		}
		out = append(out, dto)
	}

	if includeLocked {
		locked := make([]BadgeDTO, 0)
		for _, b := range h.catalog.Badges() {
			if !p.HasBadge(b.ID) {
				locked = append(locked, badgeDTO(b))
			}
		}
		sort.SliceStable(locked, func(i, j int) bool { return locked[i].XPReward < locked[j].XPReward })
		out = append(out, locked...)
	}
	return out
}

func badgeDTO(b progress.Badge) BadgeDTO {
	return BadgeDTO{
		ID:          b.ID,
		Name:        b.Name,
		Description: b.Description,
		Category:    string(b.Category),
		Rarity:      string(b.Rarity),
		XPReward:    b.XPReward,
	}
}

func (h *GetProgressHandler) now() time.Time {
	if h.clock == nil {
		return time.Now()
	}
	return h.clock.Now()
}
