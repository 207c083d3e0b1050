package progress

import (
	"time"

	"github.com/alem-hub/study-progress/internal/domain/shared"
	"github.com/alem-hub/study-progress/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE (конвейер одного события)
// ══════════════════════════════════════════════════════════════════════════════

// Clock - источник текущего времени для меток открытия значков.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// EngineConfig - параметры конвейера.
type EngineConfig struct {
	// Location - эталонная зона для календарных дней.
	Location *time.Location

	// Rules - правила начисления XP; nil означает DefaultXPRules.
	Rules *XPRules

	// Catalog - каталог значков.
	Catalog *Catalog

	// Clock - часы; по умолчанию системные.
	Clock Clock
}

// Engine - чистый конвейер: Streak Tracker -> XP Awarder -> Badge Evaluator ->
// XP Awarder (награды). I/O не выполняет, безопасен для конкурентного вызова.
type Engine struct {
	loc       *time.Location
	rules     XPRules
	tracker   *StreakTracker
	evaluator *Evaluator
	clock     Clock
}

// NewEngine создаёт конвейер. Явно переданные правила проверяются как есть:
// нулевые ставки допустимы и не подменяются умолчаниями.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	rules := DefaultXPRules()
	if cfg.Rules != nil {
		rules = *cfg.Rules
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		loc:       cfg.Location,
		rules:     rules,
		tracker:   NewStreakTracker(cfg.Location, rules.MilestoneStreaks()),
		evaluator: NewEvaluator(cfg.Catalog),
		clock:     cfg.Clock,
	}, nil
}

// Catalog возвращает каталог значков конвейера.
func (e *Engine) Catalog() *Catalog {
	return e.evaluator.Catalog()
}

// Location возвращает эталонную зону.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// Result - ответ конвейера для презентационных коллабораторов.
type Result struct {
	XPGained              int64    `json:"xp_gained"`
	OldLevel              int      `json:"old_level"`
	NewLevel              int      `json:"new_level"`
	LeveledUp             bool     `json:"leveled_up"`
	LevelsGained          int      `json:"levels_gained"`
	NewlyUnlockedBadgeIDs []string `json:"newly_unlocked_badge_ids"`
}

// Outcome - полный результат применения события.
type Outcome struct {
	// Progress - новое состояние агрегата (копия, снимок не мутируется).
	Progress *UserProgress

	// ExpectedVersion - версия снимка, с которой нужно делать Commit.
	ExpectedVersion int64

	Session      Session
	Streak       StreakUpdate
	SessionXP    SessionXP
	SessionAward Award
	Badges       Evaluation
	Result       Result
}

// Apply применяет событие к снимку current (nil - агрегата ещё нет).
// Возвращает ValidationError, если событие некорректно; иначе конвейер
// выполняется целиком. Повторный вызов на том же снимке даёт тот же результат.
func (e *Engine) Apply(current *UserProgress, s Session) (*Outcome, error) {
	session, err := s.Normalize()
	if err != nil {
		return nil, err
	}
	if current != nil && current.UserID != "" && current.UserID != session.UserID {
		return nil, shared.ValidationError("Apply", "userId", "does not match the aggregate owner")
	}

	now := e.clock.Now()

	var p *UserProgress
	var expected int64
	if current == nil {
		p = NewUserProgress(session.UserID, now)
	} else {
		p = current.Clone()
		p.Normalize()
		expected = current.Version
	}

	// 1. Серия.
	streak := e.tracker.Track(StreakState{
		CurrentStreak:    p.CurrentStreak,
		LongestStreak:    p.LongestStreak,
		LastActivityDate: p.LastActivityDate,
	}, session.CompletedAt)

	p.CurrentStreak = streak.CurrentStreak
	p.LongestStreak = streak.LongestStreak
	p.LastActivityDate = streak.LastActivityDate

	// 2. Счётчики агрегата.
	e.recordSession(p, session, streak)

	// 3. XP за сессию.
	sessionXP := e.rules.SessionXP(session.DurationSeconds, streak.FirstSessionToday, streak.Milestone)
	sessionAward := AwardXP(p.XP, sessionXP.Total())
	p.setXP(sessionAward.NewXP)

	// 4. Значки и их награды.
	badges := e.evaluator.Evaluate(p, now)

	p.UpdatedAt = now
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}

	out := &Outcome{
		Progress:        p,
		ExpectedVersion: expected,
		Session:         session,
		Streak:          streak,
		SessionXP:       sessionXP,
		SessionAward:    sessionAward,
		Badges:          badges,
	}
	out.Result = Result{
		XPGained:              p.XP - sessionAward.OldXP,
		OldLevel:              sessionAward.OldLevel,
		NewLevel:              p.Level,
		LevelsGained:          p.Level - sessionAward.OldLevel,
		NewlyUnlockedBadgeIDs: badges.UnlockedIDs(),
	}
	out.Result.LeveledUp = out.Result.LevelsGained > 0
	return out, nil
}

func (e *Engine) recordSession(p *UserProgress, s Session, streak StreakUpdate) {
	p.TotalSessions++
	p.TotalDurationSeconds = addSaturating(p.TotalDurationSeconds, s.DurationSeconds)
	if s.DurationSeconds > p.LongestSessionSeconds {
		p.LongestSessionSeconds = s.DurationSeconds
	}
	p.addActivityType(s.ActivityLabel)

	if streak.FirstSessionToday {
		p.FirstSessionOfDayCount++
		p.SessionsOnLastActiveDay = 1
	} else {
		p.SessionsOnLastActiveDay++
	}
	if p.SessionsOnLastActiveDay > p.MaxSessionsInOneDay {
		p.MaxSessionsInOneDay = p.SessionsOnLastActiveDay
	}

	// Окна суток считаются по моменту завершения сессии.
	if timeutil.IsBeforeNoon(s.CompletedAt, e.loc) {
		p.SessionsBeforeNoonCount++
	}
	if timeutil.IsAfterMidnight(s.CompletedAt, e.loc) {
		p.SessionsAfterMidnightCount++
	}
}
