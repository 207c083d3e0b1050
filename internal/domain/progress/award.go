package progress

import (
	"fmt"
	"math"
	"sort"
)

// ══════════════════════════════════════════════════════════════════════════════
// XP AWARDER
// ══════════════════════════════════════════════════════════════════════════════

// XPRules - правила начисления XP за сессию.
type XPRules struct {
	// XPPerHour - XP за час работы; время считается floor(часы * ставка).
	XPPerHour int64

	// CompletionBonus - бонус за каждую завершённую сессию.
	CompletionBonus int64

	// FirstSessionOfDayBonus - бонус за первую сессию календарного дня.
	FirstSessionOfDayBonus int64

	// StreakMilestones - длина серии -> бонус. Выдаётся один раз на переход.
	StreakMilestones map[int]int64
}

// MaxXPPerHour - предел ставки, при котором XP за самую длинную сессию
// помещается в int64.
const MaxXPPerHour = math.MaxInt64 / MaxSessionSeconds

// DefaultXPRules возвращает стандартные правила: 10 XP/час, +25, +25, вехи 7 и 30.
func DefaultXPRules() XPRules {
	return XPRules{
		XPPerHour:              10,
		CompletionBonus:        25,
		FirstSessionOfDayBonus: 25,
		StreakMilestones: map[int]int64{
			7:  100,
			30: 500,
		},
	}
}

// Validate проверяет, что правила не дают отрицательного XP.
func (r XPRules) Validate() error {
	if r.XPPerHour < 0 || r.CompletionBonus < 0 || r.FirstSessionOfDayBonus < 0 {
		return fmt.Errorf("xp rules: rates and bonuses must be non-negative")
	}
	if r.XPPerHour > MaxXPPerHour {
		return fmt.Errorf("xp rules: xp per hour %d exceeds %d", r.XPPerHour, MaxXPPerHour)
	}
	for streak, bonus := range r.StreakMilestones {
		if streak < 2 {
			return fmt.Errorf("xp rules: milestone streak %d must be at least 2", streak)
		}
		if bonus < 0 {
			return fmt.Errorf("xp rules: milestone %d bonus must be non-negative", streak)
		}
	}
	return nil
}

// MilestoneStreaks возвращает длины вех по возрастанию.
func (r XPRules) MilestoneStreaks() []int {
	out := make([]int, 0, len(r.StreakMilestones))
	for s := range r.StreakMilestones {
		out = append(out, s)
	}
	sort.Ints(out)
	return out
}

// SessionXP - разбивка XP за одну сессию. Порядок слагаемых фиксирован:
// время, завершение, первая сессия дня, веха серии.
type SessionXP struct {
	Time       int64 `json:"time"`
	Completion int64 `json:"completion"`
	FirstOfDay int64 `json:"first_of_day"`
	Milestone  int64 `json:"milestone"`
}

// Total возвращает сумму всех слагаемых с насыщением на math.MaxInt64.
func (s SessionXP) Total() int64 {
	return addSaturating(addSaturating(s.Time, s.Completion), addSaturating(s.FirstOfDay, s.Milestone))
}

// addSaturating складывает неотрицательные счётчики без переполнения.
func addSaturating(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

// SessionXP считает XP за сессию длительностью durationSeconds.
// firstOfDay и milestone берутся из результата StreakTracker. Длительность
// сверх MaxSessionSeconds считается как MaxSessionSeconds.
func (r XPRules) SessionXP(durationSeconds int64, firstOfDay bool, milestone int) SessionXP {
	var xp SessionXP
	durationSeconds = min(durationSeconds, MaxSessionSeconds)
	if durationSeconds > 0 && r.XPPerHour <= MaxXPPerHour {
		// floor(hours * rate) в целых числах, без погрешности float.
		xp.Time = durationSeconds * r.XPPerHour / 3600
	}
	xp.Completion = r.CompletionBonus
	if firstOfDay {
		xp.FirstOfDay = r.FirstSessionOfDayBonus
	}
	if milestone > 0 {
		xp.Milestone = r.StreakMilestones[milestone]
	}
	return xp
}

// Award - результат применения дельты XP.
type Award struct {
	OldXP        int64 `json:"old_xp"`
	NewXP        int64 `json:"new_xp"`
	Delta        int64 `json:"delta"`
	OldLevel     int   `json:"old_level"`
	NewLevel     int   `json:"new_level"`
	LeveledUp    bool  `json:"leveled_up"`
	LevelsGained int   `json:"levels_gained"`
}

// AwardXP применяет delta к current. XP только растёт: отрицательная дельта
// обнуляется. Уровни выводятся из XP, а не хранятся отдельно.
func AwardXP(current, delta int64) Award {
	if current < 0 {
		current = 0
	}
	if delta < 0 {
		delta = 0
	}

	award := Award{
		OldXP:    current,
		NewXP:    addSaturating(current, delta),
		Delta:    delta,
		OldLevel: CalculateLevel(current),
	}
	award.NewLevel = CalculateLevel(award.NewXP)
	award.LevelsGained = award.NewLevel - award.OldLevel
	award.LeveledUp = award.LevelsGained > 0
	return award
}
