package progress

import (
	"sort"
	"time"

	"github.com/alem-hub/study-progress/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK TRACKER
// ══════════════════════════════════════════════════════════════════════════════

// DayTransition - отношение даты события к дате последней активности.
type DayTransition int

const (
	// SameDay - тот же календарный день (или опоздавшее событие из прошлого).
	SameDay DayTransition = iota

	// NextDay - ровно следующий календарный день.
	NextDay

	// Gap - пропуск в один и более дней, либо первой активности ещё не было.
	Gap
)

// String возвращает имя перехода.
func (t DayTransition) String() string {
	switch t {
	case SameDay:
		return "same_day"
	case NextDay:
		return "next_day"
	case Gap:
		return "gap"
	default:
		return "unknown"
	}
}

// ClassifyDay сравнивает две гражданские даты. Нулевая lastDate означает,
// что активности ещё не было, - это Gap. Дата раньше lastDate (событие
// доставлено не по порядку) считается SameDay: серия не трогается.
func ClassifyDay(lastDate, date time.Time) DayTransition {
	if lastDate.IsZero() {
		return Gap
	}
	switch days := timeutil.DaysBetween(lastDate, date); {
	case days <= 0:
		return SameDay
	case days == 1:
		return NextDay
	default:
		return Gap
	}
}

// StreakState - поля агрегата, которые читает трекер.
type StreakState struct {
	CurrentStreak    int
	LongestStreak    int
	LastActivityDate time.Time
}

// StreakUpdate - результат обработки одного события трекером.
type StreakUpdate struct {
	// Transition - классификация дня события.
	Transition DayTransition

	// Date - гражданская дата события в эталонной зоне.
	Date time.Time

	// PreviousStreak - серия до события.
	PreviousStreak int

	// CurrentStreak, LongestStreak - серия после события.
	CurrentStreak int
	LongestStreak int

	// LastActivityDate - новая дата последней активности (никогда не уходит назад).
	LastActivityDate time.Time

	// FirstSessionToday - первая сессия нового календарного дня.
	FirstSessionToday bool

	// Milestone - длина серии, достигнутая этим переходом, если она веха; иначе 0.
	Milestone int

	// DaysMissed - сколько дней пропущено при разрыве серии.
	DaysMissed int
}

// Broken сообщает, что событие оборвало идущую серию.
func (u StreakUpdate) Broken() bool {
	return u.Transition == Gap && u.DaysMissed > 0 && u.PreviousStreak > 0
}

// StreakTracker группирует моменты времени в календарные дни одной эталонной
// зоны. Секунды между событиями значения не имеют.
type StreakTracker struct {
	loc        *time.Location
	milestones map[int]struct{}
}

// NewStreakTracker создаёт трекер. milestones - длины серий, за которые
// положен бонус (по умолчанию 7 и 30).
func NewStreakTracker(loc *time.Location, milestones []int) *StreakTracker {
	if loc == nil {
		loc = time.UTC
	}
	set := make(map[int]struct{}, len(milestones))
	for _, m := range milestones {
		if m > 1 {
			set[m] = struct{}{}
		}
	}
	return &StreakTracker{loc: loc, milestones: set}
}

// Location возвращает эталонную зону.
func (t *StreakTracker) Location() *time.Location {
	return t.loc
}

// Milestones возвращает отсортированные длины вех.
func (t *StreakTracker) Milestones() []int {
	out := make([]int, 0, len(t.milestones))
	for m := range t.milestones {
		out = append(out, m)
	}
	sort.Ints(out)
	return out
}

// Track применяет событие в момент at к состоянию серии.
func (t *StreakTracker) Track(state StreakState, at time.Time) StreakUpdate {
	date := timeutil.DateOf(at, t.loc)
	last := timeutil.NormalizeDate(state.LastActivityDate)

	update := StreakUpdate{
		Transition:       ClassifyDay(last, date),
		Date:             date,
		PreviousStreak:   state.CurrentStreak,
		CurrentStreak:    state.CurrentStreak,
		LongestStreak:    state.LongestStreak,
		LastActivityDate: last,
	}

	switch update.Transition {
	case SameDay:
		// Серия без изменений; опоздавшее событие не сдвигает дату назад.

	case NextDay:
		update.CurrentStreak = state.CurrentStreak + 1
		update.LastActivityDate = date
		update.FirstSessionToday = true
		if _, ok := t.milestones[update.CurrentStreak]; ok {
			update.Milestone = update.CurrentStreak
		}

	case Gap:
		if !last.IsZero() {
			update.DaysMissed = timeutil.DaysBetween(last, date) - 1
		}
		update.CurrentStreak = 1
		update.LastActivityDate = date
		update.FirstSessionToday = true
	}

	if update.CurrentStreak > update.LongestStreak {
		update.LongestStreak = update.CurrentStreak
	}
	return update
}
