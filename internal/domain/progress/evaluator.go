package progress

import (
	"time"

	"github.com/alem-hub/study-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// BADGE EVALUATOR
// ══════════════════════════════════════════════════════════════════════════════

// Evaluation - итог оценки каталога для одного события.
type Evaluation struct {
	// Unlocked - новые значки в порядке открытия.
	Unlocked []Badge

	// Award - применение суммарной награды к XP агрегата.
	Award Award

	// Passes - количество проходов по каталогу до неподвижной точки.
	Passes int

	// Warnings - значки, пропущенные из-за нерешаемых условий.
	Warnings []*shared.CatalogError
}

// RewardXP - суммарная награда за новые значки.
func (e Evaluation) RewardXP() int64 {
	return e.Award.Delta
}

// UnlockedIDs возвращает id новых значков.
func (e Evaluation) UnlockedIDs() []string {
	ids := make([]string, 0, len(e.Unlocked))
	for _, b := range e.Unlocked {
		ids = append(ids, b.ID)
	}
	return ids
}

// Evaluator проходит по каталогу и открывает выполненные значки.
type Evaluator struct {
	catalog *Catalog
}

// NewEvaluator создаёт оценщик для каталога.
func NewEvaluator(catalog *Catalog) *Evaluator {
	if catalog == nil {
		catalog = &Catalog{byID: map[string]int{}}
	}
	return &Evaluator{catalog: catalog}
}

// Catalog возвращает каталог оценщика.
func (e *Evaluator) Catalog() *Catalog {
	return e.catalog
}

// Evaluate открывает значки на уже обновлённом агрегате p и начисляет их
// награду вторым проходом AwardXP. Проходы повторяются, пока появляются
// новые значки: награда одного значка может открыть другой (например,
// значок уровня). Проходов не больше, чем значков в каталоге, плюс один.
// p мутируется; уже открытые значки не переоцениваются и не отзываются.
func (e *Evaluator) Evaluate(p *UserProgress, at time.Time) Evaluation {
	result := Evaluation{Award: AwardXP(p.XP, 0)}
	warned := make(map[string]bool)

	for result.Passes <= e.catalog.Len() {
		result.Passes++

		var reward int64
		newly := 0
		for _, b := range e.catalog.badges {
			if p.HasBadge(b.ID) {
				continue
			}
			ok, err := b.Condition.satisfied(p)
			if err != nil {
				if !warned[b.ID] {
					warned[b.ID] = true
					result.Warnings = append(result.Warnings, &shared.CatalogError{BadgeID: b.ID, Reason: err.Error()})
				}
				continue
			}
			if !ok {
				continue
			}
			if p.unlockBadge(b.ID, at) {
				result.Unlocked = append(result.Unlocked, b)
				reward = addSaturating(reward, b.XPReward)
				newly++
			}
		}

		if newly == 0 {
			break
		}
		if reward > 0 {
			award := AwardXP(p.XP, reward)
			p.setXP(award.NewXP)
		}
	}

	result.Award = AwardXP(result.Award.OldXP, p.XP-result.Award.OldXP)
	return result
}
