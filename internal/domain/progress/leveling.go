package progress

import "math"

// ══════════════════════════════════════════════════════════════════════════════
// LEVELING CURVE
// ══════════════════════════════════════════════════════════════════════════════

const (
	// MinLevel - минимальный уровень.
	MinLevel = 1

	// MaxLevel - максимальный уровень.
	MaxLevel = 100

	// curveBase и curveExponent задают кривую floor(100 * L^1.5).
	curveBase     = 100.0
	curveExponent = 1.5
)

// levelThresholds[L] = XPForLevel(L). Считается один раз, кривая неизменна.
var levelThresholds = buildThresholds()

func buildThresholds() [MaxLevel + 1]int64 {
	var t [MaxLevel + 1]int64
	for l := MinLevel + 1; l <= MaxLevel; l++ {
		t[l] = int64(math.Floor(curveBase * math.Pow(float64(l), curveExponent)))
	}
	return t
}

// XPForLevel возвращает минимальный XP, необходимый для уровня level.
// Уровень 1 стоит 0 XP; значения вне [1,100] прижимаются к границам.
func XPForLevel(level int) int64 {
	if level <= MinLevel {
		return 0
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	return levelThresholds[level]
}

// CalculateLevel возвращает наибольший L из [1,100], для которого
// XPForLevel(L) <= xp. Это единственная обратная функция к XPForLevel:
// CalculateLevel(XPForLevel(L)) == L для каждого L.
func CalculateLevel(xp int64) int {
	if xp < levelThresholds[MinLevel+1] {
		return MinLevel
	}

	// Оценка через обратную степень, затем целочисленная коррекция:
	// погрешность float не должна сдвигать границу уровня.
	level := int(math.Pow(float64(xp)/curveBase, 1/curveExponent))
	if level < MinLevel {
		level = MinLevel
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	for level < MaxLevel && levelThresholds[level+1] <= xp {
		level++
	}
	for level > MinLevel && levelThresholds[level] > xp {
		level--
	}
	return level
}

// LevelProgress возвращает процент пути от текущего уровня к следующему, [0,100].
// На максимальном уровне всегда 100.
func LevelProgress(xp int64) float64 {
	level := CalculateLevel(xp)
	if level >= MaxLevel {
		return 100
	}

	floor := XPForLevel(level)
	span := XPForLevel(level+1) - floor
	pct := float64(xp-floor) / float64(span) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// XPToNextLevel возвращает недостающий XP до следующего уровня.
// Ноль только на максимальном уровне.
func XPToNextLevel(xp int64) int64 {
	level := CalculateLevel(xp)
	if level >= MaxLevel {
		return 0
	}
	if xp < 0 {
		xp = 0
	}
	return XPForLevel(level+1) - xp
}

// LevelThreshold - строка таблицы уровней.
type LevelThreshold struct {
	Level int   `json:"level"`
	XP    int64 `json:"xp"`
	Delta int64 `json:"delta"`
}

// LevelTable возвращает все 100 порогов кривой.
func LevelTable() []LevelThreshold {
	table := make([]LevelThreshold, 0, MaxLevel)
	for l := MinLevel; l <= MaxLevel; l++ {
		row := LevelThreshold{Level: l, XP: XPForLevel(l)}
		if l > MinLevel {
			row.Delta = row.XP - XPForLevel(l-1)
		}
		table = append(table, row)
	}
	return table
}
