// Package progress содержит движок прогрессии: опыт (XP), уровень,
// серию активных дней и значки (badges).
//
// Пакет состоит из четырёх чистых компонентов и одного оркестратора:
//
//   - Leveling Curve: XPForLevel / CalculateLevel - прямая и обратная кривая уровней
//   - Streak Tracker: классифицирует календарные дни в одной эталонной зоне
//   - XP Awarder: считает XP за сессию и применяет дельту к агрегату
//   - Badge Evaluator: проходит по каталогу и открывает выполненные значки
//   - Engine: связывает шаги в конвейер для одного события завершения сессии
//
// # Архитектурные принципы
//
//  1. Нулевые внешние зависимости - только стандартная библиотека Go
//  2. Никакого I/O: хранилище, ретраи и логирование живут в application слое
//  3. Единственное общее состояние процесса - неизменяемый каталог значков
//
// # Конкурентность
//
// Агрегат UserProgress несёт счётчик Version. Хранилище (Store) реализует
// compare-and-swap: Commit(p, expectedVersion) либо применяет запись целиком,
// либо возвращает ErrConflict. Конвейер при конфликте перезапускается с
// свежего снимка, частичное слияние не выполняется никогда.
//
// # Пример
//
//	engine, err := progress.NewEngine(progress.EngineConfig{
//	    Location: loc,
//	    Catalog:  catalog.Default(),
//	})
//	outcome, err := engine.Apply(current, session)
package progress
