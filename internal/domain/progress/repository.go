package progress

import "context"

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Контракт хранилища агрегата. Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Store хранит по одному UserProgress на пользователя с compare-and-swap
// по полю Version.
type Store interface {
	// Get возвращает агрегат пользователя.
	// Возвращает ошибку с shared.ErrNotFound, если агрегата ещё нет.
	Get(ctx context.Context, userID string) (*UserProgress, error)

	// Commit атомарно записывает p, если хранимая версия равна expectedVersion.
	// expectedVersion == 0 означает создание: запись не должна существовать.
	// При успехе версия становится expectedVersion+1 и записывается в p.Version.
	// При несовпадении возвращает ошибку с shared.ErrConflict и ничего не пишет.
	Commit(ctx context.Context, p *UserProgress, expectedVersion int64) error
}

// Pinger - хранилище, которое умеет проверять своё соединение.
type Pinger interface {
	Ping(ctx context.Context) error
}
