package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/study-progress/internal/domain/progress"
	"github.com/alem-hub/study-progress/internal/domain/shared"
	"github.com/alem-hub/study-progress/pkg/circuitbreaker"
	"github.com/alem-hub/study-progress/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// READ-THROUGH PROGRESS CACHE
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotBackend is the subset of Cache used by CachedStore.
type SnapshotBackend interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
	SetBytes(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// CachedStoreConfig configures CachedStore.
type CachedStoreConfig struct {
	// KeyPrefix namespaces snapshot keys.
	KeyPrefix string

	// TTL of a snapshot. Defaults to TTLProgressSnapshot.
	TTL time.Duration
}

// CachedStore decorates a progress.Store with a snapshot cache.
//
// The wrapped store stays authoritative: Commit always goes to it and then
// evicts the snapshot, whether the compare-and-swap won or lost. Only Get
// fills the cache, from a fresh store read, so two committers finishing out
// of order can never leave the older version cached. Cache failures are
// logged and never surface to callers.
type CachedStore struct {
	store   progress.Store
	cache   SnapshotBackend
	breaker *circuitbreaker.CircuitBreaker
	prefix  string
	ttl     time.Duration
	log     *logger.Logger
}

// NewCachedStore creates a CachedStore. A nil breaker gets CacheBreaker defaults.
func NewCachedStore(
	store progress.Store,
	cache SnapshotBackend,
	breaker *circuitbreaker.CircuitBreaker,
	log *logger.Logger,
	cfg CachedStoreConfig,
) *CachedStore {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("progress_cache"))
	if breaker == nil {
		breaker = circuitbreaker.CacheBreaker("redis-progress", func(name string, from, to circuitbreaker.State) {
			log.Warn("cache circuit state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		})
	}
	if cfg.TTL <= 0 {
		cfg.TTL = TTLProgressSnapshot
	}
	return &CachedStore{
		store:   store,
		cache:   cache,
		breaker: breaker,
		prefix:  cfg.KeyPrefix,
		ttl:     cfg.TTL,
		log:     log,
	}
}

// Get implements progress.Store.
func (s *CachedStore) Get(ctx context.Context, userID string) (*progress.UserProgress, error) {
	key := ProgressKey(s.prefix, userID)

	var cached *progress.UserProgress
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		data, err := s.cache.GetBytes(ctx, key)
		if err != nil {
			if errors.Is(err, ErrCacheMiss) {
				return nil
			}
			return err
		}
		var p progress.UserProgress
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
		}
		p.Normalize()
		cached = &p
		return nil
	})
	if err != nil && !circuitbreaker.IsRejected(err) {
		s.log.Warn("cache read failed", logger.UserID(userID), logger.Err(err))
	}
	if cached != nil {
		return cached, nil
	}

	p, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.put(ctx, p)
	return p, nil
}

// Commit implements progress.Store.
func (s *CachedStore) Commit(ctx context.Context, p *progress.UserProgress, expectedVersion int64) error {
	err := s.store.Commit(ctx, p, expectedVersion)
	if p != nil && (err == nil || shared.IsConflict(err)) {
		s.evict(ctx, p.UserID)
	}
	return err
}

// Ping implements progress.Pinger by checking the wrapped store.
func (s *CachedStore) Ping(ctx context.Context) error {
	if pinger, ok := s.store.(progress.Pinger); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

// BreakerState reports the cache circuit state.
func (s *CachedStore) BreakerState() circuitbreaker.State {
	return s.breaker.State()
}

// CheckBreaker is a health probe that fails while the cache circuit is not
// closed.
func (s *CachedStore) CheckBreaker(context.Context) error {
	if state := s.breaker.State(); state != circuitbreaker.StateClosed {
		return fmt.Errorf("cache circuit is %s", state)
	}
	return nil
}

func (s *CachedStore) put(ctx context.Context, p *progress.UserProgress) {
	data, err := json.Marshal(p)
	if err != nil {
		s.log.Warn("cache encode failed", logger.UserID(p.UserID), logger.Err(err))
		return
	}
	err = s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.cache.SetBytes(ctx, ProgressKey(s.prefix, p.UserID), data, s.ttl)
	})
	if err != nil && !circuitbreaker.IsRejected(err) {
		s.log.Warn("cache write failed", logger.UserID(p.UserID), logger.Err(err))
	}
}

func (s *CachedStore) evict(ctx context.Context, userID string) {
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.cache.Delete(ctx, ProgressKey(s.prefix, userID))
	})
	if err != nil && !circuitbreaker.IsRejected(err) {
		s.log.Warn("cache evict failed", logger.UserID(userID), logger.Err(err))
	}
}
