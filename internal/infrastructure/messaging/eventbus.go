// Package messaging delivers progress domain events to subscribers once the
// aggregate commit has succeeded. InMemoryEventBus serves a single process;
// RedisEventBus wraps it and mirrors every event over Redis Pub/Sub so the
// other instances see it too.
package messaging

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alem-hub/study-progress/internal/domain/shared"
)

var (
	ErrEventBusClosed = errors.New("event bus is closed")
	ErrHandlerPanic   = errors.New("handler panicked")
	ErrNilHandler     = errors.New("handler cannot be nil")
	ErrNilEvent       = errors.New("event cannot be nil")
)

// InMemoryEventBusConfig tunes an InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode hands each delivery to a goroutine bounded by WorkerPoolSize.
	// Otherwise handlers run on the publisher's goroutine, in order.
	AsyncMode      bool
	WorkerPoolSize int

	Logger        *slog.Logger
	EnableMetrics bool
}

// DefaultInMemoryEventBusConfig is async with eight workers and metrics on.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 8, EnableMetrics: true}
}

// InMemoryEventBus implements shared.EventBus inside one process.
//
// Handler errors and panics are logged and counted but never returned to the
// publisher: by the time an event exists the aggregate is already stored.
type InMemoryEventBus struct {
	log     *slog.Logger
	async   bool
	slots   chan struct{}
	metrics *EventBusMetrics

	mu       sync.RWMutex
	byType   map[shared.EventType][]shared.EventHandler
	wildcard []shared.EventHandler
	closed   bool

	inflight sync.WaitGroup
	done     chan struct{}
}

// NewInMemoryEventBus builds a bus; a non-positive pool size means eight.
func NewInMemoryEventBus(cfg InMemoryEventBusConfig) *InMemoryEventBus {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	workers := cfg.WorkerPoolSize
	if workers <= 0 {
		workers = 8
	}
	b := &InMemoryEventBus{
		log:    log.With("component", "event_bus"),
		async:  cfg.AsyncMode,
		slots:  make(chan struct{}, workers),
		byType: make(map[shared.EventType][]shared.EventHandler),
		done:   make(chan struct{}),
	}
	if cfg.EnableMetrics {
		b.metrics = NewEventBusMetrics()
	}
	return b
}

// Subscribe adds handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.add(handler, func() {
		b.byType[eventType] = append(b.byType[eventType], handler)
	})
}

// SubscribeAll adds handler for every event type.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.add(handler, func() {
		b.wildcard = append(b.wildcard, handler)
	})
}

func (b *InMemoryEventBus) add(handler shared.EventHandler, register func()) error {
	if handler == nil {
		return ErrNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	register()
	return nil
}

// Publish delivers event to the handlers of its type, then to the wildcard
// handlers.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}
	targets, err := b.targets(event.EventType())
	if err != nil {
		return err
	}
	if b.metrics != nil {
		b.metrics.RecordPublish(event.EventType())
	}

	for _, h := range targets {
		if b.async {
			go b.deliverAsync(event, h)
		} else {
			b.deliver(event, h)
		}
	}
	return nil
}

// targets snapshots the handler list. In async mode the deliveries are added
// to inflight while the read lock is held, so Close cannot miss them.
func (b *InMemoryEventBus) targets(t shared.EventType) ([]shared.EventHandler, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrEventBusClosed
	}
	out := make([]shared.EventHandler, 0, len(b.byType[t])+len(b.wildcard))
	out = append(append(out, b.byType[t]...), b.wildcard...)
	if b.async {
		b.inflight.Add(len(out))
	}
	return out, nil
}

func (b *InMemoryEventBus) deliverAsync(event shared.Event, h shared.EventHandler) {
	defer b.inflight.Done()
	select {
	case b.slots <- struct{}{}:
	case <-b.done:
		b.log.Warn("event dropped on close",
			"event_type", event.EventType(), "event_id", event.EventID())
		return
	}
	defer func() { <-b.slots }()
	b.deliver(event, h)
}

func (b *InMemoryEventBus) deliver(event shared.Event, h shared.EventHandler) {
	began := time.Now()
	err := invoke(event, h)
	if b.metrics != nil {
		b.metrics.RecordHandlerExecution(event.EventType(), time.Since(began), err == nil)
	}
	if err != nil {
		b.log.Error("event handler failed",
			"event_type", event.EventType(),
			"event_id", event.EventID(),
			"error", err,
		)
	}
}

// invoke turns a handler panic into ErrHandlerPanic.
func invoke(event shared.Event, h shared.EventHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h(event)
}

// Wait returns once every async delivery started so far has finished.
func (b *InMemoryEventBus) Wait() {
	b.inflight.Wait()
}

// Close rejects further publishes. Deliveries already running finish; those
// still waiting for a worker slot are dropped.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
	b.inflight.Wait()
	if b.metrics != nil {
		s := b.metrics.Snapshot()
		b.log.Info("event bus closed",
			"published", s.TotalPublished,
			"handler_runs", s.HandlerExecutions,
			"handler_failures", s.HandlerFailures,
			"avg_handler_duration", s.AverageHandlerDuration)
		return nil
	}
	b.log.Info("event bus closed")
	return nil
}

// Metrics is nil unless EnableMetrics was set.
func (b *InMemoryEventBus) Metrics() *EventBusMetrics {
	return b.metrics
}
