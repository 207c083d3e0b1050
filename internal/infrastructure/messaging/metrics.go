package messaging

import (
	"sync"
	"time"

	"github.com/alem-hub/study-progress/internal/domain/shared"
)

// EventBusMetrics counts publishes per type and handler outcomes.
type EventBusMetrics struct {
	mu        sync.Mutex
	published map[shared.EventType]int64
	runs      int64
	failures  int64
	busy      time.Duration
}

func NewEventBusMetrics() *EventBusMetrics {
	return &EventBusMetrics{published: make(map[shared.EventType]int64)}
}

func (m *EventBusMetrics) RecordPublish(eventType shared.EventType) {
	m.mu.Lock()
	m.published[eventType]++
	m.mu.Unlock()
}

func (m *EventBusMetrics) RecordHandlerExecution(_ shared.EventType, took time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
	m.busy += took
	if !ok {
		m.failures++
	}
}

// EventBusMetricsSnapshot is a copy of the counters at one instant.
type EventBusMetricsSnapshot struct {
	TotalPublished         int64
	PublishedByType        map[shared.EventType]int64
	HandlerExecutions      int64
	HandlerFailures        int64
	AverageHandlerDuration time.Duration
}

func (m *EventBusMetrics) Snapshot() EventBusMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := EventBusMetricsSnapshot{
		PublishedByType:   make(map[shared.EventType]int64, len(m.published)),
		HandlerExecutions: m.runs,
		HandlerFailures:   m.failures,
	}
	for t, n := range m.published {
		s.PublishedByType[t] = n
		s.TotalPublished += n
	}
	if m.runs > 0 {
		s.AverageHandlerDuration = m.busy / time.Duration(m.runs)
	}
	return s
}
