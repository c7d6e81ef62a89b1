package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSignalGenerated      EventType = "SIGNAL_GENERATED"
	EventTradeOpened          EventType = "TRADE_OPENED"
	EventTradeClosed          EventType = "TRADE_CLOSED"
	EventTradePartialExit     EventType = "TRADE_PARTIAL_EXIT"
	EventOrderUpdate          EventType = "ORDER_UPDATE"
	EventPositionUpdate       EventType = "POSITION_UPDATE"
	EventBacktestProgress     EventType = "BACKTEST_PROGRESS"
	EventBacktestCompleted    EventType = "BACKTEST_COMPLETED"
	EventCircuitBreakerUpdate EventType = "CIRCUIT_BREAKER_UPDATE"
	EventSyncProgress         EventType = "SYNC_PROGRESS"
	EventAudit                EventType = "AUDIT"
	EventInsightGenerated     EventType = "INSIGHT_GENERATED"
	EventError                EventType = "ERROR"
)

// Event is a single published event
type Event struct {
	Type      EventType   `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Handler receives published events. Handlers must not block; slow consumers
// should drain into their own queue.
type Handler func(Event)

// Bus is an in-process publish/subscribe event bus
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
}

// NewBus creates an empty event bus
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll registers a handler for every event type
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish delivers an event to all matching handlers synchronously
func (b *Bus) Publish(t EventType, payload interface{}) {
	ev := Event{Type: t, Payload: payload, Timestamp: time.Now().UTC()}

	b.mu.RLock()
	typed := b.handlers[t]
	all := b.all
	b.mu.RUnlock()

	for _, h := range typed {
		h(ev)
	}
	for _, h := range all {
		h(ev)
	}
}
