package hyperliquid

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AuditEvent records one state-changing exchange operation
type AuditEvent struct {
	Kind    string      `json:"kind"`
	Payload interface{} `json:"payload"`
	At      time.Time   `json:"at"`
}

// AuditSink receives audit events for state-changing operations. Sinks must
// not block: slow consumers should buffer internally.
type AuditSink interface {
	Record(event AuditEvent)
}

// LogAuditSink writes audit events to the structured log
type LogAuditSink struct {
	logger zerolog.Logger
}

// NewLogAuditSink creates a sink that logs every event
func NewLogAuditSink(logger zerolog.Logger) *LogAuditSink {
	return &LogAuditSink{logger: logger.With().Str("component", "audit").Logger()}
}

func (s *LogAuditSink) Record(event AuditEvent) {
	s.logger.Info().
		Str("kind", event.Kind).
		Time("at", event.At).
		Interface("payload", event.Payload).
		Msg("Audit event")
}

// MemoryAuditSink keeps events in memory, for tests and backtests
type MemoryAuditSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func NewMemoryAuditSink() *MemoryAuditSink {
	return &MemoryAuditSink{}
}

func (s *MemoryAuditSink) Record(event AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns a copy of the recorded events
func (s *MemoryAuditSink) Events() []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEvent, len(s.events))
	copy(out, s.events)
	return out
}
