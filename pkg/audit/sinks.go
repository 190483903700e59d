package audit

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ZapSink writes events as structured log lines. It is used when Quickwit is disabled.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates a sink backed by logger
func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger.Named("audit")}
}

// Ingest logs every event
func (s *ZapSink) Ingest(_ context.Context, events []AuditEvent) error {
	for _, e := range events {
		s.logger.Info(e.Name,
			zap.String("event_id", e.ID),
			zap.Uint64("tenant_id", e.TenantID),
			zap.String("outcome", string(e.Outcome)),
			zap.Uint64("actor_id", e.ActorID),
			zap.Uint64("resource_id", e.ResourceID),
			zap.Uint64("related_user_id", e.RelatedUserID),
			zap.String("code", e.Code),
			zap.String("url", e.URL))
	}
	return nil
}

// RecordingSink keeps events in memory
type RecordingSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

// NewRecordingSink creates an empty recording sink
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

// Ingest appends events
func (s *RecordingSink) Ingest(_ context.Context, events []AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

// Events returns a copy of everything recorded
func (s *RecordingSink) Events() []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEvent(nil), s.events...)
}

// Named returns the recorded events with the given name
func (s *RecordingSink) Named(name string) []AuditEvent {
	var out []AuditEvent
	for _, e := range s.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops all recorded events
func (s *RecordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

// NewRecordingLogger returns an unbatched logger writing into a RecordingSink
func NewRecordingLogger() (*Logger, *RecordingSink) {
	sink := NewRecordingSink()
	cfg := DefaultQuickwitConfig()
	cfg.EnableBatch = false
	return NewLogger(sink, cfg, zap.NewNop()), sink
}
