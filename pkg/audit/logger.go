package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourorg/certificate-service/pkg/auth"
)

// Publisher accepts domain events
type Publisher interface {
	Log(ctx context.Context, event *AuditEvent) error
}

// Searcher queries previously shipped events
type Searcher interface {
	Search(ctx context.Context, query *SearchQuery) (*SearchResult, error)
}

// ErrSearchUnsupported is returned when the sink cannot be queried
var ErrSearchUnsupported = errors.New("audit search not supported by sink")

// Logger buffers events and ships them to a sink
type Logger struct {
	sink   Sink
	logger *zap.Logger
	config *QuickwitConfig

	mu          sync.Mutex
	batch       []AuditEvent
	flushTicker *time.Ticker
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

// NewLogger creates a new audit logger. With batching enabled a background
// goroutine flushes every FlushInterval until Close.
func NewLogger(sink Sink, config *QuickwitConfig, logger *zap.Logger) *Logger {
	l := &Logger{
		sink:     sink,
		logger:   logger,
		config:   config,
		batch:    make([]AuditEvent, 0, config.BatchSize),
		stopChan: make(chan struct{}),
	}

	if config.EnableBatch {
		l.startBatchProcessor()
	}

	return l
}

func (l *Logger) startBatchProcessor() {
	l.flushTicker = time.NewTicker(l.config.FlushInterval)
	l.wg.Add(1)

	go func() {
		defer l.wg.Done()
		for {
			select {
			case <-l.flushTicker.C:
				if err := l.Flush(context.Background()); err != nil {
					l.logger.Error("failed to flush audit events", zap.Error(err))
				}
			case <-l.stopChan:
				return
			}
		}
	}()
}

// Close stops the logger and flushes remaining events
func (l *Logger) Close() error {
	if l.flushTicker != nil {
		l.flushTicker.Stop()
	}

	close(l.stopChan)
	l.wg.Wait()

	return l.Flush(context.Background())
}

// Log records an event, filling in id, timestamp, outcome and request id
func (l *Logger) Log(ctx context.Context, event *AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Outcome == "" {
		event.Outcome = OutcomeSuccess
	}
	if event.RequestID == "" {
		event.RequestID = RequestIDFromContext(ctx)
	}

	if l.config.EnableBatch {
		return l.addToBatch(ctx, event)
	}

	return l.sink.Ingest(ctx, []AuditEvent{*event})
}

func (l *Logger) addToBatch(ctx context.Context, event *AuditEvent) error {
	l.mu.Lock()
	l.batch = append(l.batch, *event)
	shouldFlush := len(l.batch) >= l.config.BatchSize
	l.mu.Unlock()

	if shouldFlush {
		return l.Flush(ctx)
	}

	return nil
}

// Flush ships the current batch. Failed batches are kept for the next flush.
func (l *Logger) Flush(ctx context.Context) error {
	l.mu.Lock()
	if len(l.batch) == 0 {
		l.mu.Unlock()
		return nil
	}

	batch := l.batch
	l.batch = make([]AuditEvent, 0, l.config.BatchSize)
	l.mu.Unlock()

	if err := l.sink.Ingest(ctx, batch); err != nil {
		l.mu.Lock()
		l.batch = append(batch, l.batch...)
		l.mu.Unlock()
		return err
	}

	l.logger.Debug("flushed audit events", zap.Int("count", len(batch)))
	return nil
}

// Search queries the sink when it supports searching
func (l *Logger) Search(ctx context.Context, query *SearchQuery) (*SearchResult, error) {
	searcher, ok := l.sink.(Searcher)
	if !ok {
		return nil, ErrSearchUnsupported
	}
	return searcher.Search(ctx, query)
}

// EnsureIndex creates the Quickwit index when the sink is a Quickwit client
func (l *Logger) EnsureIndex(ctx context.Context) error {
	client, ok := l.sink.(*QuickwitClient)
	if !ok {
		return nil
	}

	exists, err := client.IndexExists(ctx, l.config.IndexID)
	if err != nil {
		return fmt.Errorf("failed to check index existence: %w", err)
	}
	if !exists {
		if err := client.CreateIndex(ctx, DefaultAuditIndexConfig(l.config.IndexID)); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

type requestIDKey struct{}

// WithRequestID stores a request id for events logged under ctx
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id stored in ctx
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// NewEvent starts building a named domain event
func NewEvent(name string, eventType EventType, action EventAction) *EventBuilder {
	return &EventBuilder{event: &AuditEvent{Name: name, EventType: eventType, Action: action}}
}

// EventBuilder provides a fluent API for building audit events
type EventBuilder struct {
	event *AuditEvent
}

// WithTenant sets the tenant ID
func (b *EventBuilder) WithTenant(tenantID uint64) *EventBuilder {
	b.event.TenantID = tenantID
	return b
}

// WithActor records who acted. A nil principal is recorded as anonymous.
func (b *EventBuilder) WithActor(p *auth.Principal) *EventBuilder {
	if p == nil {
		b.event.ActorType = "anonymous"
		return b
	}
	b.event.ActorID = p.UserID
	b.event.ActorType = string(p.Type)
	if b.event.ActorType == "" {
		b.event.ActorType = string(auth.TokenTypeUser)
	}
	return b
}

// WithResource sets the resource
func (b *EventBuilder) WithResource(resourceType string, resourceID uint64) *EventBuilder {
	b.event.ResourceType = resourceType
	b.event.ResourceID = resourceID
	return b
}

// WithContext sets the owning context
func (b *EventBuilder) WithContext(contextID uint64) *EventBuilder {
	b.event.ContextID = contextID
	return b
}

// WithRelatedUser sets the user the event is about
func (b *EventBuilder) WithRelatedUser(userID uint64) *EventBuilder {
	b.event.RelatedUserID = userID
	return b
}

// WithCode sets the certificate code and its URL
func (b *EventBuilder) WithCode(code, url string) *EventBuilder {
	b.event.Code = code
	b.event.URL = url
	return b
}

// WithDescription sets the description
func (b *EventBuilder) WithDescription(description string) *EventBuilder {
	b.event.Description = description
	return b
}

// WithMetadata sets metadata
func (b *EventBuilder) WithMetadata(metadata map[string]interface{}) *EventBuilder {
	b.event.Metadata = metadata
	return b
}

// WithOutcome sets the outcome
func (b *EventBuilder) WithOutcome(outcome EventOutcome) *EventBuilder {
	b.event.Outcome = outcome
	return b
}

// Event returns the built event
func (b *EventBuilder) Event() *AuditEvent {
	return b.event
}

// Publish sends the event to p
func (b *EventBuilder) Publish(ctx context.Context, p Publisher) error {
	return p.Log(ctx, b.event)
}
