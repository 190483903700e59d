package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourorg/certificate-service/pkg/auth"
)

func TestLogger_UnbatchedFillsDefaults(t *testing.T) {
	logger, sink := NewRecordingLogger()
	ctx := WithRequestID(context.Background(), "req-1")

	err := NewEvent(EventCertificateIssued, EventTypeCertificate, ActionIssue).
		WithTenant(3).
		WithActor(&auth.Principal{UserID: 9}).
		WithResource("issue", 42).
		WithRelatedUser(7).
		WithCode("ABCDEFGHIJ", "https://certs.example.com/issues/ABCDEFGHIJ/pdf").
		Publish(ctx, logger)
	require.NoError(t, err)

	events := sink.Named(EventCertificateIssued)
	require.Len(t, events, 1)
	e := events[0]
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())
	assert.Equal(t, OutcomeSuccess, e.Outcome)
	assert.Equal(t, "req-1", e.RequestID)
	assert.Equal(t, uint64(9), e.ActorID)
	assert.Equal(t, "user", e.ActorType)
	assert.Equal(t, uint64(42), e.ResourceID)
	assert.Equal(t, "ABCDEFGHIJ", e.Code)
}

func TestLogger_AnonymousActor(t *testing.T) {
	logger, sink := NewRecordingLogger()
	require.NoError(t, NewEvent(EventCertificateVerified, EventTypeCertificate, ActionVerify).
		WithActor(nil).
		Publish(context.Background(), logger))

	assert.Equal(t, "anonymous", sink.Events()[0].ActorType)
}

type flakySink struct {
	mu       sync.Mutex
	fail     bool
	received int
}

func (s *flakySink) Ingest(_ context.Context, events []AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return assert.AnError
	}
	s.received += len(events)
	return nil
}

func TestLogger_BatchFlushesAtSizeAndRetainsOnFailure(t *testing.T) {
	sink := &flakySink{fail: true}
	cfg := DefaultQuickwitConfig()
	cfg.BatchSize = 2
	cfg.FlushInterval = time.Hour
	logger := NewLogger(sink, cfg, zap.NewNop())

	ctx := context.Background()
	require.NoError(t, logger.Log(ctx, &AuditEvent{Name: EventTemplateCreated}))
	assert.Error(t, logger.Log(ctx, &AuditEvent{Name: EventTemplateUpdated}))

	sink.mu.Lock()
	sink.fail = false
	sink.mu.Unlock()

	require.NoError(t, logger.Close())
	assert.Equal(t, 2, sink.received)
}

func TestLogger_SearchUnsupported(t *testing.T) {
	logger, _ := NewRecordingLogger()
	_, err := logger.Search(context.Background(), &SearchQuery{})
	assert.ErrorIs(t, err, ErrSearchUnsupported)
}

func TestQuickwitClient_IngestAndSearch(t *testing.T) {
	var ingested []AuditEvent
	var searchBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/certificate-events/ingest":
			assert.Equal(t, "application/x-ndjson", r.Header.Get("Content-Type"))
			assert.True(t, strings.HasPrefix(r.Header.Get("User-Agent"), "certificate-service/"))
			scanner := bufio.NewScanner(r.Body)
			for scanner.Scan() {
				var e AuditEvent
				require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
				ingested = append(ingested, e)
			}
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/api/v1/certificate-events/search":
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &searchBody))
			_, _ = w.Write([]byte(`{"hits":[{"id":"e1","event_name":"certificate_verified","code":"ABC"}],"num_hits":1}`))
		case r.URL.Path == "/api/v1/indexes/certificate-events":
			w.WriteHeader(http.StatusNotFound)
		case r.URL.Path == "/api/v1/indexes" && r.Method == http.MethodPost:
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/health/readyz":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer server.Close()

	cfg := DefaultQuickwitConfig()
	cfg.BaseURL = server.URL + "/"
	cfg.EnableBatch = false
	client := NewQuickwitClient(cfg, zap.NewNop())
	logger := NewLogger(client, cfg, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, logger.EnsureIndex(ctx))
	require.NoError(t, client.HealthCheck(ctx))
	require.NoError(t, logger.Log(ctx, &AuditEvent{Name: EventCertificateVerified, Code: "ABC"}))
	require.Len(t, ingested, 1)
	assert.Equal(t, "ABC", ingested[0].Code)

	tenantID := uint64(4)
	result, err := logger.Search(ctx, &SearchQuery{TenantID: &tenantID, EventNames: []string{EventCertificateVerified}, MaxHits: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.NumHits)
	require.Len(t, result.Hits, 1)
	assert.Equal(t, "e1", result.Hits[0].ID)

	query, _ := searchBody["query"].(string)
	assert.True(t, strings.Contains(query, "tenant_id:4"))
	assert.True(t, strings.Contains(query, "event_name:(certificate_verified)"))
}

func TestBuildQueryString_Empty(t *testing.T) {
	assert.Equal(t, "*", buildQueryString(&SearchQuery{}))
	assert.Equal(t, "resource_id:5 AND code:XYZ", buildQueryString(&SearchQuery{ResourceID: 5, Code: "XYZ"}))
}
