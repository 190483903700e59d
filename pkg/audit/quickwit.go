package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/certificate-service/internal/version"
)

// Sink receives batches of audit events
type Sink interface {
	Ingest(ctx context.Context, events []AuditEvent) error
}

// QuickwitClient provides HTTP client for Quickwit
type QuickwitClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	indexID    string
}

// QuickwitConfig represents Quickwit client configuration
type QuickwitConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	BaseURL       string        `mapstructure:"base_url"`
	IndexID       string        `mapstructure:"index_id"`
	Timeout       time.Duration `mapstructure:"timeout"`
	EnableBatch   bool          `mapstructure:"enable_batch"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// DefaultQuickwitConfig returns default Quickwit configuration
func DefaultQuickwitConfig() *QuickwitConfig {
	return &QuickwitConfig{
		BaseURL:       "http://localhost:7280",
		IndexID:       "certificate-events",
		Timeout:       30 * time.Second,
		EnableBatch:   true,
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
	}
}

// NewQuickwitClient creates a new Quickwit client
func NewQuickwitClient(config *QuickwitConfig, logger *zap.Logger) *QuickwitClient {
	return &QuickwitClient{
		baseURL: strings.TrimSuffix(config.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:  logger,
		indexID: config.IndexID,
	}
}

// CreateIndex creates the event index
func (c *QuickwitClient) CreateIndex(ctx context.Context, config *QuickwitIndexConfig) error {
	data, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal index config: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/v1/indexes", "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		c.logger.Info("index already exists", zap.String("index_id", config.IndexID))
		return nil
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to create index: status=%d body=%s", resp.StatusCode, string(body))
	}

	c.logger.Info("index created", zap.String("index_id", config.IndexID))
	return nil
}

// IndexExists checks if an index exists
func (c *QuickwitClient) IndexExists(ctx context.Context, indexID string) (bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/indexes/"+indexID, "", nil)
	if err != nil {
		return false, fmt.Errorf("failed to check index: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}

// Ingest ingests events into the index as NDJSON
func (c *QuickwitClient) Ingest(ctx context.Context, events []AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	var buffer bytes.Buffer
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			c.logger.Error("failed to marshal event", zap.Error(err), zap.String("event_id", event.ID))
			continue
		}
		buffer.Write(data)
		buffer.WriteByte('\n')
	}

	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/%s/ingest", c.indexID), "application/x-ndjson", &buffer)
	if err != nil {
		return fmt.Errorf("failed to ingest events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to ingest events: status=%d body=%s", resp.StatusCode, string(body))
	}

	return nil
}

// Search searches the event index
func (c *QuickwitClient) Search(ctx context.Context, query *SearchQuery) (*SearchResult, error) {
	searchReq := map[string]interface{}{
		"query":        buildQueryString(query),
		"max_hits":     query.MaxHits,
		"start_offset": query.StartOffset,
		"sort_by":      "-timestamp",
	}
	if query.StartTime != nil {
		searchReq["start_timestamp"] = query.StartTime.Unix()
	}
	if query.EndTime != nil {
		searchReq["end_timestamp"] = query.EndTime.Unix()
	}

	data, err := json.Marshal(searchReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/%s/search", c.indexID), "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("search failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var searchResp struct {
		Hits        []json.RawMessage `json:"hits"`
		NumHits     int64             `json:"num_hits"`
		ElapsedSecs float64           `json:"elapsed_secs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	result := &SearchResult{
		NumHits:     searchResp.NumHits,
		ElapsedSecs: searchResp.ElapsedSecs,
		Hits:        make([]AuditEvent, 0, len(searchResp.Hits)),
	}
	for _, hit := range searchResp.Hits {
		var event AuditEvent
		if err := json.Unmarshal(hit, &event); err != nil {
			c.logger.Error("failed to unmarshal hit", zap.Error(err))
			continue
		}
		result.Hits = append(result.Hits, event)
	}

	return result, nil
}

// buildQueryString builds the Quickwit query string from SearchQuery
func buildQueryString(query *SearchQuery) string {
	var parts []string

	if query.TenantID != nil {
		parts = append(parts, fmt.Sprintf("tenant_id:%d", *query.TenantID))
	}
	if len(query.EventNames) > 0 {
		parts = append(parts, fmt.Sprintf("event_name:(%s)", strings.Join(query.EventNames, " OR ")))
	}
	if query.ResourceID != 0 {
		parts = append(parts, fmt.Sprintf("resource_id:%d", query.ResourceID))
	}
	if query.Code != "" {
		parts = append(parts, fmt.Sprintf("code:%s", query.Code))
	}
	if query.Query != "" {
		parts = append(parts, query.Query)
	}

	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, " AND ")
}

// HealthCheck performs a health check on Quickwit
func (c *QuickwitClient) HealthCheck(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health/readyz", "", nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("quickwit unhealthy: status=%d", resp.StatusCode)
	}
	return nil
}

func (c *QuickwitClient) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	return c.httpClient.Do(req)
}
