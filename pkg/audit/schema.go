// Package audit records certificate domain events and ships them to Quickwit.
package audit

import (
	"time"
)

// EventType represents the kind of resource an event concerns
type EventType string

const (
	EventTypeTemplate    EventType = "template"
	EventTypeCertificate EventType = "certificate"
	EventTypeTenant      EventType = "tenant"
	EventTypeSystem      EventType = "system"
)

// EventAction represents the action performed
type EventAction string

const (
	ActionCreate EventAction = "create"
	ActionUpdate EventAction = "update"
	ActionDelete EventAction = "delete"
	ActionIssue  EventAction = "issue"
	ActionRevoke EventAction = "revoke"
	ActionVerify EventAction = "verify"
)

// Domain event names
const (
	EventTemplateCreated     = "template_created"
	EventTemplateUpdated     = "template_updated"
	EventTemplateDeleted     = "template_deleted"
	EventCertificateIssued   = "certificate_issued"
	EventCertificateRevoked  = "certificate_revoked"
	EventCertificateVerified = "certificate_verified"
)

// EventOutcome represents the outcome of the action
type EventOutcome string

const (
	OutcomeSuccess EventOutcome = "success"
	OutcomeFailure EventOutcome = "failure"
)

// AuditEvent represents one domain event
type AuditEvent struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"event_name"`
	Timestamp     time.Time              `json:"timestamp"`
	TenantID      uint64                 `json:"tenant_id"`
	EventType     EventType              `json:"event_type"`
	Action        EventAction            `json:"action"`
	Outcome       EventOutcome           `json:"outcome"`
	ActorID       uint64                 `json:"actor_id,omitempty"`
	ActorType     string                 `json:"actor_type,omitempty"` // user, api, anonymous, system
	ResourceID    uint64                 `json:"resource_id,omitempty"`
	ResourceType  string                 `json:"resource_type,omitempty"`
	ContextID     uint64                 `json:"context_id,omitempty"`
	RelatedUserID uint64                 `json:"related_user_id,omitempty"`
	Code          string                 `json:"code,omitempty"`
	URL           string                 `json:"url,omitempty"`
	Description   string                 `json:"description,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	RequestID     string                 `json:"request_id,omitempty"`
}

// QuickwitIndexConfig represents Quickwit index configuration
type QuickwitIndexConfig struct {
	Version          string           `json:"version"`
	IndexID          string           `json:"index_id"`
	DocMapping       DocMapping       `json:"doc_mapping"`
	SearchSettings   SearchSettings   `json:"search_settings"`
	IndexingSettings IndexingSettings `json:"indexing_settings"`
	RetentionPolicy  *RetentionPolicy `json:"retention_policy,omitempty"`
}

// DocMapping represents document mapping configuration
type DocMapping struct {
	Mode           string         `json:"mode"`
	FieldMappings  []FieldMapping `json:"field_mappings"`
	TimestampField string         `json:"timestamp_field"`
	TagFields      []string       `json:"tag_fields"`
	PartitionKey   string         `json:"partition_key,omitempty"`
}

// FieldMapping represents a field mapping
type FieldMapping struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Indexed   bool   `json:"indexed,omitempty"`
	Stored    bool   `json:"stored,omitempty"`
	Fast      bool   `json:"fast,omitempty"`
	Tokenizer string `json:"tokenizer,omitempty"`
}

// SearchSettings represents search configuration
type SearchSettings struct {
	DefaultSearchFields []string `json:"default_search_fields"`
}

// IndexingSettings represents indexing configuration
type IndexingSettings struct {
	CommitTimeoutSecs int `json:"commit_timeout_secs"`
}

// RetentionPolicy represents data retention configuration
type RetentionPolicy struct {
	Period   string `json:"period"`
	Schedule string `json:"schedule"`
}

// DefaultAuditIndexConfig returns the default certificate event index configuration
func DefaultAuditIndexConfig(indexID string) *QuickwitIndexConfig {
	return &QuickwitIndexConfig{
		Version: "0.7",
		IndexID: indexID,
		DocMapping: DocMapping{
			Mode:           "dynamic",
			TimestampField: "timestamp",
			TagFields:      []string{"tenant_id", "event_name", "event_type", "outcome"},
			PartitionKey:   "tenant_id",
			FieldMappings: []FieldMapping{
				{Name: "id", Type: "text", Indexed: true, Stored: true},
				{Name: "event_name", Type: "text", Indexed: true, Stored: true, Fast: true},
				{Name: "timestamp", Type: "datetime", Indexed: true, Stored: true, Fast: true},
				{Name: "tenant_id", Type: "u64", Indexed: true, Stored: true, Fast: true},
				{Name: "event_type", Type: "text", Indexed: true, Stored: true, Fast: true},
				{Name: "action", Type: "text", Indexed: true, Stored: true, Fast: true},
				{Name: "outcome", Type: "text", Indexed: true, Stored: true, Fast: true},
				{Name: "actor_id", Type: "u64", Indexed: true, Stored: true},
				{Name: "resource_id", Type: "u64", Indexed: true, Stored: true},
				{Name: "related_user_id", Type: "u64", Indexed: true, Stored: true},
				{Name: "code", Type: "text", Indexed: true, Stored: true},
				{Name: "url", Type: "text", Indexed: false, Stored: true},
				{Name: "description", Type: "text", Indexed: true, Stored: true, Tokenizer: "default"},
				{Name: "request_id", Type: "text", Indexed: true, Stored: true},
			},
		},
		SearchSettings: SearchSettings{
			DefaultSearchFields: []string{"description", "code"},
		},
		IndexingSettings: IndexingSettings{
			CommitTimeoutSecs: 30,
		},
		RetentionPolicy: &RetentionPolicy{
			Period:   "365 days",
			Schedule: "daily",
		},
	}
}

// SearchQuery represents a search query
type SearchQuery struct {
	Query       string
	TenantID    *uint64
	EventNames  []string
	ResourceID  uint64
	Code        string
	StartTime   *time.Time
	EndTime     *time.Time
	MaxHits     int
	StartOffset int
}

// SearchResult represents search results
type SearchResult struct {
	Hits        []AuditEvent `json:"hits"`
	NumHits     int64        `json:"num_hits"`
	ElapsedSecs float64      `json:"elapsed_secs"`
}
