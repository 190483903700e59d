// Package models contains database models for the certificate service.
package models

import (
	"time"

	"gorm.io/datatypes"
)

// TenantStatus represents the status of a tenant
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
)

// Tenant represents an isolation scope for templates and users.
// Tenant 0 is the implicit shared scope and has no row.
type Tenant struct {
	ID          uint64            `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string            `gorm:"size:255;uniqueIndex;not null" json:"name"`
	Description string            `gorm:"type:text" json:"description,omitempty"`
	Status      TenantStatus      `gorm:"size:20;not null;default:'active'" json:"status"`
	Settings    datatypes.JSONMap `json:"settings,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`

	// Relationships
	APIKeys []TenantAPIKey `gorm:"foreignKey:TenantID" json:"api_keys,omitempty"`
}

// TableName returns the table name for Tenant
func (Tenant) TableName() string {
	return "tenants"
}

// TenantAPIKey authenticates an integration acting inside a tenant.
// The secret half of the key is stored as a bcrypt hash.
type TenantAPIKey struct {
	ID           string                      `gorm:"primaryKey;size:64" json:"id"`
	TenantID     uint64                      `gorm:"not null;index" json:"tenant_id"`
	Name         string                      `gorm:"size:255;not null" json:"name"`
	SecretHash   string                      `gorm:"size:255;not null" json:"-"`
	Capabilities datatypes.JSONSlice[string] `json:"capabilities,omitempty"`
	ExpiresAt    *time.Time                  `json:"expires_at,omitempty"`
	LastUsedAt   *time.Time                  `json:"last_used_at,omitempty"`
	CreatedAt    time.Time                   `json:"created_at"`
	RevokedAt    *time.Time                  `json:"revoked_at,omitempty"`
}

// TableName returns the table name for TenantAPIKey
func (TenantAPIKey) TableName() string {
	return "tenant_api_keys"
}

// IsUsable reports whether the key is neither revoked nor expired
func (k *TenantAPIKey) IsUsable(now time.Time) bool {
	if k.RevokedAt != nil {
		return false
	}
	return k.ExpiresAt == nil || k.ExpiresAt.After(now)
}
