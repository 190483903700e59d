// Package tenant provides tenant management and tenant scoping for the certificate service.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yourorg/certificate-service/pkg/apperr"
	"github.com/yourorg/certificate-service/pkg/auth"
	"github.com/yourorg/certificate-service/pkg/db/models"
)

// Manager manages tenant operations
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager creates a new tenant manager
func NewManager(db *gorm.DB, logger *zap.Logger) *Manager {
	return &Manager{
		db:     db,
		logger: logger,
	}
}

// CreateTenantRequest represents a request to create a tenant
type CreateTenantRequest struct {
	Name        string                 `json:"name" binding:"required"`
	Description string                 `json:"description"`
	Settings    map[string]interface{} `json:"settings"`
}

// Create creates a new tenant
func (m *Manager) Create(ctx context.Context, req *CreateTenantRequest) (*models.Tenant, error) {
	if req.Name == "" {
		return nil, apperr.Invalid("name", "required")
	}

	tenant := &models.Tenant{
		Name:        req.Name,
		Description: req.Description,
		Status:      models.TenantStatusActive,
		Settings:    req.Settings,
	}

	if err := m.db.WithContext(ctx).Create(tenant).Error; err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	m.logger.Info("tenant created",
		zap.Uint64("tenant_id", tenant.ID),
		zap.String("name", tenant.Name))

	return tenant, nil
}

// Get retrieves a tenant by ID
func (m *Manager) Get(ctx context.Context, tenantID uint64) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := m.db.WithContext(ctx).Where("id = ?", tenantID).First(&tenant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("tenant")
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &tenant, nil
}

// GetByName retrieves a tenant by name
func (m *Manager) GetByName(ctx context.Context, name string) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := m.db.WithContext(ctx).Where("name = ?", name).First(&tenant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("tenant")
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &tenant, nil
}

// Suspend suspends a tenant
func (m *Manager) Suspend(ctx context.Context, tenantID uint64) error {
	result := m.db.WithContext(ctx).Model(&models.Tenant{}).Where("id = ?", tenantID).Update("status", models.TenantStatusSuspended)

	if result.Error != nil {
		return fmt.Errorf("failed to suspend tenant: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return apperr.NotFound("tenant")
	}

	m.logger.Info("tenant suspended",
		zap.Uint64("tenant_id", tenantID))

	return nil
}

// Activate activates a suspended tenant
func (m *Manager) Activate(ctx context.Context, tenantID uint64) error {
	result := m.db.WithContext(ctx).Model(&models.Tenant{}).
		Where("id = ? AND status = ?", tenantID, models.TenantStatusSuspended).
		Update("status", models.TenantStatusActive)

	if result.Error != nil {
		return fmt.Errorf("failed to activate tenant: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return apperr.NotFound("suspended tenant")
	}

	m.logger.Info("tenant activated",
		zap.Uint64("tenant_id", tenantID))

	return nil
}

// ListTenantsRequest represents a request to list tenants
type ListTenantsRequest struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

// List lists tenants
func (m *Manager) List(ctx context.Context, req *ListTenantsRequest) ([]models.Tenant, int64, error) {
	query := m.db.WithContext(ctx).Model(&models.Tenant{})

	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count tenants: %w", err)
	}

	if req.Limit > 0 {
		query = query.Limit(req.Limit)
	}
	if req.Offset > 0 {
		query = query.Offset(req.Offset)
	}

	var tenants []models.Tenant
	if err := query.Order("created_at DESC").Find(&tenants).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list tenants: %w", err)
	}

	return tenants, total, nil
}

// TenantStats contains tenant statistics
type TenantStats struct {
	Templates int64 `json:"templates"`
	Issues    int64 `json:"issues"`
	Users     int64 `json:"users"`
}

// GetStats returns template, issue and user counts for a tenant
func (m *Manager) GetStats(ctx context.Context, tenantID uint64) (*TenantStats, error) {
	stats := &TenantStats{}
	db := m.db.WithContext(ctx)

	if err := db.Model(&models.Template{}).Scopes(TenantScope(tenantID)).Count(&stats.Templates).Error; err != nil {
		return nil, fmt.Errorf("failed to count templates: %w", err)
	}

	templateIDs := db.Model(&models.Template{}).Select("id").Scopes(TenantScope(tenantID))
	if err := db.Model(&models.Issue{}).Where("template_id IN (?)", templateIDs).Count(&stats.Issues).Error; err != nil {
		return nil, fmt.Errorf("failed to count issues: %w", err)
	}

	if err := db.Model(&models.User{}).Scopes(TenantScope(tenantID)).Count(&stats.Users).Error; err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	return stats, nil
}

// CreateAPIKeyRequest represents a request to mint a tenant API key
type CreateAPIKeyRequest struct {
	Name         string     `json:"name" binding:"required"`
	Capabilities []string   `json:"capabilities"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

// CreateAPIKey mints a key for the tenant. The returned plaintext is shown once.
func (m *Manager) CreateAPIKey(ctx context.Context, tenantID uint64, req *CreateAPIKeyRequest) (*models.TenantAPIKey, string, error) {
	if _, err := m.Get(ctx, tenantID); err != nil {
		return nil, "", err
	}

	secret, hash, err := auth.NewAPIKeySecret()
	if err != nil {
		return nil, "", err
	}

	key := &models.TenantAPIKey{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		Name:         req.Name,
		SecretHash:   hash,
		Capabilities: req.Capabilities,
		ExpiresAt:    req.ExpiresAt,
	}

	if err := m.db.WithContext(ctx).Create(key).Error; err != nil {
		return nil, "", fmt.Errorf("failed to create API key: %w", err)
	}

	m.logger.Info("api key created",
		zap.Uint64("tenant_id", tenantID),
		zap.String("key_id", key.ID))

	return key, auth.FormatAPIKey(key.ID, secret), nil
}

// RevokeAPIKey marks a key as revoked
func (m *Manager) RevokeAPIKey(ctx context.Context, tenantID uint64, keyID string) error {
	result := m.db.WithContext(ctx).Model(&models.TenantAPIKey{}).
		Where("id = ? AND tenant_id = ? AND revoked_at IS NULL", keyID, tenantID).
		Update("revoked_at", time.Now())

	if result.Error != nil {
		return fmt.Errorf("failed to revoke API key: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("api key")
	}

	m.logger.Info("api key revoked", zap.String("key_id", keyID))
	return nil
}

// ValidateAPIKey resolves a presented API key to an integration principal
func (m *Manager) ValidateAPIKey(ctx context.Context, presented string) (*auth.Principal, error) {
	id, secret, err := auth.SplitAPIKey(presented)
	if err != nil {
		return nil, err
	}

	var key models.TenantAPIKey
	if err := m.db.WithContext(ctx).Where("id = ?", id).First(&key).Error; err != nil {
		return nil, fmt.Errorf("invalid API key")
	}

	now := time.Now()
	if !key.IsUsable(now) || !auth.CompareAPIKeySecret(key.SecretHash, secret) {
		return nil, fmt.Errorf("invalid API key")
	}

	if err := m.db.WithContext(ctx).Model(&key).Update("last_used_at", now).Error; err != nil {
		m.logger.Warn("failed to record api key use", zap.String("key_id", id), zap.Error(err))
	}

	return &auth.Principal{
		TenantID:     key.TenantID,
		FullName:     key.Name,
		Capabilities: append([]string(nil), key.Capabilities...),
		Type:         auth.TokenTypeAPI,
	}, nil
}
