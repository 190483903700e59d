package tenant

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/yourorg/certificate-service/pkg/auth"
	"github.com/yourorg/certificate-service/pkg/db/models"
)

// Resolver determines the tenant a principal currently acts in
type Resolver interface {
	CurrentTenant(ctx context.Context, p *auth.Principal) (uint64, error)
}

// DBResolver trusts the principal's tenant claim once the tenant row is active
type DBResolver struct {
	db *gorm.DB
}

// NewDBResolver creates a resolver backed by the tenants table
func NewDBResolver(db *gorm.DB) *DBResolver {
	return &DBResolver{db: db}
}

// CurrentTenant returns the principal's tenant if it is shared or active
func (r *DBResolver) CurrentTenant(ctx context.Context, p *auth.Principal) (uint64, error) {
	if p == nil || p.TenantID == models.SharedTenantID {
		return models.SharedTenantID, nil
	}

	var count int64
	err := r.db.WithContext(ctx).Model(&models.Tenant{}).
		Where("id = ? AND status = ?", p.TenantID, models.TenantStatusActive).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to resolve tenant: %w", err)
	}
	if count == 0 {
		return 0, fmt.Errorf("tenant %d not found or suspended", p.TenantID)
	}

	return p.TenantID, nil
}

// StaticResolver always resolves to the principal's claimed tenant
type StaticResolver struct{}

// CurrentTenant returns the claimed tenant unchanged
func (StaticResolver) CurrentTenant(_ context.Context, p *auth.Principal) (uint64, error) {
	if p == nil {
		return models.SharedTenantID, nil
	}
	return p.TenantID, nil
}
