package tenant

import (
	"gorm.io/gorm"

	"github.com/yourorg/certificate-service/pkg/db/models"
)

// TenantScope is a GORM scope that filters by tenant
func TenantScope(tenantID uint64) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("tenant_id = ?", tenantID)
	}
}

// VisibleScope filters to rows owned by the tenant or shared with every tenant
func VisibleScope(tenantID uint64) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if tenantID == models.SharedTenantID {
			return db.Where("tenant_id = ?", models.SharedTenantID)
		}
		return db.Where("tenant_id IN ?", []uint64{tenantID, models.SharedTenantID})
	}
}
