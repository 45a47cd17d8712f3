package bridge

import (
	"context"
	"fmt"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// UpdateSettings merges a partial settings patch into a tenant's row.
// Settings are read fresh from the row at each use, so live instances pick
// the change up on their next greeting, closing notice, or operator notice
// without a restart. Fields left nil in the patch keep their prior value.
func (r *Registry) UpdateSettings(ctx context.Context, tenantID string, patch models.SettingsPatch) (*models.Tenant, error) {
	var tenant models.Tenant
	err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&tenant).Error
	if err == gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("bridge: registry: tenant %s not found", tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("bridge: registry: load tenant %s: %w", tenantID, err)
	}

	tenant.Apply(patch)
	if err := r.db.WithContext(ctx).Save(&tenant).Error; err != nil {
		return nil, fmt.Errorf("bridge: registry: save settings for %s: %w", tenantID, err)
	}
	return &tenant, nil
}
