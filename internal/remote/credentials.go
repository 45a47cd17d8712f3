package remote

import (
	"fmt"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// CredentialStore persists opaque session credentials per tenant.
type CredentialStore interface {
	// Load returns the stored credentials, or nil if none are stored.
	Load(tenantID string) (*Credentials, error)
	// Save stores credentials, replacing any prior blob.
	Save(tenantID string, creds *Credentials) error
	// Clear erases stored credentials. Clearing an empty store is a no-op.
	Clear(tenantID string) error
}

// GormCredentialStore stores credential blobs on the Tenant row.
type GormCredentialStore struct {
	db *gorm.DB
}

// NewGormCredentialStore creates a CredentialStore backed by the tenant table.
func NewGormCredentialStore(db *gorm.DB) *GormCredentialStore {
	return &GormCredentialStore{db: db}
}

func (s *GormCredentialStore) Load(tenantID string) (*Credentials, error) {
	var t models.Tenant
	if err := s.db.Select("credentials").Where("tenant_id = ?", tenantID).First(&t).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("remote: load credentials for %s: %w", tenantID, err)
	}
	if len(t.Credentials) == 0 {
		return nil, nil
	}
	return &Credentials{Blob: t.Credentials}, nil
}

func (s *GormCredentialStore) Save(tenantID string, creds *Credentials) error {
	if creds == nil {
		return s.Clear(tenantID)
	}
	result := s.db.Model(&models.Tenant{}).
		Where("tenant_id = ?", tenantID).
		Update("credentials", creds.Blob)
	if result.Error != nil {
		return fmt.Errorf("remote: save credentials for %s: %w", tenantID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("remote: save credentials: tenant %s not found", tenantID)
	}
	return nil
}

func (s *GormCredentialStore) Clear(tenantID string) error {
	if err := s.db.Model(&models.Tenant{}).
		Where("tenant_id = ?", tenantID).
		Update("credentials", []byte(nil)).Error; err != nil {
		return fmt.Errorf("remote: clear credentials for %s: %w", tenantID, err)
	}
	return nil
}
