package models

import "time"

// Ticket statuses.
const (
	TicketOpen   = "open"
	TicketClosed = "closed"
)

// Ticket links one remote contact to one local channel for one tenant.
// At most one non-retired OPEN ticket exists per (tenant, contact); channel
// IDs are never reused across a tenant's ticket history.
type Ticket struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	TenantID    string `gorm:"size:64;not null;index:idx_tenant_contact"`
	ContactID   string `gorm:"size:128;not null;index:idx_tenant_contact"` // normalized remote address
	ChannelID   string `gorm:"size:64;not null;index"`
	Status      string `gorm:"size:16;default:open;index"`
	DisplayName string `gorm:"size:128"`
	Notes       string `gorm:"type:text"`

	// Retired marks rows whose channel was deleted out-of-band. Retired
	// tickets are history only and never reopened.
	Retired bool `gorm:"default:false"`

	OpenedAt  time.Time
	ClosedAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
