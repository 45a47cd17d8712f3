package models

import "time"

// Connection states for a tenant's remote session. Persisted as plain
// strings so the status API and CLI can show them without translation.
const (
	StateUninitialized  = "uninitialized"
	StateAwaitingPair   = "awaiting_pairing"
	StateAuthenticating = "authenticating"
	StateConnected      = "connected"
	StateDisconnected   = "disconnected"
	StateReconnecting   = "reconnecting"
	StateLoggedOut      = "logged_out"
)

// Tenant is the persisted record for one bridge instance: one collaboration
// workspace (guild), its remote-session credentials, and its settings.
type Tenant struct {
	TenantID        string `gorm:"primaryKey;size:64"`
	Name            string `gorm:"size:128"`
	ConnectionState string `gorm:"size:24;default:uninitialized"`
	Credentials     []byte `gorm:"type:blob"` // opaque blob owned by the remote client
	CategoryID      string `gorm:"size:64"`   // parent category for ticket channels
	OpsChannelID    string `gorm:"size:64"`   // channel for operator notices

	GreetingTemplate  string `gorm:"type:text"`
	ClosingTemplate   string `gorm:"type:text"`
	GreetNewContacts  bool   `gorm:"default:true"`
	SendClosingNotice bool   `gorm:"default:true"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Tickets []Ticket `gorm:"foreignKey:TenantID"`
}

// SettingsPatch carries a partial settings update. Nil fields keep their
// prior value (merge semantics).
type SettingsPatch struct {
	Name              *string
	CategoryID        *string
	OpsChannelID      *string
	GreetingTemplate  *string
	ClosingTemplate   *string
	GreetNewContacts  *bool
	SendClosingNotice *bool
}

// Apply merges the patch into the tenant. Nil fields are left untouched.
func (t *Tenant) Apply(p SettingsPatch) {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.CategoryID != nil {
		t.CategoryID = *p.CategoryID
	}
	if p.OpsChannelID != nil {
		t.OpsChannelID = *p.OpsChannelID
	}
	if p.GreetingTemplate != nil {
		t.GreetingTemplate = *p.GreetingTemplate
	}
	if p.ClosingTemplate != nil {
		t.ClosingTemplate = *p.ClosingTemplate
	}
	if p.GreetNewContacts != nil {
		t.GreetNewContacts = *p.GreetNewContacts
	}
	if p.SendClosingNotice != nil {
		t.SendClosingNotice = *p.SendClosingNotice
	}
}
