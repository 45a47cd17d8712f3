package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/local"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/remote"
	"gorm.io/gorm"
)

type registryFixture struct {
	reg      *Registry
	db       *gorm.DB
	channels *local.MockChannelClient
	clients  map[string]*remote.MockClient
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()
	f := &registryFixture{
		db:       setupTestDB(t),
		channels: local.NewMockChannelClient(),
		clients:  make(map[string]*remote.MockClient),
	}

	reg, err := NewRegistry(RegistryOpts{
		DB:       f.db,
		Channels: f.channels,
		NewRemote: func(tenantID string) (remote.Client, error) {
			c := remote.NewMockClient()
			f.clients[tenantID] = c
			return c, nil
		},
		Bridge: config.BridgeConfig{
			ReconnectDelaySec:    1,
			MaxReconnectAttempts: 2,
			PairingTTLSec:        1,
			PairingDedupSec:      1,
			SendSpacingMs:        1,
			MaxSendAttempts:      2,
		},
		Out: discard(),
	})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	f.reg = reg
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		reg.Shutdown(ctx)
	})
	return f
}

func TestRegistry_CreateIdempotent(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	first, err := f.reg.Create(ctx, "guild-2", "Second Guild")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	second, err := f.reg.Create(ctx, "guild-2", "Second Guild")
	if err != nil {
		t.Fatalf("second Create failed: %v", err)
	}
	if first != second {
		t.Error("Create for an existing tenant must return the existing instance")
	}
	if len(f.clients) != 1 {
		t.Errorf("expected 1 remote client built, got %d", len(f.clients))
	}
}

// stallingClient blocks in Connect until released, standing in for a remote
// network that is slow to answer.
type stallingClient struct {
	*remote.MockClient
	connecting  chan struct{}
	release     chan struct{}
	enterOnce   sync.Once
	releaseOnce sync.Once
}

func (c *stallingClient) Connect(ctx context.Context, creds *remote.Credentials) error {
	c.enterOnce.Do(func() { close(c.connecting) })
	select {
	case <-c.release:
	case <-ctx.Done():
	}
	return c.MockClient.Connect(ctx, creds)
}

func (c *stallingClient) Release() {
	c.releaseOnce.Do(func() { close(c.release) })
}

func TestRegistry_CreateDoesNotBlockLookups(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	if _, err := f.reg.Create(ctx, "guild-2", ""); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	slow := &stallingClient{
		MockClient: remote.NewMockClient(),
		connecting: make(chan struct{}),
		release:    make(chan struct{}),
	}
	f.reg.newRemote = func(tenantID string) (remote.Client, error) { return slow, nil }
	defer slow.Release()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := f.reg.Create(ctx, "guild-3", ""); err != nil {
			t.Errorf("Create failed: %v", err)
		}
	}()
	<-slow.connecting

	// guild-3 is mid-connect; lookups for other tenants must answer now.
	lookups := make(chan struct{})
	go func() {
		defer close(lookups)
		if _, ok := f.reg.Get("guild-2"); !ok {
			t.Error("Get must hit while another tenant connects")
		}
		f.reg.Statuses()
	}()
	select {
	case <-lookups:
	case <-time.After(time.Second):
		t.Fatal("lookups stalled behind a connecting tenant")
	}

	// The connecting instance is already addressable.
	if _, ok := f.reg.Get("guild-3"); !ok {
		t.Error("connecting instance must be registered")
	}
	slow.Release()
	<-done
}

func TestRegistry_CreatePersistsTenant(t *testing.T) {
	f := newRegistryFixture(t)

	if _, err := f.reg.Create(context.Background(), "guild-2", "Second Guild"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	var tenant models.Tenant
	if err := f.db.Where("tenant_id = ?", "guild-2").First(&tenant).Error; err != nil {
		t.Fatalf("tenant row not created: %v", err)
	}
	if tenant.Name != "Second Guild" || !tenant.GreetNewContacts {
		t.Errorf("unexpected tenant defaults: %+v", tenant)
	}
}

func TestRegistry_Get(t *testing.T) {
	f := newRegistryFixture(t)

	if _, ok := f.reg.Get("guild-2"); ok {
		t.Error("Get must miss before Create")
	}
	inst, err := f.reg.Create(context.Background(), "guild-2", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	got, ok := f.reg.Get("guild-2")
	if !ok || got != inst {
		t.Error("Get must return the created instance")
	}
}

func TestRegistry_GetByChannel(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	inst, err := f.reg.Create(ctx, "guild-2", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	ticket, err := inst.Routing().ResolveOrCreateTicket(ctx, "alice@remote", "Alice")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	got, ok := f.reg.GetByChannel(ticket.ChannelID)
	if !ok || got != inst {
		t.Error("GetByChannel must resolve through the ticket table")
	}
	if _, ok := f.reg.GetByChannel("no-such-channel"); ok {
		t.Error("GetByChannel must miss for unknown channels")
	}
}

func TestRegistry_Remove(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	if _, err := f.reg.Create(ctx, "guild-2", ""); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := f.reg.Remove(ctx, "guild-2"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	if _, ok := f.reg.Get("guild-2"); ok {
		t.Error("instance must be gone after Remove")
	}
	var count int64
	f.db.Model(&models.Tenant{}).Where("tenant_id = ?", "guild-2").Count(&count)
	if count != 0 {
		t.Error("tenant row must be deleted")
	}
}

func TestRegistry_RemoveMidReconnect(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	inst, err := f.reg.Create(ctx, "guild-2", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	client := f.clients["guild-2"]
	client.EmitReady()
	waitFor(t, time.Second, func() bool { return inst.Supervisor().IsReady() }, "connected")

	// Session drops; a reconnect is pending when Remove lands.
	client.EmitClosed("network error")
	waitFor(t, time.Second, func() bool { return !inst.Supervisor().IsReady() }, "disconnected")

	if err := f.reg.Remove(ctx, "guild-2"); err != nil {
		t.Fatalf("Remove mid-reconnect failed: %v", err)
	}
	if _, ok := f.reg.Get("guild-2"); ok {
		t.Error("instance must be gone")
	}
}

func TestRegistry_RemoveUnknownTenant(t *testing.T) {
	f := newRegistryFixture(t)
	if err := f.reg.Remove(context.Background(), "guild-unknown"); err != nil {
		t.Errorf("Remove of unknown tenant must still clean the row: %v", err)
	}
}

func TestRegistry_Restore(t *testing.T) {
	f := newRegistryFixture(t)
	// guild-1 exists from setup; add a second persisted tenant.
	if err := f.db.Create(&models.Tenant{TenantID: "guild-2", Name: "Second"}).Error; err != nil {
		t.Fatalf("seed tenant: %v", err)
	}

	if err := f.reg.Restore(context.Background()); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	if _, ok := f.reg.Get("guild-1"); !ok {
		t.Error("guild-1 must be restored")
	}
	if _, ok := f.reg.Get("guild-2"); !ok {
		t.Error("guild-2 must be restored")
	}
	if got := len(f.reg.Statuses()); got != 2 {
		t.Errorf("expected 2 statuses, got %d", got)
	}
}

func TestRegistry_UpdateSettings(t *testing.T) {
	f := newRegistryFixture(t)
	name := "Renamed"
	greet := false

	tenant, err := f.reg.UpdateSettings(context.Background(), "guild-1", models.SettingsPatch{
		Name:             &name,
		GreetNewContacts: &greet,
	})
	if err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	if tenant.Name != "Renamed" || tenant.GreetNewContacts {
		t.Errorf("patch not applied: %+v", tenant)
	}
	// Unspecified fields keep their stored values.
	if !tenant.SendClosingNotice {
		t.Error("unpatched field must keep its value")
	}

	var row models.Tenant
	f.db.Where("tenant_id = ?", "guild-1").First(&row)
	if row.Name != "Renamed" {
		t.Error("patch must be persisted")
	}
}

func TestRegistry_UpdateSettingsUnknownTenant(t *testing.T) {
	f := newRegistryFixture(t)
	if _, err := f.reg.UpdateSettings(context.Background(), "guild-unknown", models.SettingsPatch{}); err == nil {
		t.Fatal("expected error for unknown tenant")
	}
}

func TestRegistry_Sweep(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	inst, err := f.reg.Create(ctx, "guild-2", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	ticket, err := inst.Routing().ResolveOrCreateTicket(ctx, "alice@remote", "")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if err := inst.Routing().CloseTicket(ctx, ticket.ChannelID, false); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	f.channels.DeleteChannel(ctx, ticket.ChannelID)

	f.reg.Sweep(ctx)

	var row models.Ticket
	f.db.Where("id = ?", ticket.ID).First(&row)
	if !row.Retired {
		t.Error("sweep must retire stale closed tickets")
	}
}
