package bridge

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/local"
	"github.com/zulandar/switchboard/internal/media"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/remote"
	"github.com/zulandar/switchboard/internal/transcript"
	"gorm.io/gorm"
)

// RemoteClientFactory builds a fresh remote client for one tenant's session.
type RemoteClientFactory func(tenantID string) (remote.Client, error)

// Registry is the process-wide table of active bridge instances keyed by
// tenant ID. Creation is idempotent: no two instances for the same tenant
// can exist concurrently.
type Registry struct {
	db        *gorm.DB
	channels  local.ChannelClient
	newRemote RemoteClientFactory
	exporter  transcript.Exporter
	converter media.Converter
	bridgeCfg config.BridgeConfig
	out       io.Writer

	mu        sync.RWMutex
	instances map[string]*Instance
}

// RegistryOpts holds parameters for creating a Registry.
type RegistryOpts struct {
	DB        *gorm.DB
	Channels  local.ChannelClient
	NewRemote RemoteClientFactory
	Exporter  transcript.Exporter // defaults to transcript.Noop
	Converter media.Converter     // defaults to media.Passthrough
	Bridge    config.BridgeConfig
	Out       io.Writer // defaults to os.Stdout
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts RegistryOpts) (*Registry, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("bridge: registry: db is required")
	}
	if opts.Channels == nil {
		return nil, fmt.Errorf("bridge: registry: channel client is required")
	}
	if opts.NewRemote == nil {
		return nil, fmt.Errorf("bridge: registry: remote client factory is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Registry{
		db:        opts.DB,
		channels:  opts.Channels,
		newRemote: opts.NewRemote,
		exporter:  opts.Exporter,
		converter: opts.Converter,
		bridgeCfg: opts.Bridge,
		out:       out,
		instances: make(map[string]*Instance),
	}, nil
}

// Create builds and starts the instance for a tenant, creating the tenant
// row if needed. Calling Create for an existing tenant returns the existing
// instance rather than duplicating the session.
func (r *Registry) Create(ctx context.Context, tenantID, name string) (*Instance, error) {
	r.mu.Lock()
	if inst, ok := r.instances[tenantID]; ok {
		r.mu.Unlock()
		return inst, nil
	}

	var tenant models.Tenant
	err := r.db.Where("tenant_id = ?", tenantID).First(&tenant).Error
	if err == gorm.ErrRecordNotFound {
		tenant = models.Tenant{
			TenantID:          tenantID,
			Name:              name,
			ConnectionState:   models.StateUninitialized,
			GreetNewContacts:  true,
			SendClosingNotice: true,
		}
		if cerr := r.db.Create(&tenant).Error; cerr != nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("bridge: registry: create tenant %s: %w", tenantID, cerr)
		}
	} else if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("bridge: registry: load tenant %s: %w", tenantID, err)
	}

	inst, err := r.buildLocked(tenantID)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.instances[tenantID] = inst
	r.mu.Unlock()

	// Connecting can block on network I/O, so it runs outside the lock;
	// lookups for other tenants must not stall behind one slow session.
	r.start(ctx, inst, true)
	return inst, nil
}

// Get returns the instance for a tenant, if one is active.
func (r *Registry) Get(tenantID string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[tenantID]
	return inst, ok
}

// GetByChannel resolves a channel ID to the owning instance through the
// ticket table (channel IDs are unique across ticket history per tenant).
func (r *Registry) GetByChannel(channelID string) (*Instance, bool) {
	var ticket models.Ticket
	err := r.db.Where("channel_id = ? AND retired = ?", channelID, false).
		Order("id DESC").First(&ticket).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			log.Printf("bridge: registry: lookup channel %s: %v", channelID, err)
		}
		return nil, false
	}
	return r.Get(ticket.TenantID)
}

// Remove tears down a tenant's instance and deletes its persisted record.
// Safe to call mid-reconnect: timers are cancelled and the disconnect is
// best-effort; the tenant is always removed.
func (r *Registry) Remove(ctx context.Context, tenantID string) error {
	r.mu.Lock()
	inst, ok := r.instances[tenantID]
	delete(r.instances, tenantID)
	r.mu.Unlock()

	if ok {
		inst.Stop(ctx)
	}

	if err := r.db.Where("tenant_id = ?", tenantID).Delete(&models.Tenant{}).Error; err != nil {
		return fmt.Errorf("bridge: registry: delete tenant %s: %w", tenantID, err)
	}
	fmt.Fprintf(r.out, "bridge: tenant %s removed\n", tenantID)
	return nil
}

// Restore builds instances for all persisted tenants at process start.
// Sessions with stored credentials reconnect silently; the rest wait for a
// manual pairing flow rather than spamming codes at startup.
func (r *Registry) Restore(ctx context.Context) error {
	var tenants []models.Tenant
	if err := r.db.Find(&tenants).Error; err != nil {
		return fmt.Errorf("bridge: registry: restore: %w", err)
	}

	var built []*Instance
	r.mu.Lock()
	for _, t := range tenants {
		if _, ok := r.instances[t.TenantID]; ok {
			continue
		}
		inst, err := r.buildLocked(t.TenantID)
		if err != nil {
			log.Printf("bridge: registry: restore %s: %v", t.TenantID, err)
			continue
		}
		r.instances[t.TenantID] = inst
		built = append(built, inst)
	}
	total := len(r.instances)
	r.mu.Unlock()

	for _, inst := range built {
		r.start(ctx, inst, false)
	}
	fmt.Fprintf(r.out, "bridge: restored %d tenant(s)\n", total)
	return nil
}

// Shutdown stops all instances without removing tenant records.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	instances := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		instances = append(instances, inst)
	}
	r.instances = make(map[string]*Instance)
	r.mu.Unlock()

	for _, inst := range instances {
		inst.Stop(ctx)
	}
}

// Statuses returns status snapshots for all active instances.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	instances := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		instances = append(instances, inst)
	}
	r.mu.RUnlock()

	out := make([]Status, 0, len(instances))
	for _, inst := range instances {
		out = append(out, inst.Status())
	}
	return out
}

// Sweep runs the routing-table maintenance sweep on every active instance.
func (r *Registry) Sweep(ctx context.Context) {
	r.mu.RLock()
	instances := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		instances = append(instances, inst)
	}
	r.mu.RUnlock()

	for _, inst := range instances {
		retired, err := inst.Routing().Sweep(ctx)
		if err != nil {
			log.Printf("bridge: sweep %s: %v", inst.TenantID(), err)
			continue
		}
		if retired > 0 {
			fmt.Fprintf(r.out, "bridge: sweep %s: retired %d stale ticket(s)\n", inst.TenantID(), retired)
		}
	}
}

// buildLocked constructs one instance without starting it. Caller holds mu
// and registers the result before releasing it; Start runs outside the lock.
func (r *Registry) buildLocked(tenantID string) (*Instance, error) {
	client, err := r.newRemote(tenantID)
	if err != nil {
		return nil, fmt.Errorf("bridge: registry: remote client for %s: %w", tenantID, err)
	}

	return NewInstance(InstanceOpts{
		TenantID:  tenantID,
		DB:        r.db,
		Remote:    client,
		Channels:  r.channels,
		Exporter:  r.exporter,
		Converter: r.converter,
		Bridge:    r.bridgeCfg,
		Out:       r.out,
	})
}

// start begins a registered instance's session.
func (r *Registry) start(ctx context.Context, inst *Instance, showPairingUI bool) {
	if err := inst.Start(ctx, showPairingUI); err != nil {
		// Startup connect failures are not fatal: the supervisor keeps
		// retrying, and the instance must stay addressable for manual
		// commands.
		log.Printf("bridge: registry: start %s: %v", inst.TenantID(), err)
	}
}
