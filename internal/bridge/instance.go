package bridge

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/local"
	"github.com/zulandar/switchboard/internal/media"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/remote"
	"github.com/zulandar/switchboard/internal/transcript"
	"gorm.io/gorm"
)

// Instance is one tenant's bridge: one remote session supervisor, one
// routing table, one outbound queue.
type Instance struct {
	tenantID  string
	createdAt time.Time

	db         *gorm.DB
	channels   local.ChannelClient
	supervisor *Supervisor
	routing    *RoutingTable
	queue      *OutboundQueue
	notifier   *Notifier
	out        io.Writer

	runCtx context.Context
	cancel context.CancelFunc
}

// InstanceOpts holds parameters for creating an Instance.
type InstanceOpts struct {
	TenantID  string
	DB        *gorm.DB
	Remote    remote.Client
	Channels  local.ChannelClient
	Exporter  transcript.Exporter // defaults to transcript.Noop
	Converter media.Converter     // defaults to media.Passthrough
	Bridge    config.BridgeConfig
	Out       io.Writer // defaults to os.Stdout
}

// Status is the instance snapshot exposed to the UI layer.
type Status struct {
	TenantID    string `json:"tenantId"`
	State       string `json:"state"`
	TicketCount int64  `json:"ticketCount"`
	QueueDepth  int    `json:"queueDepth"`
}

// NewInstance wires supervisor, routing table, and outbound queue for one
// tenant. The tenant row must already exist.
func NewInstance(opts InstanceOpts) (*Instance, error) {
	if opts.TenantID == "" {
		return nil, fmt.Errorf("bridge: instance: tenant id is required")
	}
	if opts.DB == nil {
		return nil, fmt.Errorf("bridge: instance: db is required")
	}
	if opts.Remote == nil {
		return nil, fmt.Errorf("bridge: instance: remote client is required")
	}
	if opts.Channels == nil {
		return nil, fmt.Errorf("bridge: instance: channel client is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	var tenant models.Tenant
	if err := opts.DB.Where("tenant_id = ?", opts.TenantID).First(&tenant).Error; err != nil {
		return nil, fmt.Errorf("bridge: instance: load tenant %s: %w", opts.TenantID, err)
	}

	inst := &Instance{
		tenantID:  opts.TenantID,
		createdAt: time.Now(),
		db:        opts.DB,
		channels:  opts.Channels,
		out:       out,
	}

	inst.notifier = NewNotifier(NotifierOpts{
		Client:          opts.Channels,
		OpsChannelID:    tenant.OpsChannelID,
		DisconnectEvery: time.Duration(opts.Bridge.NoticeDisconnectMin) * time.Minute,
		AuthEvery:       time.Duration(opts.Bridge.NoticeAuthMin) * time.Minute,
	})

	routing, err := NewRoutingTable(RoutingTableOpts{
		TenantID: opts.TenantID,
		DB:       opts.DB,
		Channels: opts.Channels,
		Exporter: opts.Exporter,
		Out:      out,
	})
	if err != nil {
		return nil, err
	}
	inst.routing = routing

	supervisor, err := NewSupervisor(SupervisorOpts{
		TenantID:             opts.TenantID,
		Client:               opts.Remote,
		Creds:                remote.NewGormCredentialStore(opts.DB),
		DB:                   opts.DB,
		Notifier:             inst.notifier,
		Out:                  out,
		ReconnectDelay:       time.Duration(opts.Bridge.ReconnectDelaySec) * time.Second,
		MaxReconnectAttempts: opts.Bridge.MaxReconnectAttempts,
		PairingTTL:           time.Duration(opts.Bridge.PairingTTLSec) * time.Second,
		PairingDedupWindow:   time.Duration(opts.Bridge.PairingDedupSec) * time.Second,
		OnReady:              inst.onReady,
		OnMessage:            inst.onInbound,
		OnPairingCode:        inst.onPairingCode,
	})
	if err != nil {
		return nil, err
	}
	inst.supervisor = supervisor

	queue, err := NewOutboundQueue(OutboundQueueOpts{
		TenantID:  opts.TenantID,
		Client:    opts.Remote,
		Ready:     supervisor.IsReady,
		Converter: opts.Converter,
		Notifier:  inst.notifier,
		Spacing:   time.Duration(opts.Bridge.SendSpacingMs) * time.Millisecond,
		MaxTries:  opts.Bridge.MaxSendAttempts,
		Out:       out,
	})
	if err != nil {
		return nil, err
	}
	inst.queue = queue
	routing.SetQueue(queue)

	return inst, nil
}

// Start launches the event pump and initializes the session.
func (i *Instance) Start(ctx context.Context, showPairingUI bool) error {
	i.runCtx, i.cancel = context.WithCancel(ctx)
	go i.supervisor.Run(i.runCtx)
	return i.supervisor.Initialize(i.runCtx, showPairingUI)
}

// Stop tears the instance down: cancels timers, best-effort disconnect
// without logout, and stops the event pump. Safe to call mid-reconnect.
func (i *Instance) Stop(ctx context.Context) {
	if err := i.supervisor.Disconnect(ctx, false); err != nil {
		log.Printf("bridge: %s: stop: %v", i.tenantID, err)
	}
	i.supervisor.Stop()
	if i.cancel != nil {
		i.cancel()
	}
}

// TenantID returns the owning tenant's ID.
func (i *Instance) TenantID() string { return i.tenantID }

// CreatedAt returns when this instance was built.
func (i *Instance) CreatedAt() time.Time { return i.createdAt }

// Supervisor exposes the session supervisor for manual commands.
func (i *Instance) Supervisor() *Supervisor { return i.supervisor }

// Routing exposes the routing table for ticket commands.
func (i *Instance) Routing() *RoutingTable { return i.routing }

// Queue exposes the outbound queue.
func (i *Instance) Queue() *OutboundQueue { return i.queue }

// Status returns the snapshot exposed to the UI layer.
func (i *Instance) Status() Status {
	count, err := i.routing.OpenCount()
	if err != nil {
		log.Printf("bridge: %s: status ticket count: %v", i.tenantID, err)
	}
	return Status{
		TenantID:    i.tenantID,
		State:       i.supervisor.State(),
		TicketCount: count,
		QueueDepth:  i.queue.Depth(),
	}
}

// onReady drains the outbound queue once the session connects.
func (i *Instance) onReady() {
	ctx := i.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	go i.queue.Drain(ctx)
}

// onInbound routes an inbound remote message to its ticket channel.
func (i *Instance) onInbound(msg remote.Message) {
	ctx := i.runCtx
	if ctx == nil {
		ctx = context.Background()
	}

	ticket, err := i.routing.ResolveOrCreateTicket(ctx, msg.ContactID, msg.DisplayName)
	if err != nil {
		log.Printf("bridge: %s: route inbound from %s: %v", i.tenantID, msg.ContactID, err)
		return
	}

	content := formatInbound(ticket, msg)
	if err := i.channels.SendToChannel(ctx, ticket.ChannelID, content); err != nil {
		log.Printf("bridge: %s: post inbound to channel %s: %v", i.tenantID, ticket.ChannelID, err)
	}
}

// onPairingCode surfaces a pairing code to the ops channel.
func (i *Instance) onPairingCode(code PairingCode) {
	ctx := i.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	fmt.Fprintf(i.out, "bridge: %s: pairing code: %s\n", i.tenantID, code.Value)
	i.notifier.post(ctx, fmt.Sprintf(
		"Pairing required for %s. Scan code `%s` before %s.",
		i.tenantID, code.Value, code.ExpiresAt.Format(time.Kitchen)))
}

// formatInbound renders a remote message for the channel.
func formatInbound(ticket *models.Ticket, msg remote.Message) string {
	name := msg.DisplayName
	if name == "" {
		name = ticket.ContactID
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**: ", name)
	switch msg.Payload.Kind {
	case remote.KindText, "":
		b.WriteString(msg.Payload.Text)
	default:
		fmt.Fprintf(&b, "[%s", msg.Payload.Kind)
		if msg.Payload.Media != nil && msg.Payload.Media.FileName != "" {
			fmt.Fprintf(&b, ": %s", msg.Payload.Media.FileName)
		}
		b.WriteString("]")
		if msg.Payload.Text != "" {
			b.WriteString(" ")
			b.WriteString(msg.Payload.Text)
		}
	}
	return b.String()
}
