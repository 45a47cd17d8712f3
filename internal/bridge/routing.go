package bridge

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/switchboard/internal/local"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/remote"
	"github.com/zulandar/switchboard/internal/transcript"
	"gorm.io/gorm"
)

// transcriptHistoryLimit caps how many channel messages are handed to the
// transcript exporter when a ticket closes.
const transcriptHistoryLimit = 500

// ErrTicketNotFound is returned when no live ticket matches a lookup.
var ErrTicketNotFound = fmt.Errorf("bridge: ticket not found")

// RoutingTable maps remote contacts to local channels for one tenant and
// owns the ticket open/reopen/close lifecycle. Resolution is serialized per
// contact so concurrent inbound messages cannot create duplicate channels.
type RoutingTable struct {
	tenantID string
	db       *gorm.DB
	channels local.ChannelClient
	exporter transcript.Exporter
	queue    *OutboundQueue // closing notices; optional
	out      io.Writer

	mu           sync.Mutex
	contactLocks map[string]*sync.Mutex
}

// RoutingTableOpts holds parameters for creating a RoutingTable.
type RoutingTableOpts struct {
	TenantID string
	DB       *gorm.DB
	Channels local.ChannelClient
	Exporter transcript.Exporter // defaults to transcript.Noop
	Queue    *OutboundQueue      // optional; enables closing notices
	Out      io.Writer           // defaults to os.Stdout
}

// NewRoutingTable creates a RoutingTable.
func NewRoutingTable(opts RoutingTableOpts) (*RoutingTable, error) {
	if opts.TenantID == "" {
		return nil, fmt.Errorf("bridge: routing table: tenant id is required")
	}
	if opts.DB == nil {
		return nil, fmt.Errorf("bridge: routing table: db is required")
	}
	if opts.Channels == nil {
		return nil, fmt.Errorf("bridge: routing table: channel client is required")
	}
	exporter := opts.Exporter
	if exporter == nil {
		exporter = transcript.Noop{}
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &RoutingTable{
		tenantID:     opts.TenantID,
		db:           opts.DB,
		channels:     opts.Channels,
		exporter:     exporter,
		queue:        opts.Queue,
		out:          out,
		contactLocks: make(map[string]*sync.Mutex),
	}, nil
}

// SetQueue wires the outbound queue after construction. The instance builds
// queue and routing table with a mutual reference; whichever is built second
// closes the loop here.
func (rt *RoutingTable) SetQueue(q *OutboundQueue) {
	rt.queue = q
}

// contactLock returns the mutex serializing resolution for one contact.
func (rt *RoutingTable) contactLock(contactID string) *sync.Mutex {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	l, ok := rt.contactLocks[contactID]
	if !ok {
		l = &sync.Mutex{}
		rt.contactLocks[contactID] = l
	}
	return l
}

// NormalizeContact canonicalizes a remote contact address: trimmed,
// lowercased, with any device suffix after a '/' removed.
func NormalizeContact(contactID string) string {
	c := strings.ToLower(strings.TrimSpace(contactID))
	if i := strings.IndexByte(c, '/'); i >= 0 {
		c = c[:i]
	}
	return c
}

// ResolveOrCreateTicket returns the live ticket for a contact, reviving or
// creating channel state as needed:
//
//  1. OPEN ticket with a live channel → returned as-is.
//  2. CLOSED ticket with a live channel → reopened on the same channel.
//  3. Any ticket whose channel was deleted out-of-band → retired; a fresh
//     channel and ticket are created.
//  4. No prior ticket → fresh channel and ticket.
func (rt *RoutingTable) ResolveOrCreateTicket(ctx context.Context, contactID, displayName string) (*models.Ticket, error) {
	contactID = NormalizeContact(contactID)
	if contactID == "" {
		return nil, fmt.Errorf("bridge: routing table: empty contact id")
	}

	l := rt.contactLock(contactID)
	l.Lock()
	defer l.Unlock()

	var ticket models.Ticket
	err := rt.db.Where("tenant_id = ? AND contact_id = ? AND retired = ?", rt.tenantID, contactID, false).
		Order("id DESC").First(&ticket).Error
	switch err {
	case nil:
		exists, cerr := rt.channels.ChannelExists(ctx, ticket.ChannelID)
		if cerr != nil {
			return nil, fmt.Errorf("bridge: routing table: check channel %s: %w", ticket.ChannelID, cerr)
		}
		if !exists {
			// Lazy repair: the channel vanished out-of-band. Retire the
			// stale row and fall through to creation.
			if uerr := rt.db.Model(&ticket).Update("retired", true).Error; uerr != nil {
				return nil, fmt.Errorf("bridge: routing table: retire ticket %d: %w", ticket.ID, uerr)
			}
			log.Printf("bridge: %s: channel %s for %s was deleted externally; recreating",
				rt.tenantID, ticket.ChannelID, contactID)
			return rt.createTicket(ctx, contactID, displayName)
		}
		if ticket.Status == models.TicketOpen {
			return &ticket, nil
		}
		return rt.reopenTicket(&ticket, displayName)
	case gorm.ErrRecordNotFound:
		return rt.createTicket(ctx, contactID, displayName)
	default:
		return nil, fmt.Errorf("bridge: routing table: resolve %s: %w", contactID, err)
	}
}

// reopenTicket flips a CLOSED ticket back to OPEN, reusing its channel.
func (rt *RoutingTable) reopenTicket(ticket *models.Ticket, displayName string) (*models.Ticket, error) {
	updates := map[string]interface{}{
		"status":    models.TicketOpen,
		"closed_at": nil,
		"opened_at": time.Now(),
	}
	if displayName != "" {
		updates["display_name"] = displayName
	}
	if err := rt.db.Model(ticket).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("bridge: routing table: reopen ticket %d: %w", ticket.ID, err)
	}
	fmt.Fprintf(rt.out, "bridge: %s: ticket reopened for %s on channel %s\n",
		rt.tenantID, ticket.ContactID, ticket.ChannelID)
	return ticket, nil
}

// createTicket creates a fresh channel and OPEN ticket for a contact.
func (rt *RoutingTable) createTicket(ctx context.Context, contactID, displayName string) (*models.Ticket, error) {
	channelID, err := rt.channels.CreateChannel(ctx, channelName(contactID, displayName))
	if err != nil {
		return nil, fmt.Errorf("bridge: routing table: create channel for %s: %w", contactID, err)
	}

	ticket := models.Ticket{
		TenantID:    rt.tenantID,
		ContactID:   contactID,
		ChannelID:   channelID,
		Status:      models.TicketOpen,
		DisplayName: displayName,
		OpenedAt:    time.Now(),
	}
	if err := rt.db.Create(&ticket).Error; err != nil {
		return nil, fmt.Errorf("bridge: routing table: create ticket for %s: %w", contactID, err)
	}

	fmt.Fprintf(rt.out, "bridge: %s: ticket opened for %s on channel %s\n",
		rt.tenantID, contactID, channelID)

	rt.greet(ctx, &ticket)
	return &ticket, nil
}

// greet posts the tenant's greeting template to a new ticket's channel and,
// when enabled, sends it to the contact as well. Best-effort.
func (rt *RoutingTable) greet(ctx context.Context, ticket *models.Ticket) {
	tenant, err := rt.tenant()
	if err != nil {
		log.Printf("bridge: %s: load settings for greeting: %v", rt.tenantID, err)
		return
	}
	if !tenant.GreetNewContacts || tenant.GreetingTemplate == "" {
		return
	}
	text := renderTemplate(tenant.GreetingTemplate, ticket)
	if rt.queue != nil {
		rt.queue.Enqueue(ticket.ContactID, remote.Payload{Kind: remote.KindText, Text: text})
	}
}

// CloseTicket closes the ticket bound to channelID: optionally sends the
// closing notice to the contact, exports the transcript, and flips the row
// to CLOSED. The row stays live (non-retired) so a later message from the
// same contact reopens the same channel while it exists.
func (rt *RoutingTable) CloseTicket(ctx context.Context, channelID string, sendClosingNotice bool) error {
	var ticket models.Ticket
	err := rt.db.Where("tenant_id = ? AND channel_id = ? AND status = ? AND retired = ?",
		rt.tenantID, channelID, models.TicketOpen, false).First(&ticket).Error
	if err == gorm.ErrRecordNotFound {
		return fmt.Errorf("%w: no open ticket on channel %s", ErrTicketNotFound, channelID)
	}
	if err != nil {
		return fmt.Errorf("bridge: routing table: close %s: %w", channelID, err)
	}

	l := rt.contactLock(ticket.ContactID)
	l.Lock()
	defer l.Unlock()

	if sendClosingNotice {
		tenant, terr := rt.tenant()
		if terr != nil {
			log.Printf("bridge: %s: load settings for closing notice: %v", rt.tenantID, terr)
		} else if tenant.SendClosingNotice && tenant.ClosingTemplate != "" && rt.queue != nil {
			text := renderTemplate(tenant.ClosingTemplate, &ticket)
			rt.queue.Enqueue(ticket.ContactID, remote.Payload{Kind: remote.KindText, Text: text})
		}
	}

	// Transcript export happens before the mapping is closed. Export
	// failures are logged; they never block the close.
	history, herr := rt.channels.ChannelHistory(ctx, channelID, transcriptHistoryLimit)
	if herr != nil {
		log.Printf("bridge: %s: transcript history for %s: %v", rt.tenantID, channelID, herr)
	}
	if eerr := rt.exporter.Export(ctx, &ticket, history); eerr != nil {
		log.Printf("bridge: %s: export transcript for %s: %v", rt.tenantID, channelID, eerr)
	}

	now := time.Now()
	if err := rt.db.Model(&ticket).Updates(map[string]interface{}{
		"status":    models.TicketClosed,
		"closed_at": now,
	}).Error; err != nil {
		return fmt.Errorf("bridge: routing table: close ticket %d: %w", ticket.ID, err)
	}

	fmt.Fprintf(rt.out, "bridge: %s: ticket closed for %s on channel %s\n",
		rt.tenantID, ticket.ContactID, channelID)
	return nil
}

// LookupByChannel returns the live ticket bound to channelID, open or closed.
func (rt *RoutingTable) LookupByChannel(channelID string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := rt.db.Where("tenant_id = ? AND channel_id = ? AND retired = ?",
		rt.tenantID, channelID, false).Order("id DESC").First(&ticket).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("bridge: routing table: lookup channel %s: %w", channelID, err)
	}
	return &ticket, nil
}

// LookupByContact returns the live ticket for a contact, open or closed.
func (rt *RoutingTable) LookupByContact(contactID string) (*models.Ticket, error) {
	contactID = NormalizeContact(contactID)
	var ticket models.Ticket
	err := rt.db.Where("tenant_id = ? AND contact_id = ? AND retired = ?",
		rt.tenantID, contactID, false).Order("id DESC").First(&ticket).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("bridge: routing table: lookup contact %s: %w", contactID, err)
	}
	return &ticket, nil
}

// OpenCount returns the number of OPEN tickets for the tenant.
func (rt *RoutingTable) OpenCount() (int64, error) {
	var count int64
	if err := rt.db.Model(&models.Ticket{}).
		Where("tenant_id = ? AND status = ? AND retired = ?", rt.tenantID, models.TicketOpen, false).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("bridge: routing table: open count: %w", err)
	}
	return count, nil
}

// Sweep retires CLOSED tickets whose channels no longer exist, so stale
// rows stop shadowing future reopen lookups. Returns the number retired.
func (rt *RoutingTable) Sweep(ctx context.Context) (int, error) {
	var closed []models.Ticket
	if err := rt.db.Where("tenant_id = ? AND status = ? AND retired = ?",
		rt.tenantID, models.TicketClosed, false).Find(&closed).Error; err != nil {
		return 0, fmt.Errorf("bridge: routing table: sweep: %w", err)
	}

	retired := 0
	for i := range closed {
		exists, err := rt.channels.ChannelExists(ctx, closed[i].ChannelID)
		if err != nil {
			log.Printf("bridge: %s: sweep check channel %s: %v", rt.tenantID, closed[i].ChannelID, err)
			continue
		}
		if exists {
			continue
		}
		if err := rt.db.Model(&closed[i]).Update("retired", true).Error; err != nil {
			log.Printf("bridge: %s: sweep retire ticket %d: %v", rt.tenantID, closed[i].ID, err)
			continue
		}
		retired++
	}
	return retired, nil
}

// tenant loads the tenant settings row.
func (rt *RoutingTable) tenant() (*models.Tenant, error) {
	var t models.Tenant
	if err := rt.db.Where("tenant_id = ?", rt.tenantID).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// channelName derives a channel name from the contact. Display names win
// over raw addresses; both are reduced to channel-safe slugs.
func channelName(contactID, displayName string) string {
	base := displayName
	if base == "" {
		base = contactID
	}
	var b strings.Builder
	for _, r := range strings.ToLower(base) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_', r == '.':
			b.WriteByte('-')
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "contact"
	}
	if len(slug) > 80 {
		slug = slug[:80]
	}
	return "ticket-" + slug
}

// renderTemplate fills message-template placeholders from a ticket.
func renderTemplate(tmpl string, ticket *models.Ticket) string {
	name := ticket.DisplayName
	if name == "" {
		name = ticket.ContactID
	}
	r := strings.NewReplacer(
		"{{.Name}}", name,
		"{{.Contact}}", ticket.ContactID,
		"{{.Channel}}", ticket.ChannelID,
	)
	return r.Replace(tmpl)
}
