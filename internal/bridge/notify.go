package bridge

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zulandar/switchboard/internal/local"
)

// Default notice-throttle windows. Repeated reconnect cycles must not storm
// the ops channel.
const (
	DefaultDisconnectNoticeEvery = 15 * time.Minute
	DefaultAuthNoticeEvery       = 30 * time.Minute
)

// Notifier posts rate-limited operator notices to a tenant's ops channel.
// Delivery is best-effort: failures are logged, never returned.
type Notifier struct {
	client     local.ChannelClient
	opsChannel string

	disconnectEvery time.Duration
	authEvery       time.Duration

	mu             sync.Mutex
	lastDisconnect time.Time
	lastAuth       time.Time
}

// NotifierOpts holds parameters for creating a Notifier.
type NotifierOpts struct {
	Client          local.ChannelClient
	OpsChannelID    string
	DisconnectEvery time.Duration // defaults to DefaultDisconnectNoticeEvery
	AuthEvery       time.Duration // defaults to DefaultAuthNoticeEvery
}

// NewNotifier creates a Notifier. A nil client or empty channel yields a
// notifier that only logs.
func NewNotifier(opts NotifierOpts) *Notifier {
	n := &Notifier{
		client:          opts.Client,
		opsChannel:      opts.OpsChannelID,
		disconnectEvery: opts.DisconnectEvery,
		authEvery:       opts.AuthEvery,
	}
	if n.disconnectEvery <= 0 {
		n.disconnectEvery = DefaultDisconnectNoticeEvery
	}
	if n.authEvery <= 0 {
		n.authEvery = DefaultAuthNoticeEvery
	}
	return n
}

// Disconnected posts a disconnect notice, at most once per throttle window.
func (n *Notifier) Disconnected(ctx context.Context, tenantID, reason string) {
	n.mu.Lock()
	if time.Since(n.lastDisconnect) < n.disconnectEvery {
		n.mu.Unlock()
		return
	}
	n.lastDisconnect = time.Now()
	n.mu.Unlock()

	n.post(ctx, fmt.Sprintf("Remote session for %s disconnected (%s). Reconnecting automatically.", tenantID, reason))
}

// AuthFailure posts an auth-failure notice, at most once per throttle window.
func (n *Notifier) AuthFailure(ctx context.Context, tenantID string, cause error) {
	n.mu.Lock()
	if time.Since(n.lastAuth) < n.authEvery {
		n.mu.Unlock()
		return
	}
	n.lastAuth = time.Now()
	n.mu.Unlock()

	n.post(ctx, fmt.Sprintf("Remote session for %s was rejected (%v). A new pairing code is required.", tenantID, cause))
}

// EntryDropped posts a notice about a permanently failed outbound entry.
// Not throttled: permanent drops are rare and each one loses a message.
func (n *Notifier) EntryDropped(ctx context.Context, tenantID, recipient string, cause error) {
	n.post(ctx, fmt.Sprintf("Dropped outbound message for %s to %s: %v", tenantID, recipient, cause))
}

func (n *Notifier) post(ctx context.Context, text string) {
	log.Printf("notice: %s", text)
	if n.client == nil || n.opsChannel == "" {
		return
	}
	if err := n.client.SendToChannel(ctx, n.opsChannel, text); err != nil {
		log.Printf("notice: post to ops channel %s: %v", n.opsChannel, err)
	}
}
