package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zulandar/switchboard/internal/local"
)

func newTestNotifier(t *testing.T, opts NotifierOpts) (*Notifier, *local.MockChannelClient) {
	t.Helper()
	channels := local.NewMockChannelClient()
	channels.AddChannel("ops-1")
	opts.Client = channels
	opts.OpsChannelID = "ops-1"
	return NewNotifier(opts), channels
}

func TestNotifier_DisconnectThrottle(t *testing.T) {
	n, channels := newTestNotifier(t, NotifierOpts{DisconnectEvery: 50 * time.Millisecond})
	ctx := context.Background()

	n.Disconnected(ctx, "guild-1", "network error")
	n.Disconnected(ctx, "guild-1", "network error")
	n.Disconnected(ctx, "guild-1", "network error")

	if got := len(channels.Messages("ops-1")); got != 1 {
		t.Fatalf("expected 1 notice inside the window, got %d", got)
	}

	time.Sleep(60 * time.Millisecond)
	n.Disconnected(ctx, "guild-1", "network error")
	if got := len(channels.Messages("ops-1")); got != 2 {
		t.Errorf("expected 2 notices after the window, got %d", got)
	}
}

func TestNotifier_AuthThrottleIndependent(t *testing.T) {
	n, channels := newTestNotifier(t, NotifierOpts{
		DisconnectEvery: time.Hour,
		AuthEvery:       time.Hour,
	})
	ctx := context.Background()

	n.Disconnected(ctx, "guild-1", "network error")
	n.AuthFailure(ctx, "guild-1", errors.New("revoked"))

	// The two notice kinds throttle separately.
	if got := len(channels.Messages("ops-1")); got != 2 {
		t.Errorf("expected disconnect and auth notices, got %d", got)
	}

	n.AuthFailure(ctx, "guild-1", errors.New("revoked"))
	if got := len(channels.Messages("ops-1")); got != 2 {
		t.Errorf("auth notice must be throttled, got %d", got)
	}
}

func TestNotifier_EntryDroppedUnthrottled(t *testing.T) {
	n, channels := newTestNotifier(t, NotifierOpts{})
	ctx := context.Background()

	n.EntryDropped(ctx, "guild-1", "alice@remote", errors.New("no such account"))
	n.EntryDropped(ctx, "guild-1", "bob@remote", errors.New("no such account"))

	if got := len(channels.Messages("ops-1")); got != 2 {
		t.Errorf("drop notices must not be throttled, got %d", got)
	}
}

func TestNotifier_NoOpsChannel(t *testing.T) {
	n := NewNotifier(NotifierOpts{})
	// Log-only notifier must not panic.
	n.Disconnected(context.Background(), "guild-1", "network error")
	n.EntryDropped(context.Background(), "guild-1", "alice@remote", errors.New("x"))
}
