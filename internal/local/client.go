// Package local defines the port for the channel-oriented collaboration
// network. Platform adapters (discord, slack) live in subpackages.
package local

import (
	"context"
	"time"
)

// ChannelClient is the set of channel operations the bridge needs from the
// collaboration network.
type ChannelClient interface {
	// CreateChannel creates a text channel and returns its ID.
	CreateChannel(ctx context.Context, name string) (string, error)

	// SendToChannel posts content to a channel.
	SendToChannel(ctx context.Context, channelID, content string) error

	// DeleteChannel removes a channel.
	DeleteChannel(ctx context.Context, channelID string) error

	// ChannelExists reports whether the channel still exists. Channels can
	// be deleted out-of-band by operators; callers treat false as "no
	// existing mapping".
	ChannelExists(ctx context.Context, channelID string) (bool, error)

	// ChannelHistory retrieves recent messages from a channel, oldest
	// first, for transcript export.
	ChannelHistory(ctx context.Context, channelID string, limit int) ([]ChannelMessage, error)
}

// ChannelMessage is a single message from a channel's history.
type ChannelMessage struct {
	UserID    string
	UserName  string
	Text      string
	Timestamp time.Time
}
