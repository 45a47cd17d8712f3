// Package slack implements the local ChannelClient for Slack workspaces.
package slack

import (
	"context"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/switchboard/internal/local"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for rate-limit retries.
	maxBackoff = 2 * time.Minute
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	CreateConversationContext(ctx context.Context, params slackapi.CreateConversationParams) (*slackapi.Channel, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
	ArchiveConversationContext(ctx context.Context, channelID string) error
	GetConversationInfoContext(ctx context.Context, input *slackapi.GetConversationInfoInput) (*slackapi.Channel, error)
	GetConversationHistoryContext(ctx context.Context, params *slackapi.GetConversationHistoryParameters) (*slackapi.GetConversationHistoryResponse, error)
}

// Client implements local.ChannelClient for Slack. Slack has no hard
// channel deletion over the API, so DeleteChannel archives instead; an
// archived channel counts as gone for existence checks.
type Client struct {
	api slackClient
}

// ClientOpts holds parameters for creating a Slack Client.
type ClientOpts struct {
	BotToken string // xoxb-... Slack bot token
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// New creates a Slack Client.
func New(opts ClientOpts) (*Client, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	api := opts.Client
	if api == nil {
		api = slackapi.New(opts.BotToken)
	}
	return &Client{api: api}, nil
}

// CreateChannel creates a public channel and returns its ID.
func (c *Client) CreateChannel(ctx context.Context, name string) (string, error) {
	var ch *slackapi.Channel
	err := c.retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, apiErr = c.api.CreateConversationContext(ctx, slackapi.CreateConversationParams{
			ChannelName: name,
		})
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("slack: create channel %q: %w", name, err)
	}
	return ch.ID, nil
}

// SendToChannel posts content to a channel.
func (c *Client) SendToChannel(ctx context.Context, channelID, content string) error {
	err := c.retryOnRateLimit(ctx, func() error {
		_, _, postErr := c.api.PostMessageContext(ctx, channelID, slackapi.MsgOptionText(content, false))
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: send to %s: %w", channelID, err)
	}
	return nil
}

// DeleteChannel archives a channel (Slack's closest operation to deletion).
func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	err := c.retryOnRateLimit(ctx, func() error {
		return c.api.ArchiveConversationContext(ctx, channelID)
	})
	if err != nil && !isAlreadyArchived(err) {
		return fmt.Errorf("slack: archive channel %s: %w", channelID, err)
	}
	return nil
}

// ChannelExists reports whether the channel exists and is not archived.
func (c *Client) ChannelExists(ctx context.Context, channelID string) (bool, error) {
	var ch *slackapi.Channel
	err := c.retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, apiErr = c.api.GetConversationInfoContext(ctx, &slackapi.GetConversationInfoInput{
			ChannelID: channelID,
		})
		return apiErr
	})
	if err != nil {
		if isChannelNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("slack: check channel %s: %w", channelID, err)
	}
	return !ch.IsArchived, nil
}

// ChannelHistory retrieves up to limit messages from a channel, oldest first.
func (c *Client) ChannelHistory(ctx context.Context, channelID string, limit int) ([]local.ChannelMessage, error) {
	var resp *slackapi.GetConversationHistoryResponse
	err := c.retryOnRateLimit(ctx, func() error {
		var apiErr error
		resp, apiErr = c.api.GetConversationHistoryContext(ctx, &slackapi.GetConversationHistoryParameters{
			ChannelID: channelID,
			Limit:     limit,
		})
		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("slack: channel history %s: %w", channelID, err)
	}

	// Slack returns newest-first; flip to oldest-first for transcripts.
	msgs := make([]local.ChannelMessage, 0, len(resp.Messages))
	for i := len(resp.Messages) - 1; i >= 0; i-- {
		m := resp.Messages[i]
		msgs = append(msgs, local.ChannelMessage{
			UserID:    m.User,
			UserName:  m.Username,
			Text:      m.Text,
			Timestamp: parseSlackTimestamp(m.Timestamp),
		})
	}
	return msgs, nil
}

// retryOnRateLimit calls fn and retries with exponential backoff on Slack
// rate limit errors. It respects context cancellation.
func (c *Client) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		rateErr, ok := err.(*slackapi.RateLimitedError)
		if !ok {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := rateErr.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * baseBackoff
		}
		if wait > maxBackoff {
			wait = maxBackoff
		}
		log.Printf("slack: rate limited (attempt %d/%d) — retrying in %v", attempt+1, maxRetries, wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}

// parseSlackTimestamp converts a Slack "1234567890.123456" timestamp.
func parseSlackTimestamp(ts string) time.Time {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Time{}
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func isChannelNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "channel_not_found")
}

func isAlreadyArchived(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already_archived")
}
