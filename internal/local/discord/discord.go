// Package discord implements the local ChannelClient for Discord guilds.
package discord

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/switchboard/internal/local"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for rate-limit retries.
	maxBackoff = 2 * time.Minute
	// maxMessageLen is Discord's per-message character limit.
	maxMessageLen = 2000
	// defaultPageSize is the number of messages per page for history.
	defaultPageSize = 100
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.Channel(channelID, options...)
}
func (r *realSession) GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.GuildChannelCreateComplex(guildID, data, options...)
}
func (r *realSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSend(channelID, content, options...)
}
func (r *realSession) ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.ChannelDelete(channelID, options...)
}
func (r *realSession) ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	return r.s.ChannelMessages(channelID, limit, beforeID, afterID, aroundID, options...)
}

// Client implements local.ChannelClient for one Discord guild. Ticket
// channels are created under the configured category.
type Client struct {
	sess       session
	botToken   string
	guildID    string
	categoryID string

	mu        sync.Mutex
	connected bool
}

// ClientOpts holds parameters for creating a Discord Client.
type ClientOpts struct {
	BotToken   string // Discord bot token
	GuildID    string // guild the bridge serves
	CategoryID string // parent category for ticket channels (optional)
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// New creates a Discord Client.
func New(opts ClientOpts) (*Client, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if opts.GuildID == "" {
		return nil, fmt.Errorf("discord: guild id is required")
	}
	return &Client{
		sess:       opts.Session,
		botToken:   opts.BotToken,
		guildID:    opts.GuildID,
		categoryID: opts.CategoryID,
	}, nil
}

// Connect opens the Discord session.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}
	if c.sess == nil {
		dg, err := discordgo.New("Bot " + c.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
		c.sess = &realSession{s: dg}
	}
	if err := c.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	c.connected = true
	return nil
}

// Close shuts the session down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	c.connected = false
	return c.sess.Close()
}

// CreateChannel creates a guild text channel under the ticket category.
func (c *Client) CreateChannel(ctx context.Context, name string) (string, error) {
	var ch *discordgo.Channel
	err := c.retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, apiErr = c.sess.GuildChannelCreateComplex(c.guildID, discordgo.GuildChannelCreateData{
			Name:     name,
			Type:     discordgo.ChannelTypeGuildText,
			ParentID: c.categoryID,
		})
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: create channel %q: %w", name, err)
	}
	return ch.ID, nil
}

// SendToChannel posts content to a channel, chunked to Discord's limit.
func (c *Client) SendToChannel(ctx context.Context, channelID, content string) error {
	for _, chunk := range chunkMessage(content, maxMessageLen) {
		err := c.retryOnRateLimit(ctx, func() error {
			_, sendErr := c.sess.ChannelMessageSend(channelID, chunk)
			return sendErr
		})
		if err != nil {
			return fmt.Errorf("discord: send to %s: %w", channelID, err)
		}
	}
	return nil
}

// DeleteChannel removes a channel.
func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	err := c.retryOnRateLimit(ctx, func() error {
		_, delErr := c.sess.ChannelDelete(channelID)
		return delErr
	})
	if err != nil {
		return fmt.Errorf("discord: delete channel %s: %w", channelID, err)
	}
	return nil
}

// ChannelExists reports whether the channel still exists. A 404 from the
// API means it was deleted; other errors are surfaced.
func (c *Client) ChannelExists(ctx context.Context, channelID string) (bool, error) {
	var exists bool
	err := c.retryOnRateLimit(ctx, func() error {
		_, apiErr := c.sess.Channel(channelID)
		if apiErr == nil {
			exists = true
			return nil
		}
		if restErr, ok := apiErr.(*discordgo.RESTError); ok && restErr.Response != nil &&
			restErr.Response.StatusCode == 404 {
			exists = false
			return nil
		}
		return apiErr
	})
	if err != nil {
		return false, fmt.Errorf("discord: check channel %s: %w", channelID, err)
	}
	return exists, nil
}

// ChannelHistory retrieves up to limit messages from a channel, oldest first.
func (c *Client) ChannelHistory(ctx context.Context, channelID string, limit int) ([]local.ChannelMessage, error) {
	var all []local.ChannelMessage
	beforeID := ""

	pageSize := defaultPageSize
	if limit > 0 && limit < pageSize {
		pageSize = limit
	}

	for {
		var msgs []*discordgo.Message
		err := c.retryOnRateLimit(ctx, func() error {
			var apiErr error
			msgs, apiErr = c.sess.ChannelMessages(channelID, pageSize, beforeID, "", "")
			return apiErr
		})
		if err != nil {
			return nil, fmt.Errorf("discord: channel messages: %w", err)
		}
		if len(msgs) == 0 {
			break
		}

		for _, m := range msgs {
			all = append(all, local.ChannelMessage{
				UserID:    m.Author.ID,
				UserName:  m.Author.Username,
				Text:      m.Content,
				Timestamp: m.Timestamp,
			})
		}

		if limit > 0 && len(all) >= limit {
			all = all[:limit]
			break
		}
		beforeID = msgs[len(msgs)-1].ID
		if len(msgs) < pageSize {
			break
		}
	}

	// The API pages newest-first; flip to oldest-first for transcripts.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (c *Client) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != 429 {
			return err // not a rate limit error
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * baseBackoff
		if wait > maxBackoff {
			wait = maxBackoff
		}
		log.Printf("discord: rate limited (attempt %d/%d) — retrying in %v", attempt+1, maxRetries, wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}

// chunkMessage splits text into chunks of at most maxLen characters,
// preferring newline breaks.
func chunkMessage(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = maxMessageLen
	}
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		chunk := text[:maxLen]
		breakAt := -1
		half := maxLen / 2
		for i := maxLen - 1; i >= half; i-- {
			if chunk[i] == '\n' {
				breakAt = i
				break
			}
		}

		if breakAt >= 0 {
			chunks = append(chunks, text[:breakAt])
			text = text[breakAt+1:]
		} else {
			chunks = append(chunks, chunk)
			text = text[maxLen:]
		}
	}
	return chunks
}
