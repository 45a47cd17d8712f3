package local

import (
	"context"
	"fmt"
	"sync"
)

// MockChannelClient implements ChannelClient for testing. It keeps channels
// and their messages in memory and lets tests delete channels out-of-band.
type MockChannelClient struct {
	mu       sync.Mutex
	nextID   int
	channels map[string]bool
	messages map[string][]ChannelMessage
	history  map[string][]ChannelMessage // pre-seeded history overrides

	createErr error
	sendErr   error
}

// NewMockChannelClient creates an empty MockChannelClient.
func NewMockChannelClient() *MockChannelClient {
	return &MockChannelClient{
		channels: make(map[string]bool),
		messages: make(map[string][]ChannelMessage),
		history:  make(map[string][]ChannelMessage),
	}
}

func (m *MockChannelClient) CreateChannel(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return "", m.createErr
	}
	m.nextID++
	id := fmt.Sprintf("chan-%d", m.nextID)
	m.channels[id] = true
	return id, nil
}

func (m *MockChannelClient) SendToChannel(ctx context.Context, channelID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	if !m.channels[channelID] {
		return fmt.Errorf("mock channel client: channel %s does not exist", channelID)
	}
	m.messages[channelID] = append(m.messages[channelID], ChannelMessage{Text: content})
	return nil
}

func (m *MockChannelClient) DeleteChannel(ctx context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, channelID)
	return nil
}

func (m *MockChannelClient) ChannelExists(ctx context.Context, channelID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels[channelID], nil
}

func (m *MockChannelClient) ChannelHistory(ctx context.Context, channelID string, limit int) ([]ChannelMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs, ok := m.history[channelID]
	if !ok {
		msgs = m.messages[channelID]
	}
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]ChannelMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

// --- Test helpers ---

// AddChannel registers a channel as existing without going through Create.
func (m *MockChannelClient) AddChannel(channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[channelID] = true
}

// Messages returns a copy of the messages sent to a channel.
func (m *MockChannelClient) Messages(channelID string) []ChannelMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[channelID]
	out := make([]ChannelMessage, len(msgs))
	copy(out, msgs)
	return out
}

// ChannelCount returns how many channels currently exist.
func (m *MockChannelClient) ChannelCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}

// SetCreateError makes CreateChannel fail with err.
func (m *MockChannelClient) SetCreateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

// SetSendError makes SendToChannel fail with err.
func (m *MockChannelClient) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// SetHistory pre-seeds history for a channel.
func (m *MockChannelClient) SetHistory(channelID string, msgs []ChannelMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[channelID] = msgs
}
