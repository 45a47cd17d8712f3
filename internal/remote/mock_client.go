package remote

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockClient implements Client for testing. It records sends and connect
// attempts and lets tests script lifecycle events via the Emit helpers.
type MockClient struct {
	mu        sync.Mutex
	closed    bool
	events    chan Event
	sent      []MockSend
	connects  []*Credentials
	sendErr   error            // returned by Send until cleared
	sendErrs  map[string]error // per-recipient overrides
	connErr   error
	loggedOut bool
}

// MockSend records one Send call.
type MockSend struct {
	Recipient string
	Payload   Payload
	At        time.Time
}

// NewMockClient creates a MockClient with a buffered event channel.
func NewMockClient() *MockClient {
	return &MockClient{
		events:   make(chan Event, 100),
		sendErrs: make(map[string]error),
	}
}

func (m *MockClient) Connect(ctx context.Context, creds *Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock client: already closed")
	}
	cp := creds
	if creds != nil {
		cp = &Credentials{Blob: append([]byte(nil), creds.Blob...)}
	}
	m.connects = append(m.connects, cp)
	return m.connErr
}

func (m *MockClient) Send(ctx context.Context, recipient string, p Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock client: already closed")
	}
	if err, ok := m.sendErrs[recipient]; ok && err != nil {
		return err
	}
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, MockSend{Recipient: recipient, Payload: p, At: time.Now()})
	return nil
}

func (m *MockClient) Disconnect(ctx context.Context, logout bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if logout {
		m.loggedOut = true
	}
	return nil
}

func (m *MockClient) Events() <-chan Event {
	return m.events
}

func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.events)
	return nil
}

// --- Test helpers ---

// EmitPairingCode scripts a pairing-code event.
func (m *MockClient) EmitPairingCode(code string) {
	m.events <- Event{Type: EventPairingCode, Code: code}
}

// EmitAuthenticated scripts a pairing-consumed event.
func (m *MockClient) EmitAuthenticated() {
	m.events <- Event{Type: EventAuthenticated}
}

// EmitReady scripts a ready event.
func (m *MockClient) EmitReady() {
	m.events <- Event{Type: EventReady}
}

// EmitClosed scripts a closed event with the given reason.
func (m *MockClient) EmitClosed(reason string) {
	m.events <- Event{Type: EventClosed, Reason: reason}
}

// EmitAuthFailure scripts an auth-failure event.
func (m *MockClient) EmitAuthFailure(err error) {
	m.events <- Event{Type: EventAuthFailure, Err: err}
}

// EmitMessage scripts an inbound message event.
func (m *MockClient) EmitMessage(msg Message) {
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}
	m.events <- Event{Type: EventMessage, Message: &msg}
}

// SetSendError makes all subsequent Send calls fail with err until cleared.
func (m *MockClient) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// SetRecipientError makes sends to one recipient fail with err.
func (m *MockClient) SetRecipientError(recipient string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErrs[recipient] = err
}

// SetConnectError makes subsequent Connect calls fail with err.
func (m *MockClient) SetConnectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connErr = err
}

// Sent returns a copy of all recorded sends.
func (m *MockClient) Sent() []MockSend {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockSend, len(m.sent))
	copy(out, m.sent)
	return out
}

// ConnectCount returns how many times Connect was called.
func (m *MockClient) ConnectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.connects)
}

// LastConnectCreds returns the credentials passed to the most recent Connect.
func (m *MockClient) LastConnectCreds() *Credentials {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.connects) == 0 {
		return nil
	}
	return m.connects[len(m.connects)-1]
}

// LoggedOut reports whether Disconnect(logout=true) was called.
func (m *MockClient) LoggedOut() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loggedOut
}
