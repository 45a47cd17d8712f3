// Package remote defines the port for the contact-messaging network client.
// The wire protocol, pairing handshake, and credential format belong to the
// supplied client implementation; the bridge only consumes this interface.
package remote

import (
	"context"
	"time"
)

// Client is the black-box session client for the contact-messaging network.
// One Client serves one tenant's session.
type Client interface {
	// Connect starts a session. With credentials it attempts a silent
	// resume; with nil credentials it begins the pairing flow and a
	// pairing-code event follows on Events.
	Connect(ctx context.Context, creds *Credentials) error

	// Send delivers a payload to a remote contact. Errors are classified
	// via Classify.
	Send(ctx context.Context, recipient string, p Payload) error

	// Disconnect tears the session down. With logout the server-side
	// session is invalidated and persisted credentials become useless.
	Disconnect(ctx context.Context, logout bool) error

	// Events returns the lifecycle event stream. The channel is closed
	// when the client is closed.
	Events() <-chan Event

	// Close releases all client resources. Events is closed as a result.
	Close() error
}

// EventType enumerates remote session lifecycle events.
type EventType string

const (
	EventPairingCode EventType = "pairing_code"
	// EventAuthenticated signals that a pairing code was consumed by the
	// remote device and credential exchange is under way.
	EventAuthenticated EventType = "authenticated"
	EventReady         EventType = "ready"
	EventClosed        EventType = "closed"
	EventAuthFailure   EventType = "auth_failure"
	EventMessage       EventType = "message"
)

// CloseReasonLogout marks a server-initiated close caused by a deliberate
// logout (e.g. the paired device unlinked the session).
const CloseReasonLogout = "logout"

// Event is one lifecycle event from the remote client.
type Event struct {
	Type    EventType
	Code    string   // pairing code value (EventPairingCode)
	Reason  string   // close reason (EventClosed)
	Err     error    // failure detail (EventAuthFailure)
	Message *Message // inbound message (EventMessage)
}

// PayloadKind discriminates outbound/inbound payload content.
type PayloadKind string

const (
	KindText     PayloadKind = "text"
	KindImage    PayloadKind = "image"
	KindAudio    PayloadKind = "audio"
	KindVideo    PayloadKind = "video"
	KindDocument PayloadKind = "document"
)

// Payload is the content of one message in either direction.
type Payload struct {
	Kind  PayloadKind
	Text  string
	Media *Media
}

// Media holds binary attachment data plus enough metadata for conversion.
type Media struct {
	MimeType string
	FileName string
	Data     []byte
}

// Message is an inbound message from a remote contact.
type Message struct {
	ContactID   string // raw remote address; normalized by the routing layer
	DisplayName string
	Payload     Payload
	ReceivedAt  time.Time
}

// Credentials is the opaque persisted session credential blob. The bridge
// never inspects it.
type Credentials struct {
	Blob []byte
}
