// Package protocol is the contract between the session core and the
// messaging client library. Nothing outside pkg/protocol/wa knows which
// library sits behind it.
package protocol

import (
	"context"
	"errors"
	"time"
)

var ErrNotConnected = errors.New("protocol client not connected")

// Client is one live connection for one channel.
type Client interface {
	// Connect opens the connection. Events start flowing to the sink
	// passed to the Dialer.
	Connect(ctx context.Context) error
	// Disconnect closes the connection without logging out.
	Disconnect()
	// Logout unlinks the device on the server side.
	Logout(ctx context.Context) error
	// Send delivers a text message and returns the protocol message id.
	Send(ctx context.Context, address, text string) (string, error)
	// DownloadMedia fetches the media payload referenced by msg.
	DownloadMedia(ctx context.Context, msg *InboundMessage) ([]byte, error)
}

// Sink receives every event of a client in delivery order.
type Sink func(Event)

// Dialer builds a client on top of loaded auth state.
type Dialer interface {
	Dial(channelID uint, auth AuthState, sink Sink) (Client, error)
}

// AuthState is the loaded credential store of one channel.
type AuthState interface {
	Save(ctx context.Context) error
	Close() error
}

// AuthStore persists per-channel credentials across restarts.
type AuthStore interface {
	Load(ctx context.Context, channelID uint) (AuthState, error)
	Wipe(ctx context.Context, channelID uint) error
	Exists(channelID uint) bool
}

type EventKind int

const (
	EventCredentialsUpdated EventKind = iota + 1
	EventMessagesReceived
	EventConnectionState
)

func (k EventKind) String() string {
	switch k {
	case EventCredentialsUpdated:
		return "credentials_updated"
	case EventMessagesReceived:
		return "messages_received"
	case EventConnectionState:
		return "connection_state"
	}
	return "unknown"
}

type ConnState string

const (
	StateQR    ConnState = "qr"
	StateOpen  ConnState = "open"
	StateClose ConnState = "close"
)

// CloseReason explains why a connection went away.
type CloseReason struct {
	Code    int
	Message string
}

type Event struct {
	Kind     EventKind
	Messages []InboundMessage

	State       ConnState
	QR          string
	CloseReason *CloseReason
}

// InboundMessage is a protocol message normalised into plain fields.
type InboundMessage struct {
	ID            string
	RemoteAddress string
	Participant   string
	FromMe        bool
	PushName      string
	Timestamp     time.Time
	Body          string
	MediaKind     string
	MediaMime     string
	MediaName     string
	// StatusOnly marks protocol bookkeeping (receipts, reactions, revokes)
	// that carries no conversational content.
	StatusOnly bool

	// Media is the library-specific handle DownloadMedia needs.
	Media any
}

func (m InboundMessage) HasMedia() bool {
	return m.MediaKind != "" && m.Media != nil
}

func QREvent(code string) Event {
	return Event{Kind: EventConnectionState, State: StateQR, QR: code}
}

func OpenEvent() Event {
	return Event{Kind: EventConnectionState, State: StateOpen}
}

func CloseEvent(code int, message string) Event {
	return Event{Kind: EventConnectionState, State: StateClose, CloseReason: &CloseReason{Code: code, Message: message}}
}

func MessagesEvent(msgs ...InboundMessage) Event {
	return Event{Kind: EventMessagesReceived, Messages: msgs}
}
