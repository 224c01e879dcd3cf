package wa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/deskhub/pkg/logging"
	"github.com/deskhub/pkg/protocol"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

var errForeignAuthState = errors.New("auth state was not loaded by the whatsmeow auth store")

// Dialer builds whatsmeow clients. Reconnects are owned by the session
// supervisor, so the library's own auto reconnect is switched off.
type Dialer struct {
	log *logging.Logger
}

func NewDialer(log *logging.Logger) *Dialer {
	return &Dialer{log: log.Sub("whatsmeow")}
}

func (d *Dialer) Dial(channelID uint, auth protocol.AuthState, sink protocol.Sink) (protocol.Client, error) {
	st, ok := auth.(*authState)
	if !ok {
		return nil, errForeignAuthState
	}

	cli := whatsmeow.NewClient(st.device, d.log.WhatsApp(fmt.Sprintf("channel-%d", channelID)))
	cli.EnableAutoReconnect = false

	c := &client{
		cli:       cli,
		sink:      sink,
		channelID: channelID,
		log:       d.log.With("channel", fmt.Sprint(channelID)),
	}
	cli.AddEventHandler(c.handleEvent)
	return c, nil
}

type client struct {
	cli       *whatsmeow.Client
	sink      protocol.Sink
	channelID uint
	log       *logging.Logger

	mu       sync.Mutex
	qrCancel context.CancelFunc
}

func (c *client) Connect(ctx context.Context) error {
	// Get QR channel BEFORE connecting when the device is not paired yet
	if c.cli.Store.ID == nil {
		qrCtx, cancel := context.WithCancel(context.Background())
		qrChan, err := c.cli.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("failed to get QR channel: %w", err)
		}
		c.mu.Lock()
		c.qrCancel = cancel
		c.mu.Unlock()
		go c.pumpQR(qrChan)
	}

	if err := c.cli.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

func (c *client) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			c.sink(protocol.QREvent(evt.Code))
		case "success":
			c.log.Info().Msg("pairing succeeded")
		case "timeout":
			c.sink(protocol.CloseEvent(protocol.CodePairingTimeout, "QR code expired"))
		case "error":
			c.sink(protocol.CloseEvent(protocol.CodePairingTimeout, fmt.Sprintf("QR code error: %v", evt.Error)))
		default:
			c.sink(protocol.CloseEvent(protocol.CodePairingTimeout, "pairing failed: "+evt.Event))
		}
	}
}

func (c *client) Disconnect() {
	c.mu.Lock()
	if c.qrCancel != nil {
		c.qrCancel()
		c.qrCancel = nil
	}
	c.mu.Unlock()
	c.cli.Disconnect()
}

func (c *client) Logout(ctx context.Context) error {
	return c.cli.Logout(ctx)
}

func (c *client) Send(ctx context.Context, address, text string) (string, error) {
	if !c.cli.IsConnected() || c.cli.Store.ID == nil {
		return "", protocol.ErrNotConnected
	}
	recipient, err := toJID(address)
	if err != nil {
		return "", err
	}

	msg := &waProto.Message{
		Conversation: proto.String(text),
	}
	resp, err := c.cli.SendMessage(ctx, recipient, msg)
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	return string(resp.ID), nil
}

func (c *client) DownloadMedia(ctx context.Context, msg *protocol.InboundMessage) ([]byte, error) {
	media, ok := msg.Media.(whatsmeow.DownloadableMessage)
	if !ok {
		return nil, fmt.Errorf("message %s carries no downloadable media", msg.ID)
	}
	return c.cli.Download(ctx, media)
}

func (c *client) translate(evt any) protocol.Event {
	switch v := evt.(type) {
	case *events.Message:
		return protocol.MessagesEvent(convertMessage(v))
	case *events.Connected:
		return protocol.OpenEvent()
	case *events.PairSuccess:
		return protocol.Event{Kind: protocol.EventCredentialsUpdated}
	case *events.LoggedOut:
		return protocol.CloseEvent(protocol.CodeLoggedOut, fmt.Sprintf("logged out: %v", v.Reason))
	case *events.StreamReplaced:
		return protocol.CloseEvent(protocol.CodeConnectionReplaced, "connection replaced by another client")
	case *events.Disconnected:
		return protocol.CloseEvent(protocol.CodeConnectionClosed, "connection closed")
	case *events.ConnectFailure:
		if v.Reason.IsLoggedOut() {
			return protocol.CloseEvent(protocol.CodeLoggedOut, v.Message)
		}
		return protocol.CloseEvent(int(v.Reason), v.Message)
	case *events.TemporaryBan:
		return protocol.CloseEvent(protocol.CodeForbidden, fmt.Sprintf("temporary ban: %v", v.Code))
	case *events.ClientOutdated:
		return protocol.CloseEvent(protocol.CodeForbidden, "client outdated")
	}
	return protocol.Event{}
}

func (c *client) handleEvent(evt any) {
	out := c.translate(evt)
	if out.Kind == 0 {
		return
	}
	c.sink(out)
}

// toJID accepts bare numbers, the legacy "@c.us" suffix and full JIDs.
func toJID(address string) (waTypes.JID, error) {
	if !strings.Contains(address, "@") {
		return waTypes.NewJID(protocol.NormalizeAddress(address), waTypes.DefaultUserServer), nil
	}
	if strings.HasSuffix(address, "@c.us") {
		return waTypes.NewJID(protocol.NormalizeAddress(address), waTypes.DefaultUserServer), nil
	}
	jid, err := waTypes.ParseJID(address)
	if err != nil {
		return waTypes.JID{}, fmt.Errorf("invalid address %q: %w", address, err)
	}
	return jid, nil
}
