// Package ingest turns inbound protocol messages into contacts, tickets and
// messages, and drives the menu chatbot on top of them.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deskhub/pkg/broadcast"
	"github.com/deskhub/pkg/constant"
	"github.com/deskhub/pkg/entities"
	"github.com/deskhub/pkg/logging"
	"github.com/deskhub/pkg/protocol"
	"github.com/deskhub/pkg/storage"
	"gorm.io/gorm"
)

// ErrSkipped is returned for events that carry nothing worth persisting.
var ErrSkipped = errors.New("event skipped")

// Result summarises one ingested message for the caller's greeting policy.
type Result struct {
	TicketID      uint
	ContactID     uint
	MessageID     string
	IsNewTicket   bool
	QueueID       *uint
	FromMe        bool
	IsGroup       bool
	SenderAddress string
	Duplicate     bool
}

type Pipeline struct {
	repo        Repository
	gateway     broadcast.Gateway
	attachments storage.AttachmentStore
	log         *logging.Logger
	now         func() time.Time
}

func NewPipeline(repo Repository, gateway broadcast.Gateway, attachments storage.AttachmentStore, log *logging.Logger) *Pipeline {
	if gateway == nil {
		gateway = broadcast.Nop{}
	}
	return &Pipeline{
		repo:        repo,
		gateway:     gateway,
		attachments: attachments,
		log:         log.Sub("ingest"),
		now:         time.Now,
	}
}

// Ingest persists one inbound message. It is idempotent on the message id:
// a re-delivered event inserts nothing and does not bump the unread count,
// but still refreshes the ticket and re-emits notifications.
func (p *Pipeline) Ingest(ctx context.Context, tenantID, channelID uint, msg protocol.InboundMessage, client protocol.Client) (*Result, error) {
	if msg.StatusOnly || msg.RemoteAddress == "" || protocol.IsBroadcastAddress(msg.RemoteAddress) {
		return nil, ErrSkipped
	}
	number := protocol.NormalizeAddress(msg.RemoteAddress)
	if number == "" {
		return nil, ErrSkipped
	}

	id := protocol.MessageID(msg)
	isGroup := protocol.IsGroupAddress(msg.RemoteAddress)
	log := p.log.With("message", id)

	contact, err := p.resolveContact(ctx, tenantID, number, msg, isGroup)
	if err != nil {
		return nil, fmt.Errorf("resolving contact %s: %w", number, err)
	}

	ticket, isNew, err := p.resolveTicket(ctx, tenantID, channelID, contact)
	if err != nil {
		return nil, fmt.Errorf("resolving ticket for contact %d: %w", contact.ID, err)
	}

	record := entities.Message{
		ID:          id,
		TenantID:    tenantID,
		TicketID:    ticket.ID,
		ContactID:   contact.ID,
		ChannelID:   channelID,
		Body:        msg.Body,
		FromMe:      msg.FromMe,
		Participant: msg.Participant,
		MediaKind:   msg.MediaKind,
		Timestamp:   msg.Timestamp,
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = p.now()
	}
	if msg.HasMedia() {
		record.MediaURL = p.materialize(ctx, tenantID, ticket.ID, id, &msg, client)
	}

	queueID, optionID := ticket.QueueID, ticket.QueueOptionID
	var replies []reply
	if !msg.FromMe && !isGroup {
		replies = p.route(ctx, &ticket, msg.Body)
	}

	created, err := p.repo.InsertMessage(ctx, &record)
	if err != nil {
		return nil, fmt.Errorf("persisting message %s: %w", id, err)
	}
	if !created {
		// the first delivery already routed this message
		log.Debug().Msg("duplicate message, already ingested")
		ticket.QueueID, ticket.QueueOptionID = queueID, optionID
		replies = nil
	}

	inbound := created && !msg.FromMe
	ticket = p.touchTicket(ctx, ticket, TicketUpdate{
		LastMessage:     preview(record),
		FromMe:          msg.FromMe,
		QueueID:         ticket.QueueID,
		QueueOptionID:   ticket.QueueOptionID,
		IncrementUnread: inbound,
	})
	ticket.Contact = contact

	p.publish(ctx, broadcast.TicketTopic(tenantID), broadcast.ActionUpdate, ticket)
	p.publish(ctx, broadcast.MessageTopic(tenantID), broadcast.ActionCreate, record)
	p.publish(ctx, broadcast.ContactTopic(tenantID), broadcast.ActionUpdate, contact)

	if len(replies) > 0 {
		p.sendReplies(ctx, &ticket, msg.RemoteAddress, replies, client)
	}

	return &Result{
		TicketID:      ticket.ID,
		ContactID:     contact.ID,
		MessageID:     id,
		IsNewTicket:   isNew,
		QueueID:       ticket.QueueID,
		FromMe:        msg.FromMe,
		IsGroup:       isGroup,
		SenderAddress: msg.RemoteAddress,
		Duplicate:     !created,
	}, nil
}

func (p *Pipeline) resolveContact(ctx context.Context, tenantID uint, number string, msg protocol.InboundMessage, isGroup bool) (entities.Contact, error) {
	// push names of group senders and of our own messages do not name the contact
	name := ""
	if !isGroup && !msg.FromMe {
		name = msg.PushName
	}

	contact, err := p.repo.FindContact(ctx, tenantID, number)
	if err == nil {
		if name != "" && contact.Name == contact.Number && name != contact.Name {
			if err := p.repo.UpdateContactName(ctx, contact.ID, name); err != nil {
				p.log.Warn().Err(err).Uint("contact", contact.ID).Msg("failed to update contact name")
			} else {
				contact.Name = name
			}
		}
		return contact, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return contact, err
	}

	if name == "" {
		name = number
	}
	contact = entities.Contact{
		TenantID:  tenantID,
		Number:    number,
		Name:      name,
		RemoteJID: msg.RemoteAddress,
		IsGroup:   isGroup,
	}
	if err := p.repo.CreateContact(ctx, &contact); err != nil {
		// lost a race on the (tenant, number) unique index
		if existing, ferr := p.repo.FindContact(ctx, tenantID, number); ferr == nil {
			return existing, nil
		}
		return contact, err
	}
	return contact, nil
}

func (p *Pipeline) resolveTicket(ctx context.Context, tenantID, channelID uint, contact entities.Contact) (entities.Ticket, bool, error) {
	ticket, err := p.repo.FindOpenTicket(ctx, tenantID, contact.ID, channelID)
	if err == nil {
		return ticket, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return ticket, false, err
	}

	ticket = entities.Ticket{
		TenantID:       tenantID,
		ContactID:      contact.ID,
		ChannelID:      channelID,
		Status:         entities.TicketPending,
		UnreadMessages: 0,
		IsGroup:        contact.IsGroup,
	}

	// a channel with exactly one queue routes there directly; with several
	// the queue-selection menu decides
	queues, err := p.repo.ChannelQueues(ctx, tenantID, channelID)
	if err != nil {
		p.log.Warn().Err(err).Uint("channel", channelID).Msg("failed to look up channel queues")
	} else if len(queues) == 1 {
		queueID := queues[0].ID
		ticket.QueueID = &queueID
	}

	if err := p.repo.CreateTicket(ctx, &ticket); err != nil {
		if existing, ferr := p.repo.FindOpenTicket(ctx, tenantID, contact.ID, channelID); ferr == nil {
			return existing, false, nil
		}
		return ticket, false, err
	}
	return ticket, true, nil
}

// materialize downloads and stores media. Any failure yields a nil url; the
// message itself is still persisted.
func (p *Pipeline) materialize(ctx context.Context, tenantID, ticketID uint, messageID string, msg *protocol.InboundMessage, client protocol.Client) *string {
	if client == nil || p.attachments == nil {
		return nil
	}
	data, err := client.DownloadMedia(ctx, msg)
	if err != nil {
		p.log.Warn().Err(err).Str("message", messageID).Str("kind", msg.MediaKind).Msg("media download failed")
		return nil
	}
	url, err := p.attachments.Store(ctx, tenantID, ticketID, messageID, data, msg.MediaName)
	if err != nil {
		p.log.Warn().Err(err).Str("message", messageID).Msg("media store failed")
		return nil
	}
	return &url
}

// touchTicket writes the update and returns the stored ticket. When the
// write or the re-read fails the caller's copy is adjusted in place.
func (p *Pipeline) touchTicket(ctx context.Context, ticket entities.Ticket, update TicketUpdate) entities.Ticket {
	if err := p.repo.UpdateTicket(ctx, ticket.ID, update); err != nil {
		p.log.Warn().Err(err).Uint("ticket", ticket.ID).Msg("failed to update ticket")
	} else if fresh, err := p.repo.FindTicket(ctx, ticket.ID); err == nil {
		return fresh
	}

	ticket.LastMessage = update.LastMessage
	ticket.FromMe = update.FromMe
	ticket.QueueID = update.QueueID
	ticket.QueueOptionID = update.QueueOptionID
	ticket.UpdatedAt = p.now()
	if update.IncrementUnread {
		ticket.UnreadMessages++
	}
	return ticket
}

func (p *Pipeline) publish(ctx context.Context, topic, action string, payload any) {
	if err := p.gateway.Publish(ctx, broadcast.NewEvent(topic, action, payload)); err != nil {
		p.log.Warn().Err(err).Str("topic", topic).Msg("broadcast failed")
	}
}

func preview(msg entities.Message) string {
	if msg.Body != "" || msg.MediaKind == "" {
		return msg.Body
	}
	return fmt.Sprintf(constant.MEDIA_PLACEHOLDER, msg.MediaKind)
}
