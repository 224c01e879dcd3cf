package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/deskhub/pkg/broadcast"
	"github.com/deskhub/pkg/constant"
	"github.com/deskhub/pkg/entities"
	"github.com/deskhub/pkg/protocol"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var numericToken = regexp.MustCompile(`^\d+$`)

// reply is a synthetic outbound message waiting to be sent.
type reply struct {
	tag     string
	queueID *uint
	body    string
	choices []entities.MenuChoice
}

// route matches a numeric reply against the menu the contact was last shown
// and mutates the ticket's routing fields in place. It returns the follow-up
// messages to send once the inbound message is stored.
func (p *Pipeline) route(ctx context.Context, ticket *entities.Ticket, body string) []reply {
	token := strings.TrimSpace(body)
	if !numericToken.MatchString(token) {
		return nil
	}

	latest, err := p.repo.LatestSystemMessage(ctx, ticket.ID, constant.TAG_QUEUE_MENU, constant.TAG_OPTIONS_MENU)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		p.log.Warn().Err(err).Uint("ticket", ticket.ID).Msg("failed to load last menu")
		return nil
	}
	if err == nil && latest.SystemTag == constant.TAG_QUEUE_MENU {
		if choice, ok := matchChoice(latest.MenuChoices, token); ok {
			return p.selectQueue(ctx, ticket, choice.QueueID)
		}
	}

	if ticket.QueueID == nil {
		return nil
	}
	return p.selectOption(ctx, ticket, token)
}

func (p *Pipeline) selectQueue(ctx context.Context, ticket *entities.Ticket, queueID uint) []reply {
	ticket.QueueID = &queueID
	ticket.QueueOptionID = nil

	sent, err := p.repo.HasSystemMessage(ctx, ticket.ID, constant.TAG_OPTIONS_MENU, &queueID)
	if err != nil {
		p.log.Warn().Err(err).Uint("ticket", ticket.ID).Msg("failed to check for root menu")
		return nil
	}
	if sent {
		return nil
	}
	queue, err := p.repo.FindQueue(ctx, ticket.TenantID, queueID)
	if err != nil {
		p.log.Warn().Err(err).Uint("queue", queueID).Msg("selected queue not found")
		return nil
	}
	if r, ok := p.rootMenu(ctx, queue); ok {
		return []reply{r}
	}
	return nil
}

func (p *Pipeline) selectOption(ctx context.Context, ticket *entities.Ticket, token string) []reply {
	option, err := p.repo.FindOption(ctx, ticket.TenantID, *ticket.QueueID, ticket.QueueOptionID, token)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			p.log.Warn().Err(err).Uint("ticket", ticket.ID).Msg("option lookup failed")
		}
		return nil
	}

	optionID, queueID := option.ID, option.QueueID
	ticket.QueueOptionID = &optionID
	ticket.QueueID = &queueID

	children, err := p.repo.ListOptions(ctx, ticket.TenantID, queueID, &optionID)
	if err != nil {
		p.log.Warn().Err(err).Uint("option", optionID).Msg("failed to list sub-options")
	}
	if option.Message == "" && len(children) == 0 {
		return nil
	}
	return []reply{{
		tag:     constant.TAG_OPTION_REPLY,
		queueID: &queueID,
		body:    renderMenu(option.Message, optionLines(children)),
	}}
}

// rootMenu renders the top-level options of a queue. ok is false when the
// queue has none.
func (p *Pipeline) rootMenu(ctx context.Context, queue entities.Queue) (reply, bool) {
	options, err := p.repo.ListOptions(ctx, queue.TenantID, queue.ID, nil)
	if err != nil {
		p.log.Warn().Err(err).Uint("queue", queue.ID).Msg("failed to list queue options")
		return reply{}, false
	}
	if len(options) == 0 {
		return reply{}, false
	}
	queueID := queue.ID
	return reply{
		tag:     constant.TAG_OPTIONS_MENU,
		queueID: &queueID,
		body:    renderMenu(queue.Name, optionLines(options)),
	}, true
}

// queueMenu lets the contact pick one of the channel's queues by number.
func queueMenu(queues []entities.Queue) reply {
	choices := make([]entities.MenuChoice, 0, len(queues))
	lines := make([]string, 0, len(queues))
	for i, q := range queues {
		token := strconv.Itoa(i + 1)
		choices = append(choices, entities.MenuChoice{Token: token, QueueID: q.ID, Label: q.Name})
		lines = append(lines, menuLine(token, q.Name))
	}
	return reply{
		tag:     constant.TAG_QUEUE_MENU,
		body:    renderMenu(constant.QUEUE_MENU_HEADER, lines),
		choices: choices,
	}
}

func matchChoice(raw datatypes.JSON, token string) (entities.MenuChoice, bool) {
	if len(raw) == 0 {
		return entities.MenuChoice{}, false
	}
	var choices []entities.MenuChoice
	if err := json.Unmarshal(raw, &choices); err != nil {
		return entities.MenuChoice{}, false
	}
	for _, c := range choices {
		if c.Token == token {
			return c, true
		}
	}
	return entities.MenuChoice{}, false
}

func optionLines(options []entities.QueueOption) []string {
	lines := make([]string, 0, len(options))
	for _, o := range options {
		lines = append(lines, menuLine(o.Token, o.Title))
	}
	return lines
}

func menuLine(token, title string) string {
	return fmt.Sprintf("*%s* - %s", token, title)
}

func renderMenu(header string, lines []string) string {
	body := strings.Join(lines, "\n")
	switch {
	case header == "":
		return body
	case body == "":
		return header
	default:
		return header + "\n\n" + body
	}
}

// sendReplies delivers each reply in order and stops at the first failure.
func (p *Pipeline) sendReplies(ctx context.Context, ticket *entities.Ticket, address string, replies []reply, client protocol.Client) {
	for _, r := range replies {
		if err := p.sendSystem(ctx, ticket, address, r, client); err != nil {
			p.log.Warn().Err(err).Uint("ticket", ticket.ID).Str("tag", r.tag).Msg("failed to send chatbot reply")
			return
		}
	}
}

// sendSystem sends a synthetic message and records it with its system tag.
// Nothing is recorded when the send fails, so the step is retried on the
// next trigger.
func (p *Pipeline) sendSystem(ctx context.Context, ticket *entities.Ticket, address string, r reply, client protocol.Client) error {
	if client == nil {
		return protocol.ErrNotConnected
	}
	id, err := client.Send(ctx, address, r.body)
	if err != nil {
		return fmt.Errorf("sending %s: %w", r.tag, err)
	}

	now := p.now()
	msg := entities.Message{
		ID:            id,
		TenantID:      ticket.TenantID,
		TicketID:      ticket.ID,
		ContactID:     ticket.ContactID,
		ChannelID:     ticket.ChannelID,
		Body:          r.body,
		FromMe:        true,
		Timestamp:     now,
		SystemTag:     r.tag,
		SystemQueueID: r.queueID,
	}
	if msg.ID == "" {
		msg.ID = protocol.FallbackID(protocol.InboundMessage{
			RemoteAddress: address,
			FromMe:        true,
			Timestamp:     now,
			Body:          r.body,
		})
	}
	if len(r.choices) > 0 {
		raw, err := json.Marshal(r.choices)
		if err != nil {
			return fmt.Errorf("encoding menu choices: %w", err)
		}
		msg.MenuChoices = datatypes.JSON(raw)
	}

	if _, err := p.repo.InsertMessage(ctx, &msg); err != nil {
		return fmt.Errorf("persisting %s: %w", r.tag, err)
	}
	contact := ticket.Contact
	*ticket = p.touchTicket(ctx, *ticket, TicketUpdate{
		LastMessage:   msg.Body,
		FromMe:        true,
		QueueID:       ticket.QueueID,
		QueueOptionID: ticket.QueueOptionID,
	})
	ticket.Contact = contact

	p.publish(ctx, broadcast.MessageTopic(ticket.TenantID), broadcast.ActionCreate, msg)
	p.publish(ctx, broadcast.TicketTopic(ticket.TenantID), broadcast.ActionUpdate, *ticket)
	return nil
}
