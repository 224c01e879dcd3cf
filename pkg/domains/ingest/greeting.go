package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/deskhub/pkg/constant"
	"github.com/deskhub/pkg/entities"
	"github.com/deskhub/pkg/protocol"
	"gorm.io/gorm"
)

// Greet welcomes the contact of a freshly opened ticket: the configured
// greeting first, then a menu. Each is sent at most once per ticket, so
// calling Greet again is harmless. Missing configuration skips a step.
func (p *Pipeline) Greet(ctx context.Context, tenantID, channelID uint, res *Result, client protocol.Client) error {
	if res == nil || !res.IsNewTicket || res.FromMe || res.IsGroup {
		return nil
	}

	ticket, err := p.repo.FindTicket(ctx, res.TicketID)
	if err != nil {
		return fmt.Errorf("loading ticket %d: %w", res.TicketID, err)
	}

	var errs []error
	if err := p.sendGreeting(ctx, tenantID, channelID, &ticket, res.SenderAddress, client); err != nil {
		errs = append(errs, err)
	}
	if err := p.sendMenu(ctx, tenantID, channelID, &ticket, res.SenderAddress, client); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (p *Pipeline) sendGreeting(ctx context.Context, tenantID, channelID uint, ticket *entities.Ticket, address string, client protocol.Client) error {
	sent, err := p.repo.HasSystemMessage(ctx, ticket.ID, constant.TAG_GREETING, nil)
	if err != nil || sent {
		return err
	}
	text := p.greetingText(ctx, tenantID, channelID, ticket.QueueID)
	if text == "" {
		return nil
	}
	return p.sendSystem(ctx, ticket, address, reply{tag: constant.TAG_GREETING, queueID: ticket.QueueID, body: text}, client)
}

// greetingText prefers the queue's greeting over the channel's.
func (p *Pipeline) greetingText(ctx context.Context, tenantID, channelID uint, queueID *uint) string {
	if queueID != nil {
		queue, err := p.repo.FindQueue(ctx, tenantID, *queueID)
		if err == nil && queue.GreetingMessage != "" {
			return queue.GreetingMessage
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			p.log.Warn().Err(err).Uint("queue", *queueID).Msg("failed to load queue greeting")
		}
	}
	channel, err := p.repo.FindChannel(ctx, channelID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			p.log.Warn().Err(err).Uint("channel", channelID).Msg("failed to load channel greeting")
		}
		return ""
	}
	return channel.GreetingMessage
}

func (p *Pipeline) sendMenu(ctx context.Context, tenantID, channelID uint, ticket *entities.Ticket, address string, client protocol.Client) error {
	if ticket.QueueID != nil {
		sent, err := p.repo.HasSystemMessage(ctx, ticket.ID, constant.TAG_OPTIONS_MENU, ticket.QueueID)
		if err != nil || sent {
			return err
		}
		queue, err := p.repo.FindQueue(ctx, tenantID, *ticket.QueueID)
		if err != nil {
			return fmt.Errorf("loading queue %d: %w", *ticket.QueueID, err)
		}
		r, ok := p.rootMenu(ctx, queue)
		if !ok {
			return nil
		}
		return p.sendSystem(ctx, ticket, address, r, client)
	}

	queues, err := p.repo.ChannelQueues(ctx, tenantID, channelID)
	if err != nil {
		return fmt.Errorf("loading channel queues: %w", err)
	}
	if len(queues) < 2 {
		return nil
	}
	sent, err := p.repo.HasSystemMessage(ctx, ticket.ID, constant.TAG_QUEUE_MENU, nil)
	if err != nil || sent {
		return err
	}
	return p.sendSystem(ctx, ticket, address, queueMenu(queues), client)
}
