package ingest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/deskhub/pkg/broadcast"
	"github.com/deskhub/pkg/entities"
	"github.com/deskhub/pkg/protocol"
	"gorm.io/gorm"
)

// memRepo is an in-memory Repository. Messages keep insertion order.
type memRepo struct {
	mu sync.Mutex

	nextID        uint
	contacts      []*entities.Contact
	tickets       []*entities.Ticket
	messages      []entities.Message
	channels      map[uint]entities.Channel
	queues        map[uint]entities.Queue
	channelQueues map[uint][]uint
	options       []entities.QueueOption

	updateTicketErr error
}

func newMemRepo() *memRepo {
	return &memRepo{
		nextID:        100,
		channels:      map[uint]entities.Channel{},
		queues:        map[uint]entities.Queue{},
		channelQueues: map[uint][]uint{},
	}
}

func (r *memRepo) id() uint {
	r.nextID++
	return r.nextID
}

func (r *memRepo) addChannel(c entities.Channel) {
	r.channels[c.ID] = c
}

func (r *memRepo) addQueue(channelID uint, q entities.Queue) {
	r.queues[q.ID] = q
	r.channelQueues[channelID] = append(r.channelQueues[channelID], q.ID)
}

func (r *memRepo) addOption(o entities.QueueOption) {
	r.options = append(r.options, o)
}

func (r *memRepo) addTicket(t entities.Ticket) *entities.Ticket {
	if t.ID == 0 {
		t.ID = r.id()
	}
	r.tickets = append(r.tickets, &t)
	return &t
}

func (r *memRepo) addContact(c entities.Contact) *entities.Contact {
	if c.ID == 0 {
		c.ID = r.id()
	}
	r.contacts = append(r.contacts, &c)
	return &c
}

func (r *memRepo) ticket(id uint) entities.Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tickets {
		if t.ID == id {
			return *t
		}
	}
	return entities.Ticket{}
}

func (r *memRepo) allMessages() []entities.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.messages)
}

func (r *memRepo) tagged(ticketID uint, tag string) []entities.Message {
	var out []entities.Message
	for _, m := range r.allMessages() {
		if m.TicketID == ticketID && m.SystemTag == tag {
			out = append(out, m)
		}
	}
	return out
}

func (r *memRepo) FindContact(_ context.Context, tenantID uint, number string) (entities.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.contacts {
		if c.TenantID == tenantID && c.Number == number {
			return *c, nil
		}
	}
	return entities.Contact{}, gorm.ErrRecordNotFound
}

func (r *memRepo) CreateContact(_ context.Context, contact *entities.Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.contacts {
		if c.TenantID == contact.TenantID && c.Number == contact.Number {
			return gorm.ErrDuplicatedKey
		}
	}
	contact.ID = r.id()
	cp := *contact
	r.contacts = append(r.contacts, &cp)
	return nil
}

func (r *memRepo) UpdateContactName(_ context.Context, contactID uint, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.contacts {
		if c.ID == contactID {
			c.Name = name
		}
	}
	return nil
}

func (r *memRepo) FindOpenTicket(_ context.Context, tenantID, contactID, channelID uint) (entities.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.tickets) - 1; i >= 0; i-- {
		t := r.tickets[i]
		if t.TenantID == tenantID && t.ContactID == contactID && t.ChannelID == channelID && t.IsOpen() {
			return *t, nil
		}
	}
	return entities.Ticket{}, gorm.ErrRecordNotFound
}

func (r *memRepo) FindTicket(_ context.Context, ticketID uint) (entities.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tickets {
		if t.ID == ticketID {
			return *t, nil
		}
	}
	return entities.Ticket{}, gorm.ErrRecordNotFound
}

func (r *memRepo) CreateTicket(_ context.Context, ticket *entities.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket.ID = r.id()
	cp := *ticket
	r.tickets = append(r.tickets, &cp)
	return nil
}

func (r *memRepo) UpdateTicket(_ context.Context, ticketID uint, update TicketUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateTicketErr != nil {
		return r.updateTicketErr
	}
	for _, t := range r.tickets {
		if t.ID != ticketID {
			continue
		}
		t.LastMessage = update.LastMessage
		t.FromMe = update.FromMe
		t.QueueID = update.QueueID
		t.QueueOptionID = update.QueueOptionID
		t.UpdatedAt = time.Now()
		if update.IncrementUnread {
			t.UnreadMessages++
		}
		return nil
	}
	return gorm.ErrRecordNotFound
}

func (r *memRepo) InsertMessage(_ context.Context, msg *entities.Message) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.ID == msg.ID {
			return false, nil
		}
	}
	r.messages = append(r.messages, *msg)
	return true, nil
}

func (r *memRepo) LatestSystemMessage(_ context.Context, ticketID uint, tags ...string) (entities.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.messages) - 1; i >= 0; i-- {
		m := r.messages[i]
		if m.TicketID == ticketID && slices.Contains(tags, m.SystemTag) {
			return m, nil
		}
	}
	return entities.Message{}, gorm.ErrRecordNotFound
}

func (r *memRepo) HasSystemMessage(_ context.Context, ticketID uint, tag string, queueID *uint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.TicketID != ticketID || m.SystemTag != tag {
			continue
		}
		if queueID == nil || (m.SystemQueueID != nil && *m.SystemQueueID == *queueID) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) FindChannel(_ context.Context, channelID uint) (entities.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.channels[channelID]
	if !ok {
		return c, gorm.ErrRecordNotFound
	}
	return c, nil
}

func (r *memRepo) FindQueue(_ context.Context, tenantID, queueID uint) (entities.Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[queueID]
	if !ok || q.TenantID != tenantID {
		return entities.Queue{}, gorm.ErrRecordNotFound
	}
	return q, nil
}

func (r *memRepo) ChannelQueues(_ context.Context, tenantID, channelID uint) ([]entities.Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entities.Queue
	for _, id := range r.channelQueues[channelID] {
		if q := r.queues[id]; q.TenantID == tenantID {
			out = append(out, q)
		}
	}
	return out, nil
}

func model(id uint) gorm.Model {
	return gorm.Model{ID: id}
}

func sameParent(a, b *uint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r *memRepo) FindOption(_ context.Context, tenantID, queueID uint, parentID *uint, token string) (entities.QueueOption, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.options {
		if o.TenantID == tenantID && o.QueueID == queueID && sameParent(o.ParentID, parentID) && o.Token == token {
			return o, nil
		}
	}
	return entities.QueueOption{}, gorm.ErrRecordNotFound
}

func (r *memRepo) ListOptions(_ context.Context, tenantID, queueID uint, parentID *uint) ([]entities.QueueOption, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entities.QueueOption
	for _, o := range r.options {
		if o.TenantID == tenantID && o.QueueID == queueID && sameParent(o.ParentID, parentID) {
			out = append(out, o)
		}
	}
	return out, nil
}

type sentMessage struct {
	address string
	text    string
}

// fakeClient records outbound sends and serves canned media.
type fakeClient struct {
	mu       sync.Mutex
	sent     []sentMessage
	sendErr  error
	media    []byte
	mediaErr error
}

func (c *fakeClient) Connect(context.Context) error { return nil }
func (c *fakeClient) Disconnect()                   {}
func (c *fakeClient) Logout(context.Context) error  { return nil }

func (c *fakeClient) Send(_ context.Context, address, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return "", c.sendErr
	}
	c.sent = append(c.sent, sentMessage{address: address, text: text})
	return fmt.Sprintf("out-%d", len(c.sent)), nil
}

func (c *fakeClient) DownloadMedia(context.Context, *protocol.InboundMessage) ([]byte, error) {
	if c.mediaErr != nil {
		return nil, c.mediaErr
	}
	return c.media, nil
}

func (c *fakeClient) sentTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, s := range c.sent {
		out = append(out, s.text)
	}
	return out
}

type fakeGateway struct {
	mu     sync.Mutex
	events []broadcast.Event
	err    error
}

func (g *fakeGateway) Publish(_ context.Context, ev broadcast.Event) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, ev)
	return g.err
}

func (g *fakeGateway) topics() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.events))
	for _, ev := range g.events {
		out = append(out, ev.Topic)
	}
	return out
}
