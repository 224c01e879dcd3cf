package ingest

import (
	"context"
	"time"

	"github.com/deskhub/pkg/entities"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is everything the pipeline reads and writes. Lookups return
// gorm.ErrRecordNotFound when nothing matches.
type Repository interface {
	FindContact(ctx context.Context, tenantID uint, number string) (entities.Contact, error)
	CreateContact(ctx context.Context, contact *entities.Contact) error
	UpdateContactName(ctx context.Context, contactID uint, name string) error

	FindOpenTicket(ctx context.Context, tenantID, contactID, channelID uint) (entities.Ticket, error)
	FindTicket(ctx context.Context, ticketID uint) (entities.Ticket, error)
	CreateTicket(ctx context.Context, ticket *entities.Ticket) error
	UpdateTicket(ctx context.Context, ticketID uint, update TicketUpdate) error

	// InsertMessage is a no-op returning false when the id already exists.
	InsertMessage(ctx context.Context, msg *entities.Message) (bool, error)
	LatestSystemMessage(ctx context.Context, ticketID uint, tags ...string) (entities.Message, error)
	HasSystemMessage(ctx context.Context, ticketID uint, tag string, queueID *uint) (bool, error)

	FindChannel(ctx context.Context, channelID uint) (entities.Channel, error)
	FindQueue(ctx context.Context, tenantID, queueID uint) (entities.Queue, error)
	ChannelQueues(ctx context.Context, tenantID, channelID uint) ([]entities.Queue, error)
	FindOption(ctx context.Context, tenantID, queueID uint, parentID *uint, token string) (entities.QueueOption, error)
	ListOptions(ctx context.Context, tenantID, queueID uint, parentID *uint) ([]entities.QueueOption, error)
}

// TicketUpdate is written as a whole; routing fields carry the ticket's
// current values, nil clears them.
type TicketUpdate struct {
	LastMessage     string
	FromMe          bool
	QueueID         *uint
	QueueOptionID   *uint
	IncrementUnread bool
}

type repository struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) Repository {
	return &repository{
		db: db,
	}
}

func (r *repository) FindContact(ctx context.Context, tenantID uint, number string) (entities.Contact, error) {
	var contact entities.Contact
	err := r.db.WithContext(ctx).Where("tenant_id = ? AND number = ?", tenantID, number).First(&contact).Error
	return contact, err
}

func (r *repository) CreateContact(ctx context.Context, contact *entities.Contact) error {
	return r.db.WithContext(ctx).Create(contact).Error
}

func (r *repository) UpdateContactName(ctx context.Context, contactID uint, name string) error {
	return r.db.WithContext(ctx).Model(&entities.Contact{}).Where("id = ?", contactID).Update("name", name).Error
}

func (r *repository) FindOpenTicket(ctx context.Context, tenantID, contactID, channelID uint) (entities.Ticket, error) {
	var ticket entities.Ticket
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND contact_id = ? AND channel_id = ? AND status IN ?",
			tenantID, contactID, channelID, []string{entities.TicketPending, entities.TicketOpen}).
		Order("id DESC").
		First(&ticket).Error
	return ticket, err
}

func (r *repository) FindTicket(ctx context.Context, ticketID uint) (entities.Ticket, error) {
	var ticket entities.Ticket
	err := r.db.WithContext(ctx).First(&ticket, ticketID).Error
	return ticket, err
}

func (r *repository) CreateTicket(ctx context.Context, ticket *entities.Ticket) error {
	return r.db.WithContext(ctx).Create(ticket).Error
}

func (r *repository) UpdateTicket(ctx context.Context, ticketID uint, update TicketUpdate) error {
	fields := map[string]any{
		"last_message":    update.LastMessage,
		"from_me":         update.FromMe,
		"queue_id":        update.QueueID,
		"queue_option_id": update.QueueOptionID,
		"updated_at":      time.Now(),
	}
	if update.IncrementUnread {
		fields["unread_messages"] = gorm.Expr("unread_messages + ?", 1)
	}
	return r.db.WithContext(ctx).Model(&entities.Ticket{}).Where("id = ?", ticketID).Updates(fields).Error
}

func (r *repository) InsertMessage(ctx context.Context, msg *entities.Message) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(msg)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) LatestSystemMessage(ctx context.Context, ticketID uint, tags ...string) (entities.Message, error) {
	var msg entities.Message
	err := r.db.WithContext(ctx).
		Where("ticket_id = ? AND system_tag IN ?", ticketID, tags).
		Order("timestamp DESC").Order("created_at DESC").
		First(&msg).Error
	return msg, err
}

func (r *repository) HasSystemMessage(ctx context.Context, ticketID uint, tag string, queueID *uint) (bool, error) {
	q := r.db.WithContext(ctx).Model(&entities.Message{}).Where("ticket_id = ? AND system_tag = ?", ticketID, tag)
	if queueID != nil {
		q = q.Where("system_queue_id = ?", *queueID)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *repository) FindChannel(ctx context.Context, channelID uint) (entities.Channel, error) {
	var channel entities.Channel
	err := r.db.WithContext(ctx).First(&channel, channelID).Error
	return channel, err
}

func (r *repository) FindQueue(ctx context.Context, tenantID, queueID uint) (entities.Queue, error) {
	var queue entities.Queue
	err := r.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, queueID).First(&queue).Error
	return queue, err
}

func (r *repository) ChannelQueues(ctx context.Context, tenantID, channelID uint) ([]entities.Queue, error) {
	var queues []entities.Queue
	err := r.db.WithContext(ctx).
		Joins("JOIN channel_queues ON channel_queues.queue_id = queues.id").
		Where("channel_queues.channel_id = ? AND channel_queues.tenant_id = ?", channelID, tenantID).
		Order("channel_queues.position ASC").Order("queues.id ASC").
		Find(&queues).Error
	return queues, err
}

func (r *repository) optionScope(ctx context.Context, tenantID, queueID uint, parentID *uint) *gorm.DB {
	q := r.db.WithContext(ctx).Where("tenant_id = ? AND queue_id = ?", tenantID, queueID)
	if parentID == nil {
		return q.Where("parent_id IS NULL")
	}
	return q.Where("parent_id = ?", *parentID)
}

func (r *repository) FindOption(ctx context.Context, tenantID, queueID uint, parentID *uint, token string) (entities.QueueOption, error) {
	var option entities.QueueOption
	err := r.optionScope(ctx, tenantID, queueID, parentID).Where("token = ?", token).First(&option).Error
	return option, err
}

func (r *repository) ListOptions(ctx context.Context, tenantID, queueID uint, parentID *uint) ([]entities.QueueOption, error) {
	var options []entities.QueueOption
	err := r.optionScope(ctx, tenantID, queueID, parentID).Order("id ASC").Find(&options).Error
	return options, err
}
