package entities

import "gorm.io/gorm"

const (
	TicketPending = "pending"
	TicketOpen    = "open"
	TicketClosed  = "closed"
)

type Ticket struct {
	gorm.Model
	TenantID       uint   `json:"tenant_id" gorm:"index:idx_tickets_lookup;not null"`
	ContactID      uint   `json:"contact_id" gorm:"index:idx_tickets_lookup;not null"`
	ChannelID      uint   `json:"channel_id" gorm:"index:idx_tickets_lookup;not null"`
	Status         string `json:"status" gorm:"type:varchar(20);default:'pending';index"`
	LastMessage    string `json:"last_message" gorm:"type:text"`
	UnreadMessages int    `json:"unread_messages" gorm:"default:0"`
	QueueID        *uint  `json:"queue_id"`
	QueueOptionID  *uint  `json:"queue_option_id"`
	FromMe         bool   `json:"from_me" gorm:"default:false"`
	IsGroup        bool   `json:"is_group" gorm:"default:false"`

	Contact Contact `json:"contact" gorm:"foreignKey:ContactID"`
}

// IsOpen reports whether new messages should attach to this ticket.
func (t Ticket) IsOpen() bool {
	return t.Status == TicketPending || t.Status == TicketOpen
}
