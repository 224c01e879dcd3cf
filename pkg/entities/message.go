package entities

import (
	"time"

	"gorm.io/datatypes"
)

// Message is keyed by the protocol id (or a deterministic fallback) so that
// re-delivered events collapse onto one row.
type Message struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(255)"`
	TenantID    uint      `json:"tenant_id" gorm:"index;not null"`
	TicketID    uint      `json:"ticket_id" gorm:"index:idx_messages_ticket_system;not null"`
	ContactID   uint      `json:"contact_id" gorm:"index"`
	ChannelID   uint      `json:"channel_id" gorm:"index"`
	Body        string    `json:"body" gorm:"type:text"`
	FromMe      bool      `json:"from_me" gorm:"default:false"`
	Participant string    `json:"participant" gorm:"type:varchar(255)"`
	MediaKind   string    `json:"media_kind" gorm:"type:varchar(32)"`
	MediaURL    *string   `json:"media_url" gorm:"type:text"`
	Timestamp   time.Time `json:"timestamp" gorm:"index"`

	// System markers: synthetic outbound messages used for dedup and
	// chatbot state. Ordinary messages leave these empty.
	SystemTag     string         `json:"system_tag,omitempty" gorm:"type:varchar(32);index:idx_messages_ticket_system"`
	SystemQueueID *uint          `json:"system_queue_id,omitempty"`
	MenuChoices   datatypes.JSON `json:"menu_choices,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MenuChoice maps a token of a queue-selection menu to the queue it picks.
type MenuChoice struct {
	Token   string `json:"token"`
	QueueID uint   `json:"queue_id"`
	Label   string `json:"label"`
}
