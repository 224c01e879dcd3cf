package entities

import (
	"time"

	"gorm.io/gorm"
)

// Channel is a tenant-owned messaging endpoint. The session columns are a
// best-effort mirror of the supervisor's in-memory state.
type Channel struct {
	gorm.Model
	TenantID              uint   `json:"tenant_id" gorm:"index;not null"`
	Name                  string `json:"name" gorm:"type:varchar(255);not null"`
	Status                string `json:"status" gorm:"type:varchar(20);default:'DISCONNECTED'"`
	QRCode                string `json:"qr_code" gorm:"type:text"`
	RetryCount            int    `json:"retry_count" gorm:"default:0"`
	RestartAttempts       int    `json:"restart_attempts" gorm:"default:0"`
	LastDisconnectCode    int    `json:"last_disconnect_code"`
	LastDisconnectMessage string `json:"last_disconnect_message" gorm:"type:text"`
	GreetingMessage       string `json:"greeting_message" gorm:"type:text"`
}

// ChannelQueue associates a channel with the queues it routes to.
type ChannelQueue struct {
	ChannelID uint      `json:"channel_id" gorm:"primaryKey"`
	QueueID   uint      `json:"queue_id" gorm:"primaryKey"`
	TenantID  uint      `json:"tenant_id" gorm:"index;not null"`
	Position  int       `json:"position" gorm:"default:0"`
	CreatedAt time.Time `json:"created_at"`

	Queue Queue `json:"queue" gorm:"foreignKey:QueueID"`
}
