package database

import (
	"github.com/deskhub/pkg/entities"
	"gorm.io/gorm"
)

// AutoMigrate runs database migrations
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&entities.Channel{},
		&entities.Queue{},
		&entities.ChannelQueue{},
		&entities.QueueOption{},
		&entities.Contact{},
		&entities.Ticket{},
		&entities.Message{},
	)
}
