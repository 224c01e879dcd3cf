package entities

import "gorm.io/gorm"

type Queue struct {
	gorm.Model
	TenantID        uint   `json:"tenant_id" gorm:"index;not null"`
	Name            string `json:"name" gorm:"type:varchar(255);not null"`
	GreetingMessage string `json:"greeting_message" gorm:"type:text"`
}

// QueueOption is one node of a queue's menu tree. ParentID nil means the
// option is on the queue's root menu.
type QueueOption struct {
	gorm.Model
	TenantID uint   `json:"tenant_id" gorm:"index;not null"`
	QueueID  uint   `json:"queue_id" gorm:"index:idx_queue_options_lookup;not null"`
	ParentID *uint  `json:"parent_id" gorm:"index:idx_queue_options_lookup"`
	Token    string `json:"token" gorm:"type:varchar(16);not null"`
	Title    string `json:"title" gorm:"type:varchar(255)"`
	Message  string `json:"message" gorm:"type:text"`
}
