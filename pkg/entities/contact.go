package entities

import "gorm.io/gorm"

type Contact struct {
	gorm.Model
	TenantID  uint   `json:"tenant_id" gorm:"uniqueIndex:idx_contacts_tenant_number;not null"`
	Number    string `json:"number" gorm:"uniqueIndex:idx_contacts_tenant_number;type:varchar(64);not null"`
	Name      string `json:"name" gorm:"type:varchar(255)"`
	RemoteJID string `json:"remote_jid" gorm:"type:varchar(255)"`
	IsGroup   bool   `json:"is_group" gorm:"default:false"`
}
