package session

import (
	"context"

	"github.com/deskhub/pkg/entities"
	"gorm.io/gorm"
)

type Repository interface {
	FindChannel(ctx context.Context, channelID uint) (entities.Channel, error)
	ListChannels(ctx context.Context) ([]entities.Channel, error)
	SaveSnapshot(ctx context.Context, snap Snapshot) error
}

type repository struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) Repository {
	return &repository{
		db: db,
	}
}

func (r *repository) FindChannel(ctx context.Context, channelID uint) (entities.Channel, error) {
	var channel entities.Channel
	err := r.db.WithContext(ctx).First(&channel, channelID).Error
	return channel, err
}

func (r *repository) ListChannels(ctx context.Context) ([]entities.Channel, error) {
	var channels []entities.Channel
	err := r.db.WithContext(ctx).Order("id ASC").Find(&channels).Error
	return channels, err
}

func (r *repository) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	return r.db.WithContext(ctx).Model(&entities.Channel{}).Where("id = ?", snap.ChannelID).Updates(map[string]any{
		"status":                  snap.Status,
		"qr_code":                 snap.QRCode,
		"retry_count":             snap.RetryCount,
		"restart_attempts":        snap.RestartAttempts,
		"last_disconnect_code":    snap.LastDisconnectCode,
		"last_disconnect_message": snap.LastDisconnectMessage,
		"updated_at":              snap.UpdatedAt,
	}).Error
}
