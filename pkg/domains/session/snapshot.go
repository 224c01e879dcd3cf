package session

import (
	"time"

	"github.com/deskhub/pkg/entities"
)

const (
	StatusOpening      = "OPENING"
	StatusQRWait       = "QR_WAIT"
	StatusConnected    = "CONNECTED"
	StatusDisconnected = "DISCONNECTED"
)

// Snapshot is the observable state of one channel's session.
type Snapshot struct {
	ChannelID             uint      `json:"channel_id"`
	TenantID              uint      `json:"tenant_id"`
	Status                string    `json:"status"`
	QRCode                string    `json:"qr_code"`
	RetryCount            int       `json:"retry_count"`
	RestartAttempts       int       `json:"restart_attempts"`
	LastDisconnectCode    int       `json:"last_disconnect_code"`
	LastDisconnectMessage string    `json:"last_disconnect_message"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func snapshotFromChannel(c entities.Channel) Snapshot {
	status := c.Status
	if status == "" {
		status = StatusDisconnected
	}
	return Snapshot{
		ChannelID:             c.ID,
		TenantID:              c.TenantID,
		Status:                status,
		QRCode:                c.QRCode,
		RetryCount:            c.RetryCount,
		RestartAttempts:       c.RestartAttempts,
		LastDisconnectCode:    c.LastDisconnectCode,
		LastDisconnectMessage: c.LastDisconnectMessage,
		UpdatedAt:             c.UpdatedAt,
	}
}
