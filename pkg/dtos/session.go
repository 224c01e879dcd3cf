package dtos

import "time"

type StartSessionDTO struct {
	ForceNewPairing bool `json:"force_new_pairing"`
}

type SessionSnapshotDTO struct {
	ChannelID       uint      `json:"channel_id"`
	Status          string    `json:"status"`
	QRCode          string    `json:"qr_code,omitempty"`
	RetryCount      int       `json:"retry_count"`
	RestartAttempts int       `json:"restart_attempts"`
	LastCode        int       `json:"last_disconnect_code,omitempty"`
	LastReason      string    `json:"last_disconnect_message,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}
