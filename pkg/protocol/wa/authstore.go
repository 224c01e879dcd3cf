package wa

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/deskhub/pkg/logging"
	"github.com/deskhub/pkg/protocol"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	_ "modernc.org/sqlite"
)

// AuthStore keeps one sqlite file of whatsmeow credentials per channel.
type AuthStore struct {
	dir string
	log *logging.Logger
}

func NewAuthStore(dir string, log *logging.Logger) (*AuthStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating auth dir: %w", err)
	}
	return &AuthStore{dir: dir, log: log.Sub("authstore")}, nil
}

func (s *AuthStore) path(channelID uint) string {
	return filepath.Join(s.dir, fmt.Sprintf("channel-%d.db", channelID))
}

func (s *AuthStore) Load(ctx context.Context, channelID uint) (protocol.AuthState, error) {
	addr := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", s.path(channelID))
	container, err := sqlstore.New(ctx, "sqlite", addr, s.log.WhatsApp(fmt.Sprintf("store-%d", channelID)))
	if err != nil {
		return nil, fmt.Errorf("opening auth store for channel %d: %w", channelID, err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("loading device for channel %d: %w", channelID, err)
	}

	s.log.Debug().Uint("channel", channelID).Bool("paired", device.ID != nil).Msg("auth state loaded")
	return &authState{container: container, device: device}, nil
}

func (s *AuthStore) Wipe(ctx context.Context, channelID uint) error {
	base := s.path(channelID)
	var errs []error
	for _, p := range []string{base, base + "-wal", base + "-shm", base + "-journal"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("wiping auth state for channel %d: %w", channelID, err)
	}
	s.log.Info().Uint("channel", channelID).Msg("auth state wiped")
	return nil
}

func (s *AuthStore) Exists(channelID uint) bool {
	_, err := os.Stat(s.path(channelID))
	return err == nil
}

type authState struct {
	container *sqlstore.Container
	device    *store.Device
}

func (a *authState) Save(ctx context.Context) error {
	if a.device.ID == nil {
		return nil
	}
	return a.device.Save(ctx)
}

func (a *authState) Close() error {
	return a.container.Close()
}
