// Package session supervises one protocol connection per channel: it opens
// and re-opens connections, tracks pairing state and feeds inbound messages to
// the ingestion pipeline.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/deskhub/pkg/broadcast"
	"github.com/deskhub/pkg/config"
	"github.com/deskhub/pkg/constant"
	"github.com/deskhub/pkg/domains/ingest"
	"github.com/deskhub/pkg/entities"
	"github.com/deskhub/pkg/logging"
	"github.com/deskhub/pkg/protocol"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

var (
	ErrChannelNotFound = errors.New("channel not found")
	ErrShutdown        = errors.New("session manager is shut down")
)

// Service is what the HTTP layer needs from the supervisor.
type Service interface {
	StartOrRefresh(ctx context.Context, tenantID, channelID uint, forceNewPairing bool) error
	StopSession(ctx context.Context, tenantID, channelID uint) error
	GetSnapshot(ctx context.Context, tenantID, channelID uint) (*Snapshot, error)
}

// Ingester consumes inbound messages. *ingest.Pipeline implements it.
type Ingester interface {
	Ingest(ctx context.Context, tenantID, channelID uint, msg protocol.InboundMessage, client protocol.Client) (*ingest.Result, error)
	Greet(ctx context.Context, tenantID, channelID uint, res *ingest.Result, client protocol.Client) error
}

type Option func(*Manager)

// WithAfterFunc replaces time.AfterFunc for reconnect scheduling.
func WithAfterFunc(f AfterFunc) Option {
	return func(m *Manager) { m.afterFunc = f }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

type Manager struct {
	repo     Repository
	auth     protocol.AuthStore
	dialer   protocol.Dialer
	ingester Ingester
	gateway  broadcast.Gateway
	cfg      config.Session
	log      *logging.Logger

	afterFunc AfterFunc
	now       func() time.Time

	registry *Registry
	starts   singleflight.Group

	// mu guards everything below and every registry write
	mu         sync.Mutex
	states     map[uint]*Snapshot
	timers     map[uint]*pendingReconnect
	locks      map[uint]*sync.Mutex
	generation uint64
	closed     bool

	processors sync.WaitGroup
}

func NewManager(repo Repository, auth protocol.AuthStore, dialer protocol.Dialer, ingester Ingester, gateway broadcast.Gateway, cfg config.Session, log *logging.Logger, opts ...Option) *Manager {
	if gateway == nil {
		gateway = broadcast.Nop{}
	}
	if cfg.EventBuffer < 1 {
		cfg.EventBuffer = 1
	}
	m := &Manager{
		repo:      repo,
		auth:      auth,
		dialer:    dialer,
		ingester:  ingester,
		gateway:   gateway,
		cfg:       cfg,
		log:       log.Sub("session"),
		afterFunc: realAfterFunc,
		now:       time.Now,
		registry:  NewRegistry(),
		states:    make(map[uint]*Snapshot),
		timers:    make(map[uint]*pendingReconnect),
		locks:     make(map[uint]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry exposes the live handles, mostly for diagnostics.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// StartOrRefresh opens a fresh connection for the channel, replacing any live
// one. Concurrent calls for the same channel share a single attempt.
func (m *Manager) StartOrRefresh(ctx context.Context, tenantID, channelID uint, forceNewPairing bool) error {
	channel, err := m.findChannel(ctx, tenantID, channelID)
	if err != nil {
		return err
	}

	// the attempt outlives the caller that triggered it
	attemptCtx := context.WithoutCancel(ctx)
	_, err, shared := m.starts.Do(strconv.FormatUint(uint64(channelID), 10), func() (any, error) {
		lock := m.channelLock(channelID)
		lock.Lock()
		defer lock.Unlock()
		return nil, m.start(attemptCtx, channel.TenantID, channelID, snapshotFromChannel(channel), forceNewPairing)
	})
	if shared {
		m.log.Debug().Uint("channel", channelID).Msg("joined in-flight start")
	}
	return err
}

func (m *Manager) start(ctx context.Context, tenantID, channelID uint, persisted Snapshot, forceNewPairing bool) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrShutdown
	}
	m.stopTimerLocked(channelID)
	m.seedLocked(persisted)
	previous := m.registry.Remove(channelID)
	m.generation++
	generation := m.generation
	m.mu.Unlock()

	log := m.log.With("channel", strconv.FormatUint(uint64(channelID), 10))
	if previous != nil {
		log.Info().Uint64("generation", previous.Generation).Msg("closing previous session handle")
		previous.Close()
	}

	if forceNewPairing {
		if err := m.auth.Wipe(ctx, channelID); err != nil {
			log.Warn().Err(err).Msg("failed to wipe auth state")
		}
		m.transition(ctx, channelID, func(s *Snapshot) {
			s.QRCode = ""
			s.RetryCount = 0
			s.RestartAttempts = 0
		})
	}

	auth, err := m.auth.Load(ctx, channelID)
	if err != nil {
		if previous != nil {
			m.transition(ctx, channelID, func(s *Snapshot) {
				s.Status = StatusDisconnected
				s.QRCode = ""
			})
		}
		return fmt.Errorf("loading auth state for channel %d: %w", channelID, err)
	}

	m.transition(ctx, channelID, func(s *Snapshot) {
		s.Status = StatusOpening
	})

	h := newHandle(channelID, tenantID, generation, auth, m.cfg.EventBuffer, m.cfg.SeenCache)
	h.onSaturated = func(depth int) {
		log.Warn().Int("queued", depth).Msg("event queue full, protocol events are waiting for ingestion")
	}
	client, err := m.dialer.Dial(channelID, auth, h.enqueue)
	if err != nil {
		h.Close()
		m.transition(ctx, channelID, func(s *Snapshot) {
			s.Status = StatusDisconnected
			s.LastDisconnectMessage = err.Error()
		})
		return fmt.Errorf("creating client for channel %d: %w", channelID, err)
	}
	h.Client = client

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		h.Close()
		return ErrShutdown
	}
	m.registry.Set(channelID, h)
	m.processors.Add(1)
	m.mu.Unlock()
	go m.process(h)

	log.Info().Uint64("generation", generation).Msg("connecting")
	if err := client.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("connect failed")
		h.enqueue(protocol.CloseEvent(protocol.CodeConnectionClosed, err.Error()))
	}
	return nil
}

// StopSession closes the channel's connection without logging out, so the
// channel can be started again without pairing.
func (m *Manager) StopSession(ctx context.Context, tenantID, channelID uint) error {
	channel, err := m.findChannel(ctx, tenantID, channelID)
	if err != nil {
		return err
	}

	lock := m.channelLock(channelID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	m.stopTimerLocked(channelID)
	m.seedLocked(snapshotFromChannel(channel))
	h := m.registry.Remove(channelID)
	m.mu.Unlock()

	if h != nil {
		h.Close()
	}
	m.transition(ctx, channelID, func(s *Snapshot) {
		s.Status = StatusDisconnected
		s.QRCode = ""
		s.LastDisconnectMessage = constant.STOPPED_BY_USER
	})
	m.log.Info().Uint("channel", channelID).Msg("session stopped")
	return nil
}

// GetSnapshot returns the in-memory state of a channel, falling back to the
// persisted mirror. It returns nil for unknown channels.
func (m *Manager) GetSnapshot(ctx context.Context, tenantID, channelID uint) (*Snapshot, error) {
	m.mu.Lock()
	if s, ok := m.states[channelID]; ok && s.TenantID == tenantID {
		snap := *s
		m.mu.Unlock()
		return &snap, nil
	}
	m.mu.Unlock()

	channel, err := m.findChannel(ctx, tenantID, channelID)
	if errors.Is(err, ErrChannelNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap := snapshotFromChannel(channel)
	return &snap, nil
}

// RestoreAll starts every channel that was paired before the process
// stopped. Channels without credentials are marked disconnected.
func (m *Manager) RestoreAll(ctx context.Context) error {
	channels, err := m.repo.ListChannels(ctx)
	if err != nil {
		return fmt.Errorf("listing channels: %w", err)
	}

	var errs []error
	restored := 0
	for _, c := range channels {
		if !m.auth.Exists(c.ID) {
			if c.Status != "" && c.Status != StatusDisconnected {
				snap := snapshotFromChannel(c)
				snap.Status = StatusDisconnected
				snap.QRCode = ""
				snap.UpdatedAt = m.now()
				m.persist(ctx, snap)
			}
			continue
		}
		if err := m.StartOrRefresh(ctx, c.TenantID, c.ID, false); err != nil {
			m.log.Error().Err(err).Uint("channel", c.ID).Msg("failed to restore session")
			errs = append(errs, err)
			continue
		}
		restored++
	}
	m.log.Info().Int("restored", restored).Int("channels", len(channels)).Msg("sessions restored")
	return errors.Join(errs...)
}

// Shutdown cancels pending reconnects, closes every handle and waits for the
// event processors to return.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for id := range m.timers {
		m.stopTimerLocked(id)
	}
	handles := m.registry.List()
	for _, h := range handles {
		m.registry.Remove(h.ChannelID)
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.Close()
		m.transition(ctx, h.ChannelID, func(s *Snapshot) {
			s.Status = StatusDisconnected
			s.QRCode = ""
		})
	}

	done := make(chan struct{})
	go func() {
		m.processors.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) findChannel(ctx context.Context, tenantID, channelID uint) (entities.Channel, error) {
	channel, err := m.repo.FindChannel(ctx, channelID)
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && channel.TenantID != tenantID) {
		return channel, ErrChannelNotFound
	}
	if err != nil {
		return channel, fmt.Errorf("loading channel %d: %w", channelID, err)
	}
	return channel, nil
}

func (m *Manager) channelLock(channelID uint) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[channelID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[channelID] = l
	}
	return l
}

func (m *Manager) stopTimerLocked(channelID uint) {
	if p, ok := m.timers[channelID]; ok {
		p.timer.Stop()
		delete(m.timers, channelID)
	}
}

// transition applies mutate to the channel's state, then persists and
// broadcasts the result. Both side effects are best effort.
func (m *Manager) transition(ctx context.Context, channelID uint, mutate func(*Snapshot)) Snapshot {
	m.mu.Lock()
	snap := m.applyLocked(channelID, mutate)
	m.mu.Unlock()
	m.persist(ctx, snap)
	return snap
}

// seedLocked starts tracking a channel from its persisted mirror. Channels
// already tracked keep their in-memory state.
func (m *Manager) seedLocked(persisted Snapshot) {
	if _, ok := m.states[persisted.ChannelID]; !ok {
		s := persisted
		m.states[persisted.ChannelID] = &s
	}
}

func (m *Manager) applyLocked(channelID uint, mutate func(*Snapshot)) Snapshot {
	s, ok := m.states[channelID]
	if !ok {
		s = &Snapshot{ChannelID: channelID, Status: StatusDisconnected}
		m.states[channelID] = s
	}
	mutate(s)
	s.UpdatedAt = m.now()
	return *s
}

func (m *Manager) persist(ctx context.Context, snap Snapshot) {
	if err := m.repo.SaveSnapshot(ctx, snap); err != nil {
		m.log.Warn().Err(err).Uint("channel", snap.ChannelID).Str("status", snap.Status).Msg("failed to persist session snapshot")
	}
	ev := broadcast.NewEvent(broadcast.SessionTopic(snap.TenantID), broadcast.ActionUpdate, snap)
	if err := m.gateway.Publish(ctx, ev); err != nil {
		m.log.Warn().Err(err).Uint("channel", snap.ChannelID).Msg("failed to broadcast session snapshot")
	}
}
