package session

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/deskhub/pkg/domains/ingest"
	"github.com/deskhub/pkg/protocol"
)

// process drains one handle's queue in delivery order until the handle is
// closed. Events still queued at that point are dropped.
func (m *Manager) process(h *Handle) {
	defer m.processors.Done()
	for {
		select {
		case <-h.ctx.Done():
			return
		case ev := <-h.events:
			if h.Closed() {
				return
			}
			m.dispatch(h, ev)
		}
	}
}

func (m *Manager) dispatch(h *Handle, ev protocol.Event) {
	defer m.recoverEvent(h, ev.Kind.String())

	// work already started finishes even if the handle closes meanwhile
	ctx := context.WithoutCancel(h.ctx)
	switch ev.Kind {
	case protocol.EventCredentialsUpdated:
		if err := h.Auth.Save(ctx); err != nil {
			m.log.Warn().Err(err).Uint("channel", h.ChannelID).Msg("failed to save credentials")
		}
	case protocol.EventConnectionState:
		m.onConnection(ctx, h, ev)
	case protocol.EventMessagesReceived:
		for _, msg := range ev.Messages {
			if h.Closed() {
				return
			}
			m.ingestOne(ctx, h, msg)
		}
	default:
		m.log.Debug().Uint("channel", h.ChannelID).Str("event", ev.Kind.String()).Msg("ignoring event")
	}
}

func (m *Manager) recoverEvent(h *Handle, kind string) {
	if r := recover(); r != nil {
		m.log.Error().
			Uint("channel", h.ChannelID).
			Str("event", kind).
			Str("panic", fmt.Sprint(r)).
			Bytes("stack", debug.Stack()).
			Msg("event handler panicked")
	}
}

func (m *Manager) ingestOne(ctx context.Context, h *Handle, msg protocol.InboundMessage) {
	defer m.recoverEvent(h, "message")

	id := protocol.MessageID(msg)
	// redeliveries still go through the store so the ticket and the
	// notifications are refreshed; the insert itself is idempotent
	res, err := m.ingester.Ingest(ctx, h.TenantID, h.ChannelID, msg, h.Client)
	if errors.Is(err, ingest.ErrSkipped) {
		return
	}
	if err != nil {
		m.log.Error().Err(err).Uint("channel", h.ChannelID).Str("message", id).Msg("failed to ingest message")
		return
	}
	if h.seen.Contains(res.MessageID) {
		m.log.Debug().Uint("channel", h.ChannelID).Str("message", res.MessageID).Msg("message already handled")
		return
	}
	h.seen.Add(res.MessageID)

	if res.IsNewTicket && !res.FromMe && !res.IsGroup {
		if err := m.ingester.Greet(ctx, h.TenantID, h.ChannelID, res, h.Client); err != nil {
			m.log.Warn().Err(err).Uint("ticket", res.TicketID).Msg("failed to greet new ticket")
		}
	}
}

func (m *Manager) onConnection(ctx context.Context, h *Handle, ev protocol.Event) {
	switch ev.State {
	case protocol.StateQR:
		m.transitionCurrent(ctx, h, func(s *Snapshot) {
			s.Status = StatusQRWait
			s.QRCode = ev.QR
			s.RetryCount++
		})
	case protocol.StateOpen:
		m.transitionCurrent(ctx, h, func(s *Snapshot) {
			s.Status = StatusConnected
			s.QRCode = ""
			s.RestartAttempts = 0
		})
		m.log.Info().Uint("channel", h.ChannelID).Msg("session connected")
	case protocol.StateClose:
		m.onClose(ctx, h, ev.CloseReason)
	}
}

// transitionCurrent applies a transition only while h is the channel's live
// handle, so a replaced connection cannot overwrite its successor's state.
func (m *Manager) transitionCurrent(ctx context.Context, h *Handle, mutate func(*Snapshot)) {
	m.mu.Lock()
	if !m.isCurrentLocked(h) {
		m.mu.Unlock()
		return
	}
	snap := m.applyLocked(h.ChannelID, mutate)
	m.mu.Unlock()
	m.persist(ctx, snap)
}

func (m *Manager) isCurrentLocked(h *Handle) bool {
	cur, ok := m.registry.Get(h.ChannelID)
	return ok && cur == h && !m.closed
}

func (m *Manager) onClose(ctx context.Context, h *Handle, reason *protocol.CloseReason) {
	code, message := 0, ""
	if reason != nil {
		code, message = reason.Code, reason.Message
	}

	m.mu.Lock()
	if !m.isCurrentLocked(h) {
		m.mu.Unlock()
		return
	}
	m.registry.Remove(h.ChannelID)

	retry := protocol.IsRetryable(code)
	snap := m.applyLocked(h.ChannelID, func(s *Snapshot) {
		s.Status = StatusDisconnected
		s.QRCode = ""
		s.LastDisconnectCode = code
		s.LastDisconnectMessage = message
		if retry {
			s.RestartAttempts++
		}
	})
	if retry {
		delay := ReconnectDelay(snap.RestartAttempts, m.cfg.BackoffStep, m.cfg.BackoffMax)
		m.scheduleLocked(h.ChannelID, h.TenantID, delay)
		m.log.Info().
			Uint("channel", h.ChannelID).
			Int("code", code).
			Int("attempt", snap.RestartAttempts).
			Dur("delay", delay).
			Msg("connection closed, reconnect scheduled")
	}
	m.mu.Unlock()

	h.Close()
	m.persist(ctx, snap)

	switch {
	case protocol.IsLogout(code):
		m.log.Warn().Uint("channel", h.ChannelID).Msg("logged out, wiping auth state")
		if err := m.auth.Wipe(ctx, h.ChannelID); err != nil {
			m.log.Error().Err(err).Uint("channel", h.ChannelID).Msg("failed to wipe auth state")
		}
	case !retry:
		m.log.Warn().Uint("channel", h.ChannelID).Int("code", code).Str("reason", message).Msg("connection closed, not retrying")
	}
}

// pendingReconnect identifies one scheduled restart. It stays in m.timers
// until the restart holds the channel lock, so a stop or a manual start that
// gets there first cancels it.
type pendingReconnect struct {
	timer Timer
}

func (m *Manager) scheduleLocked(channelID, tenantID uint, delay time.Duration) {
	m.stopTimerLocked(channelID)
	p := &pendingReconnect{}
	p.timer = m.afterFunc(delay, func() { m.reconnect(tenantID, channelID, p) })
	m.timers[channelID] = p
}

// reconnect restarts a channel from its tracked state. It does not read the
// store, and a failed attempt is scheduled again with the next backoff step.
func (m *Manager) reconnect(tenantID, channelID uint, p *pendingReconnect) {
	lock := m.channelLock(channelID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	if m.timers[channelID] != p || m.closed {
		m.mu.Unlock()
		return
	}
	delete(m.timers, channelID)
	tracked := Snapshot{ChannelID: channelID, TenantID: tenantID, Status: StatusDisconnected}
	if s, ok := m.states[channelID]; ok {
		tracked = *s
	}
	m.mu.Unlock()

	ctx := context.Background()
	err := m.start(ctx, tenantID, channelID, tracked, false)
	if err == nil || errors.Is(err, ErrShutdown) {
		return
	}

	m.mu.Lock()
	if _, live := m.registry.Get(channelID); live || m.closed || m.timers[channelID] != nil {
		m.mu.Unlock()
		return
	}
	snap := m.applyLocked(channelID, func(s *Snapshot) {
		s.RestartAttempts++
	})
	delay := ReconnectDelay(snap.RestartAttempts, m.cfg.BackoffStep, m.cfg.BackoffMax)
	m.scheduleLocked(channelID, tenantID, delay)
	m.mu.Unlock()

	m.persist(ctx, snap)
	m.log.Error().
		Err(err).
		Uint("channel", channelID).
		Int("attempt", snap.RestartAttempts).
		Dur("delay", delay).
		Msg("reconnect failed, retrying")
}
