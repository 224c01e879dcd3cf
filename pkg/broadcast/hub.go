package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/deskhub/pkg/logging"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Hub is the in-process websocket fan-out.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*subscriber]struct{}
	upgrader websocket.Upgrader
	log      *logging.Logger
}

type subscriber struct {
	prefix string
	kinds  map[string]bool
	send   chan []byte
}

func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		clients: make(map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.Sub("broadcast"),
	}
}

func (s *subscriber) wants(topic string) bool {
	if !strings.HasPrefix(topic, s.prefix) {
		return false
	}
	if len(s.kinds) == 0 {
		return true
	}
	return s.kinds[strings.TrimPrefix(topic, s.prefix)]
}

// Publish never blocks; subscribers whose buffer is full are dropped.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	h.mu.RLock()
	var slow []*subscriber
	for sub := range h.clients {
		if !sub.wants(ev.Topic) {
			continue
		}
		select {
		case sub.send <- data:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.log.Warn().Str("prefix", sub.prefix).Msg("dropping slow subscriber")
		h.remove(sub)
	}
	return nil
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve upgrades the request and streams every event of the tenant whose
// kind is in kinds (all kinds when empty) until the client goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, tenantID uint, kinds []string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	sub := &subscriber{
		prefix: TenantPrefix(tenantID),
		kinds:  make(map[string]bool, len(kinds)),
		send:   make(chan []byte, sendBuffer),
	}
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			sub.kinds[k] = true
		}
	}

	h.mu.Lock()
	h.clients[sub] = struct{}{}
	h.mu.Unlock()
	h.log.Debug().Uint("tenant", tenantID).Msg("subscriber connected")

	go h.writePump(conn, sub)
	h.readPump(conn, sub)
	return nil
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[sub]; ok {
		delete(h.clients, sub)
		close(sub.send)
	}
}

// readPump only exists to process control frames and notice disconnects.
func (h *Hub) readPump(conn *websocket.Conn, sub *subscriber) {
	defer func() {
		h.remove(sub)
		conn.Close()
	}()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case data, ok := <-sub.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
