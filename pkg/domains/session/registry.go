package session

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/deskhub/pkg/protocol"
)

// Handle owns one live protocol connection and the goroutine draining its
// events. A handle is closed at most once and never reopened.
type Handle struct {
	ChannelID  uint
	TenantID   uint
	Generation uint64

	Client protocol.Client
	Auth   protocol.AuthState

	events chan protocol.Event
	ctx    context.Context
	cancel context.CancelFunc
	seen   *seenCache
	once   sync.Once

	// onSaturated is called once each time the queue fills up and the
	// client's event goroutine starts waiting for the processor.
	onSaturated func(depth int)
	saturated   atomic.Bool
}

func newHandle(channelID, tenantID uint, generation uint64, auth protocol.AuthState, buffer, seenSize int) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handle{
		ChannelID:  channelID,
		TenantID:   tenantID,
		Generation: generation,
		Auth:       auth,
		events:     make(chan protocol.Event, buffer),
		ctx:        ctx,
		cancel:     cancel,
		seen:       newSeenCache(seenSize),
	}
}

// enqueue is the client's sink. It waits for room in the queue so events are
// never dropped while the handle is live, and gives up once it is closed.
func (h *Handle) enqueue(ev protocol.Event) {
	select {
	case h.events <- ev:
		h.saturated.Store(false)
		return
	default:
	}

	if !h.saturated.Swap(true) && h.onSaturated != nil {
		h.onSaturated(cap(h.events))
	}
	select {
	case h.events <- ev:
	case <-h.ctx.Done():
	}
}

func (h *Handle) Closed() bool {
	return h.ctx.Err() != nil
}

// Close stops event dispatch, disconnects the client and releases the auth
// state.
func (h *Handle) Close() {
	h.once.Do(func() {
		h.cancel()
		if h.Client != nil {
			h.Client.Disconnect()
		}
		if h.Auth != nil {
			h.Auth.Close()
		}
	})
}

// Registry maps channel ids to their live handle. Set does not close the
// handle it replaces.
type Registry struct {
	mu      sync.RWMutex
	handles map[uint]*Handle
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[uint]*Handle)}
}

func (r *Registry) Get(channelID uint) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[channelID]
	return h, ok
}

func (r *Registry) Set(channelID uint, h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[channelID] = h
}

// Remove deletes and returns the handle of a channel, nil if there was none.
func (r *Registry) Remove(channelID uint) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.handles[channelID]
	delete(r.handles, channelID)
	return h
}

// List returns the live handles ordered by channel id.
func (r *Registry) List() []*Handle {
	r.mu.RLock()
	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

// seenCache remembers the most recent message ids a handle has fully
// handled, so a re-delivery does not trigger the greeting again. Oldest ids
// are evicted first.
type seenCache struct {
	mu    sync.Mutex
	size  int
	ids   map[string]struct{}
	order []string
}

func newSeenCache(size int) *seenCache {
	return &seenCache{size: size, ids: make(map[string]struct{}, size)}
}

func (c *seenCache) Contains(id string) bool {
	if c.size <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ids[id]
	return ok
}

func (c *seenCache) Add(id string) {
	if c.size <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.ids[id]; ok {
		return
	}
	if len(c.order) >= c.size {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.ids, oldest)
	}
	c.ids[id] = struct{}{}
	c.order = append(c.order, id)
}
