package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/deskhub/pkg/domains/ingest"
	"github.com/deskhub/pkg/entities"
	"github.com/deskhub/pkg/protocol"
	"gorm.io/gorm"
)

type memRepo struct {
	mu       sync.Mutex
	channels map[uint]entities.Channel
	saved    []Snapshot
	saveErr  error
	findErr  error
}

func newMemRepo(channels ...entities.Channel) *memRepo {
	r := &memRepo{channels: map[uint]entities.Channel{}}
	for _, c := range channels {
		r.channels[c.ID] = c
	}
	return r
}

func (r *memRepo) FindChannel(_ context.Context, channelID uint) (entities.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return entities.Channel{}, r.findErr
	}
	c, ok := r.channels[channelID]
	if !ok {
		return c, gorm.ErrRecordNotFound
	}
	return c, nil
}

func (r *memRepo) ListChannels(context.Context) ([]entities.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entities.Channel
	for id := uint(1); id <= 16; id++ {
		if c, ok := r.channels[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memRepo) SaveSnapshot(_ context.Context, snap Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, snap)
	if r.saveErr != nil {
		return r.saveErr
	}
	c := r.channels[snap.ChannelID]
	c.Status = snap.Status
	c.QRCode = snap.QRCode
	c.RetryCount = snap.RetryCount
	c.RestartAttempts = snap.RestartAttempts
	r.channels[snap.ChannelID] = c
	return nil
}

func (r *memRepo) failFind(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findErr = err
}

func (r *memRepo) savedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

type fakeAuthState struct {
	mu     sync.Mutex
	saves  int
	closed bool
}

func (a *fakeAuthState) Save(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saves++
	return nil
}

func (a *fakeAuthState) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *fakeAuthState) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *fakeAuthState) saveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saves
}

type fakeAuthStore struct {
	mu      sync.Mutex
	loads   int
	wipes   []uint
	exists  map[uint]bool
	loadErr error
	gate    chan struct{}
	states  []*fakeAuthState
}

func newFakeAuthStore() *fakeAuthStore {
	return &fakeAuthStore{exists: map[uint]bool{}}
}

func (s *fakeAuthStore) Load(ctx context.Context, channelID uint) (protocol.AuthState, error) {
	s.mu.Lock()
	s.loads++
	gate, err := s.gate, s.loadErr
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	st := &fakeAuthState{}
	s.mu.Lock()
	s.states = append(s.states, st)
	s.mu.Unlock()
	return st, nil
}

func (s *fakeAuthStore) Wipe(_ context.Context, channelID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wipes = append(s.wipes, channelID)
	delete(s.exists, channelID)
	return nil
}

func (s *fakeAuthStore) Exists(channelID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exists[channelID]
}

func (s *fakeAuthStore) loadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

func (s *fakeAuthStore) wipeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.wipes)
}

type fakeClient struct {
	mu           sync.Mutex
	sink         protocol.Sink
	connectErr   error
	disconnected bool
}

func (c *fakeClient) Connect(context.Context) error { return c.connectErr }

func (c *fakeClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeClient) Logout(context.Context) error { return nil }

func (c *fakeClient) Send(context.Context, string, string) (string, error) {
	return "", protocol.ErrNotConnected
}

func (c *fakeClient) DownloadMedia(context.Context, *protocol.InboundMessage) ([]byte, error) {
	return nil, errors.New("no media")
}

func (c *fakeClient) emit(ev protocol.Event) {
	c.sink(ev)
}

func (c *fakeClient) isDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

type fakeDialer struct {
	mu         sync.Mutex
	clients    []*fakeClient
	connectErr error
}

func (d *fakeDialer) Dial(_ uint, _ protocol.AuthState, sink protocol.Sink) (protocol.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &fakeClient{sink: sink, connectErr: d.connectErr}
	d.clients = append(d.clients, c)
	return c, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

func (d *fakeDialer) last() *fakeClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clients[len(d.clients)-1]
}

func (d *fakeDialer) client(i int) *fakeClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clients[i]
}

// fakeIngester treats the first message of every address as a new ticket,
// or every message when alwaysNew is set.
type fakeIngester struct {
	mu        sync.Mutex
	ingested  []string
	greeted   []uint
	known     map[string]bool
	nextID    uint
	panicOn   string
	alwaysNew bool
}

func newFakeIngester() *fakeIngester {
	return &fakeIngester{known: map[string]bool{}}
}

func (f *fakeIngester) Ingest(_ context.Context, _, _ uint, msg protocol.InboundMessage, _ protocol.Client) (*ingest.Result, error) {
	if msg.Body == f.panicOn && f.panicOn != "" {
		panic("malformed message")
	}
	if msg.StatusOnly {
		return nil, ingest.ErrSkipped
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingested = append(f.ingested, msg.ID)
	isNew := f.alwaysNew || !f.known[msg.RemoteAddress]
	f.known[msg.RemoteAddress] = true
	f.nextID++
	return &ingest.Result{
		TicketID:      f.nextID,
		MessageID:     protocol.MessageID(msg),
		IsNewTicket:   isNew,
		FromMe:        msg.FromMe,
		IsGroup:       protocol.IsGroupAddress(msg.RemoteAddress),
		SenderAddress: msg.RemoteAddress,
	}, nil
}

func (f *fakeIngester) Greet(_ context.Context, _, _ uint, res *ingest.Result, _ protocol.Client) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.greeted = append(f.greeted, res.TicketID)
	return nil
}

func (f *fakeIngester) ingestedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ingested...)
}

func (f *fakeIngester) greetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.greeted)
}

type fakeTimer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// fakeClock collects scheduled callbacks; tests fire them by hand.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *fakeClock) last() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[len(c.timers)-1]
}
