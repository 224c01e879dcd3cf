package session

import (
	"sync"
	"testing"
	"time"

	"github.com/deskhub/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconnectDelay(t *testing.T) {
	step, ceiling := 1500*time.Millisecond, 10*time.Second
	cases := map[int]time.Duration{
		0:  1500 * time.Millisecond,
		1:  1500 * time.Millisecond,
		2:  3 * time.Second,
		6:  9 * time.Second,
		7:  10 * time.Second,
		50: 10 * time.Second,
	}
	for attempts, want := range cases {
		assert.Equal(t, want, ReconnectDelay(attempts, step, ceiling), "attempts=%d", attempts)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := newHandle(2, 1, 1, nil, 1, 0)
	b := newHandle(1, 1, 2, nil, 1, 0)

	r.Set(2, a)
	r.Set(1, b)

	got, ok := r.Get(2)
	assert.True(t, ok)
	assert.Same(t, a, got)
	assert.Equal(t, []*Handle{b, a}, r.List())

	assert.Same(t, a, r.Remove(2))
	assert.Nil(t, r.Remove(2))
	_, ok = r.Get(2)
	assert.False(t, ok)
}

func TestHandleCloseIsIdempotent(t *testing.T) {
	auth := &fakeAuthState{}
	client := &fakeClient{}
	h := newHandle(1, 1, 1, auth, 1, 0)
	h.Client = client

	h.Close()
	h.Close()

	assert.True(t, h.Closed())
	assert.True(t, client.isDisconnected())
	assert.True(t, auth.isClosed())
}

func TestSeenCache(t *testing.T) {
	c := newSeenCache(2)
	c.Add("a")
	c.Add("b")
	c.Add("a")
	assert.True(t, c.Contains("a"))
	assert.True(t, c.Contains("b"))

	c.Add("c")
	assert.False(t, c.Contains("a"))
	assert.True(t, c.Contains("c"))

	off := newSeenCache(0)
	off.Add("a")
	assert.False(t, off.Contains("a"))
}

func TestEnqueueReportsFullQueueOncePerEpisode(t *testing.T) {
	h := newHandle(1, 1, 1, nil, 1, 0)
	defer h.Close()
	var mu sync.Mutex
	var depths []int
	h.onSaturated = func(depth int) {
		mu.Lock()
		defer mu.Unlock()
		depths = append(depths, depth)
	}
	reports := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(depths)
	}

	h.enqueue(protocol.OpenEvent())
	assert.Zero(t, reports())

	done := make(chan struct{})
	go func() {
		h.enqueue(protocol.QREvent("a"))
		h.enqueue(protocol.QREvent("b"))
		close(done)
	}()
	require.Eventually(t, func() bool { return reports() == 1 }, 2*time.Second, time.Millisecond)

	<-h.events
	<-h.events
	<-done
	assert.Equal(t, 1, reports())
	assert.Equal(t, []int{1}, depths)

	// draining resets the episode
	<-h.events
	h.enqueue(protocol.OpenEvent())
	go h.enqueue(protocol.QREvent("c"))
	require.Eventually(t, func() bool { return reports() == 2 }, 2*time.Second, time.Millisecond)
}
