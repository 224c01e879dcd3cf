package protocol

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"5511999999999@c.us":               "5511999999999",
		"5511999999999@s.whatsapp.net":     "5511999999999",
		"5511999999999:12@s.whatsapp.net":  "5511999999999",
		"5511999999999.0:3@s.whatsapp.net": "5511999999999",
		"120363025246125486@g.us":          "120363025246125486",
		"5511999999999":                    "5511999999999",
		"":                                 "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeAddress(in), in)
	}
}

func TestAddressKinds(t *testing.T) {
	assert.True(t, IsGroupAddress("120363025246125486@g.us"))
	assert.False(t, IsGroupAddress("5511999999999@c.us"))
	assert.True(t, IsBroadcastAddress("status@broadcast"))
	assert.True(t, IsBroadcastAddress("1234@broadcast"))
	assert.False(t, IsBroadcastAddress("5511999999999@s.whatsapp.net"))
}

func TestFallbackIDDeterministic(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	base := InboundMessage{
		RemoteAddress: "5511999999999@c.us",
		Participant:   "",
		Timestamp:     ts,
		Body:          "oi",
	}
	assert.Equal(t, FallbackID(base), FallbackID(base))
	assert.True(t, strings.HasPrefix(FallbackID(base), "fb_"))

	variants := []func(m *InboundMessage){
		func(m *InboundMessage) { m.RemoteAddress = "5511888888888@c.us" },
		func(m *InboundMessage) { m.FromMe = true },
		func(m *InboundMessage) { m.Participant = "5511777777777@c.us" },
		func(m *InboundMessage) { m.Timestamp = ts.Add(time.Second) },
		func(m *InboundMessage) { m.Body = "oi!" },
		func(m *InboundMessage) { m.MediaKind = "image" },
	}
	seen := map[string]bool{FallbackID(base): true}
	for _, mutate := range variants {
		m := base
		mutate(&m)
		id := FallbackID(m)
		assert.False(t, seen[id], "collision for %+v", m)
		seen[id] = true
	}
}

func TestFallbackIDFieldBoundaries(t *testing.T) {
	a := InboundMessage{Participant: "ab", Body: "c"}
	b := InboundMessage{Participant: "a", Body: "bc"}
	assert.NotEqual(t, FallbackID(a), FallbackID(b))
}

func TestMessageIDPrefersProtocolID(t *testing.T) {
	assert.Equal(t, "abc1", MessageID(InboundMessage{ID: "abc1", Body: "oi"}))
	assert.Equal(t, FallbackID(InboundMessage{Body: "oi"}), MessageID(InboundMessage{Body: "oi"}))
}

func TestRetryableCodes(t *testing.T) {
	for _, code := range []int{408, 428, 500, 503, 515} {
		assert.True(t, IsRetryable(code), code)
	}
	for _, code := range []int{401, 403, 410, 440, 0} {
		assert.False(t, IsRetryable(code), code)
	}
	assert.True(t, IsLogout(401))
}
