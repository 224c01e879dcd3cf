package protocol

import (
	"encoding/hex"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

const fallbackPrefix = "fb_"

// MessageID returns the protocol id of m, or a deterministic id derived
// from its content when the protocol omitted one.
func MessageID(m InboundMessage) string {
	if m.ID != "" {
		return m.ID
	}
	return FallbackID(m)
}

// FallbackID hashes (remote, fromMe, participant, timestamp, body, media kind).
// Fields are length prefixed so shifting bytes between fields changes the id.
func FallbackID(m InboundMessage) string {
	h, _ := blake2b.New256(nil)
	write := func(s string) {
		h.Write([]byte(strconv.Itoa(len(s))))
		h.Write([]byte{':'})
		h.Write([]byte(s))
	}
	write(m.RemoteAddress)
	write(strconv.FormatBool(m.FromMe))
	write(m.Participant)
	write(strconv.FormatInt(m.Timestamp.Unix(), 10))
	write(m.Body)
	write(m.MediaKind)
	sum := h.Sum(nil)
	return fallbackPrefix + hex.EncodeToString(sum[:16])
}
