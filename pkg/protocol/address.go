package protocol

import (
	"strings"
)

const (
	groupSuffix     = "@g.us"
	broadcastSuffix = "@broadcast"
	statusAddress   = "status@broadcast"
)

// NormalizeAddress strips the server suffix and any device or agent part,
// "5511999999999:12@s.whatsapp.net" -> "5511999999999".
func NormalizeAddress(address string) string {
	user := address
	if i := strings.IndexByte(user, '@'); i >= 0 {
		user = user[:i]
	}
	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}
	if i := strings.IndexByte(user, '.'); i >= 0 {
		user = user[:i]
	}
	return user
}

func IsGroupAddress(address string) bool {
	return strings.HasSuffix(address, groupSuffix)
}

func IsBroadcastAddress(address string) bool {
	return address == statusAddress || strings.HasSuffix(address, broadcastSuffix)
}
