package protocol

// Close codes. The numbering follows the messaging network's own
// disconnect reasons so persisted values stay meaningful to operators.
const (
	CodeLoggedOut          = 401
	CodeForbidden          = 403
	CodeTimedOut           = 408
	CodePairingTimeout     = 410
	CodeMultideviceMissing = 411
	CodeConnectionClosed   = 428
	CodeConnectionReplaced = 440
	CodeBadSession         = 500
	CodeUnavailable        = 503
	CodeRestartRequired    = 515
)

var retryable = map[int]bool{
	CodeTimedOut:         true,
	CodeConnectionClosed: true,
	CodeBadSession:       true,
	CodeUnavailable:      true,
	CodeRestartRequired:  true,
}

// IsRetryable reports whether a close code should trigger an automatic
// reconnect.
func IsRetryable(code int) bool {
	return retryable[code]
}

func IsLogout(code int) bool {
	return code == CodeLoggedOut
}
