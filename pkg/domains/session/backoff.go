package session

import "time"

// ReconnectDelay grows linearly with the attempt number and is capped at ceiling.
func ReconnectDelay(attempts int, step, ceiling time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := time.Duration(attempts) * step
	if d > ceiling || d <= 0 {
		return ceiling
	}
	return d
}

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run once after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
