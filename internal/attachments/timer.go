package attachments

import "time"

// Timer is a pending one-shot callback.
type Timer interface {
	// Stop cancels the callback. It returns false if the callback already
	// ran or is running.
	Stop() bool
}

// AfterFunc schedules f after d. The zero Aggregator uses time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
