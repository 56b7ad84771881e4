package websocket

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// eventLimiter caps inbound events per fixed window for one connection. It is owned
// by the connection's reader goroutine and needs no locking.
type eventLimiter struct {
	clock       clockwork.Clock
	limit       int
	window      time.Duration
	count       int
	windowStart time.Time
}

// newEventLimiter returns nil when limit is not positive, which disables limiting.
func newEventLimiter(clock clockwork.Clock, limit int, window time.Duration) *eventLimiter {
	if limit <= 0 {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}
	return &eventLimiter{clock: clock, limit: limit, window: window}
}

func (l *eventLimiter) Allow() bool {
	if l == nil {
		return true
	}

	now := l.clock.Now()
	if l.count == 0 || now.Sub(l.windowStart) >= l.window {
		l.count = 1
		l.windowStart = now
		return true
	}
	if l.count >= l.limit {
		return false
	}
	l.count++
	return true
}
