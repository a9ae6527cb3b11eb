package subscription

import (
	"sync"
	"time"

	"github.com/mcdev12/festtrivia/go/internal/realtime/events"
)

// DefaultThrottleWindow is the minimum spacing between accepted events of one feed.
const DefaultThrottleWindow = 500 * time.Millisecond

// Throttle drops events of a feed that arrive within the window after the previous
// accepted event of the same feed.
type Throttle struct {
	window time.Duration

	mu   sync.Mutex
	last map[events.FeedType]time.Time
}

func NewThrottle(window time.Duration) *Throttle {
	return &Throttle{
		window: window,
		last:   make(map[events.FeedType]time.Time),
	}
}

// Allow reports whether an event of feed received at t is accepted, recording it if so.
func (t *Throttle) Allow(feed events.FeedType, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.last[feed]; ok && at.Sub(prev) < t.window {
		return false
	}
	t.last[feed] = at
	return true
}

// Reset forgets every accepted event.
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = make(map[events.FeedType]time.Time)
}
