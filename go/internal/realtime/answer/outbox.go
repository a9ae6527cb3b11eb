package answer

import (
	"sync"
	"time"

	"github.com/mcdev12/festtrivia/go/internal/rpc"
)

// Pending is a queued submission waiting for the connection to return.
type Pending struct {
	Request  rpc.SubmitAnswerRequest
	QueuedAt time.Time
	Attempts int
}

// Outbox keeps queued submissions in arrival order.
type Outbox struct {
	mu    sync.Mutex
	items []Pending
}

func (o *Outbox) Enqueue(p Pending) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items = append(o.items, p)
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

// Peek returns the oldest queued submission.
func (o *Outbox) Peek() (Pending, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.items) == 0 {
		return Pending{}, false
	}
	return o.items[0], true
}

// Pop removes the oldest queued submission if it carries key.
func (o *Outbox) Pop(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.items) == 0 || o.items[0].Request.IdempotencyKey.String() != key {
		return false
	}
	o.items = o.items[1:]
	return true
}

// BumpAttempts increments the attempt count of the oldest queued submission.
func (o *Outbox) BumpAttempts() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.items) > 0 {
		o.items[0].Attempts++
	}
}

// Clear drops everything and returns what was queued.
func (o *Outbox) Clear() []Pending {
	o.mu.Lock()
	defer o.mu.Unlock()
	dropped := o.items
	o.items = nil
	return dropped
}
