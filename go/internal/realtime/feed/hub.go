package feed

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/festtrivia/go/internal/realtime/events"
	"github.com/rs/zerolog"
)

type streamKey struct {
	gameID uuid.UUID
	feed   events.FeedType
}

// Hub is an in-process Source. Whatever is published reaches every open subscription
// of the same game and feed.
type Hub struct {
	logger zerolog.Logger
	buffer int

	mu           sync.Mutex
	streams      map[streamKey]map[*stream]struct{}
	subscribeErr error
	subscribes   int
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		buffer:  DefaultBuffer,
		streams: make(map[streamKey]map[*stream]struct{}),
	}
}

func (h *Hub) Subscribe(_ context.Context, gameID uuid.UUID, feed events.FeedType) (Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.subscribes++
	if h.subscribeErr != nil {
		return nil, h.subscribeErr
	}

	key := streamKey{gameID: gameID, feed: feed}
	st := newStream(gameID, feed, h.buffer, h.logger)
	st.stop = func() error {
		h.remove(key, st)
		return nil
	}
	if h.streams[key] == nil {
		h.streams[key] = make(map[*stream]struct{})
	}
	h.streams[key][st] = struct{}{}
	return st, nil
}

// Publish fans ev out and returns how many subscriptions accepted it.
func (h *Hub) Publish(ev events.ChangeEvent) int {
	targets := h.snapshot(streamKey{gameID: ev.GameID, feed: ev.Feed})
	delivered := 0
	for _, st := range targets {
		if st.push(ev) {
			delivered++
		}
	}
	return delivered
}

// Fail ends every open subscription of a game with err, as a dropped transport would.
func (h *Hub) Fail(gameID uuid.UUID, err error) {
	h.mu.Lock()
	var targets []*stream
	for key, set := range h.streams {
		if key.gameID != gameID {
			continue
		}
		for st := range set {
			targets = append(targets, st)
		}
		delete(h.streams, key)
	}
	h.mu.Unlock()

	for _, st := range targets {
		st.finish(err)
	}
}

// SetSubscribeError makes later Subscribe calls fail with err until it is reset with nil.
func (h *Hub) SetSubscribeError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribeErr = err
}

// Open returns how many subscriptions are currently open for a game and feed.
func (h *Hub) Open(gameID uuid.UUID, feed events.FeedType) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams[streamKey{gameID: gameID, feed: feed}])
}

// Subscribes returns the number of Subscribe calls made so far.
func (h *Hub) Subscribes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subscribes
}

func (h *Hub) snapshot(key streamKey) []*stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	targets := make([]*stream, 0, len(h.streams[key]))
	for st := range h.streams[key] {
		targets = append(targets, st)
	}
	return targets
}

func (h *Hub) remove(key streamKey, st *stream) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.streams[key]; ok {
		delete(set, st)
		if len(set) == 0 {
			delete(h.streams, key)
		}
	}
}
