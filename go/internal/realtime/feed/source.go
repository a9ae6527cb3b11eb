package feed

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/festtrivia/go/internal/realtime/events"
	"github.com/rs/zerolog"
)

// DefaultBuffer is the per-subscription event buffer used when a config leaves it unset.
const DefaultBuffer = 64

// Source opens change feed subscriptions for one (game, feed) pair at a time.
type Source interface {
	Subscribe(ctx context.Context, gameID uuid.UUID, feed events.FeedType) (Subscription, error)
}

// Subscription is a live change feed. Events is closed when the subscription ends;
// Err then reports the transport error that ended it, or nil after Close.
type Subscription interface {
	Events() <-chan events.ChangeEvent
	Err() error
	Close() error
}

// stream is the Subscription shared by every source.
type stream struct {
	gameID uuid.UUID
	feed   events.FeedType
	logger zerolog.Logger
	ch     chan events.ChangeEvent

	mu   sync.Mutex
	done bool
	err  error

	stopOnce sync.Once
	stop     func() error
}

func newStream(gameID uuid.UUID, feed events.FeedType, buffer int, logger zerolog.Logger) *stream {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &stream{
		gameID: gameID,
		feed:   feed,
		logger: logger,
		ch:     make(chan events.ChangeEvent, buffer),
	}
}

func (s *stream) Events() <-chan events.ChangeEvent {
	return s.ch
}

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// push delivers ev without blocking the transport. Events for other games or feeds are ignored.
func (s *stream) push(ev events.ChangeEvent) bool {
	if ev.GameID != s.gameID || ev.Feed != s.feed {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}

	select {
	case s.ch <- ev:
		return true
	default:
		s.logger.Warn().
			Str("game_id", s.gameID.String()).
			Str("feed", string(s.feed)).
			Str("event_id", ev.ID).
			Msg("subscription buffer full, dropping event")
		return false
	}
}

// finish ends the stream once. Later calls are no-ops.
func (s *stream) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.err = err
	close(s.ch)
}

func (s *stream) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *stream) Close() error {
	s.finish(nil)
	var err error
	s.stopOnce.Do(func() {
		if s.stop != nil {
			err = s.stop()
		}
	})
	return err
}
