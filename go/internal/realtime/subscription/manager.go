package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/festtrivia/go/internal/realtime/events"
	"github.com/mcdev12/festtrivia/go/internal/realtime/feed"
	"github.com/mcdev12/festtrivia/go/internal/realtime/notify"
	"github.com/rs/zerolog"
)

var (
	ErrNoGame    = errors.New("subscription: no game id")
	ErrNotOpen   = errors.New("subscription: not open")
	ErrFeedEnded = errors.New("subscription: feed ended")
)

// Reporter receives connection health signals from the manager. Implementations must not
// call back into the Manager synchronously.
type Reporter interface {
	MarkHealthy(at time.Time)
	MarkDisconnected(err error)
}

// Streams holds one receive-only channel per subscribed feed.
type Streams map[events.FeedType]<-chan events.ChangeEvent

// Stats counts events per feed since the manager was opened.
type Stats struct {
	Delivered map[events.FeedType]int
	Dropped   map[events.FeedType]int
}

type Config struct {
	ThrottleWindow time.Duration
	Buffer         int
}

func DefaultConfig() Config {
	return Config{
		ThrottleWindow: DefaultThrottleWindow,
		Buffer:         32,
	}
}

// Manager owns the change feed subscriptions of the bound game. Output channels are
// created by Open, survive Resubscribe and are closed by Close or a game change.
type Manager struct {
	source   feed.Source
	reporter Reporter
	notifier notify.Notifier
	clock    clockwork.Clock
	logger   zerolog.Logger
	cfg      Config
	throttle *Throttle

	mu      sync.Mutex
	gameID  uuid.UUID
	feeds   []events.FeedType
	outputs map[events.FeedType]chan events.ChangeEvent
	subs    map[events.FeedType]feed.Subscription
	cancel  context.CancelFunc
	pumps   sync.WaitGroup

	statsMu   sync.Mutex
	delivered map[events.FeedType]int
	dropped   map[events.FeedType]int
}

func NewManager(source feed.Source, reporter Reporter, notifier notify.Notifier, clock clockwork.Clock, logger zerolog.Logger, cfg Config) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if notifier == nil {
		notifier = notify.NoOpNotifier{}
	}
	if cfg.ThrottleWindow <= 0 {
		cfg.ThrottleWindow = DefaultThrottleWindow
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultConfig().Buffer
	}
	return &Manager{
		source:    source,
		reporter:  reporter,
		notifier:  notifier,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
		throttle:  NewThrottle(cfg.ThrottleWindow),
		delivered: make(map[events.FeedType]int),
		dropped:   make(map[events.FeedType]int),
	}
}

// Open subscribes to feeds of gameID (every feed when none are given). Anything opened
// for a previous game is released first. On setup failure the returned streams stay
// bound to the game so that Resubscribe can fill them later.
func (m *Manager) Open(ctx context.Context, gameID uuid.UUID, feeds ...events.FeedType) (Streams, error) {
	if gameID == uuid.Nil {
		return nil, ErrNoGame
	}
	if len(feeds) == 0 {
		feeds = events.AllFeeds
	}

	m.Close()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.gameID = gameID
	m.feeds = append([]events.FeedType(nil), feeds...)
	m.outputs = make(map[events.FeedType]chan events.ChangeEvent, len(feeds))
	streams := make(Streams, len(feeds))
	for _, f := range feeds {
		ch := make(chan events.ChangeEvent, m.cfg.Buffer)
		m.outputs[f] = ch
		streams[f] = ch
	}
	m.throttle.Reset()
	m.resetStats()

	return streams, m.subscribeLocked(ctx)
}

// Resubscribe replaces every underlying subscription of the bound game.
func (m *Manager) Resubscribe(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.outputs == nil {
		return ErrNotOpen
	}
	m.releaseLocked()
	return m.subscribeLocked(ctx)
}

// Close releases every subscription and closes the output channels.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.outputs == nil {
		return
	}
	m.releaseLocked()
	for _, ch := range m.outputs {
		close(ch)
	}

	m.logger.Debug().
		Str("game_id", m.gameID.String()).
		Msg("subscriptions closed")

	m.outputs = nil
	m.feeds = nil
	m.gameID = uuid.Nil
}

// GameID returns the bound game, or uuid.Nil.
func (m *Manager) GameID() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gameID
}

// Subscribed reports how many feeds currently have a live subscription.
func (m *Manager) Subscribed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *Manager) Stats() Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	stats := Stats{
		Delivered: make(map[events.FeedType]int, len(m.delivered)),
		Dropped:   make(map[events.FeedType]int, len(m.dropped)),
	}
	for f, n := range m.delivered {
		stats.Delivered[f] = n
	}
	for f, n := range m.dropped {
		stats.Dropped[f] = n
	}
	return stats
}

func (m *Manager) subscribeLocked(ctx context.Context) error {
	pumpCtx, cancel := context.WithCancel(context.Background())
	subs := make(map[events.FeedType]feed.Subscription, len(m.feeds))

	for _, f := range m.feeds {
		sub, err := m.source.Subscribe(ctx, m.gameID, f)
		if err != nil {
			cancel()
			for _, opened := range subs {
				opened.Close()
			}
			err = fmt.Errorf("subscribe to %s feed: %w", f, err)
			m.logger.Error().
				Err(err).
				Str("game_id", m.gameID.String()).
				Msg("subscription setup failed")
			m.reporter.MarkDisconnected(err)
			m.notifier.Notify(ctx, notify.SubscriptionFailed)
			return err
		}
		subs[f] = sub
	}

	m.subs = subs
	m.cancel = cancel
	for f, sub := range subs {
		m.pumps.Add(1)
		go m.pump(pumpCtx, f, sub, m.outputs[f])
	}

	m.logger.Info().
		Str("game_id", m.gameID.String()).
		Int("feeds", len(subs)).
		Msg("subscribed to game feeds")
	return nil
}

// releaseLocked closes the live subscriptions and waits for their pumps, so nothing is
// sent on the outputs afterwards.
func (m *Manager) releaseLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	for f, sub := range m.subs {
		if err := sub.Close(); err != nil {
			m.logger.Warn().Err(err).Str("feed", string(f)).Msg("failed to close subscription")
		}
	}
	m.subs = nil
	m.pumps.Wait()
}

func (m *Manager) pump(ctx context.Context, f events.FeedType, sub feed.Subscription, out chan<- events.ChangeEvent) {
	defer m.pumps.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				if ctx.Err() != nil {
					return
				}
				err := sub.Err()
				if err == nil {
					err = ErrFeedEnded
				}
				m.logger.Warn().
					Err(err).
					Str("feed", string(f)).
					Msg("feed subscription ended")
				m.reporter.MarkDisconnected(err)
				return
			}

			now := m.clock.Now()
			ev.ReceivedAt = now
			if !m.throttle.Allow(f, now) {
				m.count(f, true)
				continue
			}

			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
			m.count(f, false)
			m.reporter.MarkHealthy(now)
		}
	}
}

func (m *Manager) count(f events.FeedType, dropped bool) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	if dropped {
		m.dropped[f]++
		return
	}
	m.delivered[f]++
}

func (m *Manager) resetStats() {
	m.statsMu.Lock()
	m.delivered = make(map[events.FeedType]int)
	m.dropped = make(map[events.FeedType]int)
	m.statsMu.Unlock()
}
