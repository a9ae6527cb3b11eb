package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mcdev12/festtrivia/go/internal/realtime/events"
	"github.com/rs/zerolog"
)

// ErrListenerDisconnected ends subscriptions when the LISTEN connection drops.
var ErrListenerDisconnected = errors.New("postgres listener disconnected")

type PGNotifyConfig struct {
	DatabaseURL          string // Postgres DSN for LISTEN/NOTIFY
	MinReconnectInterval time.Duration
	MaxReconnectInterval time.Duration
	PingInterval         time.Duration
	Buffer               int
}

func DefaultPGNotifyConfig(databaseURL string) PGNotifyConfig {
	return PGNotifyConfig{
		DatabaseURL:          databaseURL,
		MinReconnectInterval: 10 * time.Second,
		MaxReconnectInterval: time.Minute,
		PingInterval:         90 * time.Second,
		Buffer:               DefaultBuffer,
	}
}

// PGNotifySource follows feeds through Postgres NOTIFY. Triggers publish the change event
// JSON on the feed's channel; one shared listener routes payloads by game and feed.
type PGNotifySource struct {
	cfg      PGNotifyConfig
	logger   zerolog.Logger
	listener *pq.Listener

	mu        sync.Mutex
	listening map[string]bool
	streams   map[streamKey]map[*stream]struct{}
}

func NewPGNotifySource(cfg PGNotifyConfig, logger zerolog.Logger) *PGNotifySource {
	s := &PGNotifySource{
		cfg:       cfg,
		logger:    logger,
		listening: make(map[string]bool),
		streams:   make(map[streamKey]map[*stream]struct{}),
	}
	s.listener = pq.NewListener(
		cfg.DatabaseURL,
		cfg.MinReconnectInterval,
		cfg.MaxReconnectInterval,
		s.handleListenerEvent,
	)
	return s
}

// Run dispatches notifications until ctx is done. It must be running for subscriptions
// to receive events.
func (s *PGNotifySource) Run(ctx context.Context) error {
	s.logger.Info().
		Dur("ping_interval", s.cfg.PingInterval).
		Msg("feed listener started")

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("feed listener shutting down")
			return s.Close()
		case note := <-s.listener.Notify:
			if note == nil {
				// connection was re-established; pq re-issues LISTEN by itself
				continue
			}
			if err := s.dispatch(note.Channel, note.Extra); err != nil {
				s.logger.Error().Err(err).Str("channel", note.Channel).Msg("failed to handle notification")
			}
		case <-pingTicker.C:
			if err := s.listener.Ping(); err != nil {
				s.logger.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (s *PGNotifySource) Subscribe(_ context.Context, gameID uuid.UUID, feed events.FeedType) (Subscription, error) {
	channel := events.Channel(feed)
	if err := s.listen(channel); err != nil {
		return nil, err
	}

	key := streamKey{gameID: gameID, feed: feed}
	st := newStream(gameID, feed, s.cfg.Buffer, s.logger)
	st.stop = func() error {
		s.remove(key, st)
		return nil
	}

	s.mu.Lock()
	if s.streams[key] == nil {
		s.streams[key] = make(map[*stream]struct{})
	}
	s.streams[key][st] = struct{}{}
	s.mu.Unlock()

	return st, nil
}

// Close stops listening and ends every open subscription.
func (s *PGNotifySource) Close() error {
	s.failAll(nil)
	return s.listener.Close()
}

func (s *PGNotifySource) listen(channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listening[channel] {
		return nil
	}
	if s.listener != nil {
		if err := s.listener.Listen(channel); err != nil && !errors.Is(err, pq.ErrChannelAlreadyOpen) {
			return fmt.Errorf("failed to listen to channel %s: %w", channel, err)
		}
	}
	s.listening[channel] = true
	s.logger.Info().Str("channel", channel).Msg("listening for notifications")
	return nil
}

// dispatch routes a notification payload to the subscriptions of its game and feed.
func (s *PGNotifySource) dispatch(channel, payload string) error {
	var ev events.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return fmt.Errorf("invalid change event in notification: %w", err)
	}
	if events.Channel(ev.Feed) != channel {
		return fmt.Errorf("feed %s does not belong on channel %s", ev.Feed, channel)
	}

	s.mu.Lock()
	targets := make([]*stream, 0, len(s.streams[streamKey{gameID: ev.GameID, feed: ev.Feed}]))
	for st := range s.streams[streamKey{gameID: ev.GameID, feed: ev.Feed}] {
		targets = append(targets, st)
	}
	s.mu.Unlock()

	for _, st := range targets {
		st.push(ev)
	}
	return nil
}

func (s *PGNotifySource) handleListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventDisconnected:
		s.logger.Error().Err(err).Msg("feed listener disconnected")
		// notifications sent while disconnected are lost
		s.failAll(ErrListenerDisconnected)
	case pq.ListenerEventReconnected:
		s.logger.Info().Msg("feed listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		s.logger.Warn().Err(err).Msg("feed listener connection attempt failed")
	}
}

func (s *PGNotifySource) failAll(err error) {
	s.mu.Lock()
	var targets []*stream
	for key, set := range s.streams {
		for st := range set {
			targets = append(targets, st)
		}
		delete(s.streams, key)
	}
	s.mu.Unlock()

	for _, st := range targets {
		st.finish(err)
	}
}

func (s *PGNotifySource) remove(key streamKey, st *stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.streams[key]; ok {
		delete(set, st)
		if len(set) == 0 {
			delete(s.streams, key)
		}
	}
}
