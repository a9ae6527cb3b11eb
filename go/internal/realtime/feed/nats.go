package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/festtrivia/go/internal/realtime/events"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSConfig holds configuration for the JetStream feed source
type NATSConfig struct {
	URL           string
	StreamName    string
	SubjectFilter string // e.g., "trivia.feeds.>"
	MaxAge        time.Duration
	MaxReconnects int
	ReconnectWait time.Duration
	Buffer        int
}

// DefaultNATSConfig returns default JetStream feed configuration
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		StreamName:    "TRIVIA_FEEDS",
		SubjectFilter: "trivia.feeds.>",
		MaxAge:        time.Hour,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
		Buffer:        DefaultBuffer,
	}
}

// ConnectNATS dials NATS with reconnect handling. extra options are appended, so callers can
// hook disconnect and reconnect events into the connection monitor.
func ConnectNATS(cfg NATSConfig, logger zerolog.Logger, extra ...nats.Option) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error().Err(err).Msg("NATS error")
		}),
	}
	opts = append(opts, extra...)

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// EnsureStream creates or updates the JetStream stream that carries every feed.
func EnsureStream(ctx context.Context, js jetstream.JetStream, cfg NATSConfig) (jetstream.Stream, error) {
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Trivia game change feeds",
		Subjects:    []string{cfg.SubjectFilter},
		MaxAge:      cfg.MaxAge,
		Storage:     jetstream.MemoryStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.StreamName, err)
	}
	return stream, nil
}

// NATSSource subscribes to feeds through JetStream ordered consumers filtered to one subject.
type NATSSource struct {
	js     jetstream.JetStream
	cfg    NATSConfig
	logger zerolog.Logger
}

func NewNATSSource(nc *nats.Conn, cfg NATSConfig, logger zerolog.Logger) (*NATSSource, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return &NATSSource{js: js, cfg: cfg, logger: logger}, nil
}

func (s *NATSSource) Subscribe(ctx context.Context, gameID uuid.UUID, feed events.FeedType) (Subscription, error) {
	subject := events.Subject(gameID, feed)

	consumer, err := s.js.OrderedConsumer(ctx, s.cfg.StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer for %s: %w", subject, err)
	}

	st := newStream(gameID, feed, s.cfg.Buffer, s.logger)

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		var ev events.ChangeEvent
		if err := json.Unmarshal(msg.Data(), &ev); err != nil {
			s.logger.Error().
				Err(err).
				Str("subject", msg.Subject()).
				Msg("failed to unmarshal change event")
			return
		}
		st.push(ev)
	}, jetstream.ConsumeErrHandler(func(cc jetstream.ConsumeContext, err error) {
		if !terminalConsumeError(err) {
			s.logger.Warn().Err(err).Str("subject", subject).Msg("JetStream consume error")
			return
		}
		s.logger.Error().Err(err).Str("subject", subject).Msg("JetStream feed lost")
		st.finish(fmt.Errorf("consume %s: %w", subject, err))
		cc.Stop()
	}))
	if err != nil {
		return nil, fmt.Errorf("start consumer for %s: %w", subject, err)
	}

	st.stop = func() error {
		consumeCtx.Stop()
		return nil
	}

	s.logger.Debug().
		Str("subject", subject).
		Str("stream", s.cfg.StreamName).
		Msg("JetStream feed subscribed")

	return st, nil
}

func terminalConsumeError(err error) bool {
	return errors.Is(err, jetstream.ErrNoHeartbeat) ||
		errors.Is(err, jetstream.ErrConsumerDeleted) ||
		errors.Is(err, nats.ErrConnectionClosed)
}
