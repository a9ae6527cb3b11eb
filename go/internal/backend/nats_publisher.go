package backend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcdev12/festtrivia/go/internal/realtime/events"
	"github.com/mcdev12/festtrivia/go/internal/realtime/feed"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// JetStreamPublisher publishes change events on the feed stream, one subject per (feed, game).
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config feed.NATSConfig
	logger zerolog.Logger
}

func NewJetStreamPublisher(ctx context.Context, nc *nats.Conn, cfg feed.NATSConfig, logger zerolog.Logger) (*JetStreamPublisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	if _, err := feed.EnsureStream(ctx, js, cfg); err != nil {
		return nil, err
	}
	logger.Info().Str("stream", cfg.StreamName).Msg("JetStream feed stream ready")
	return &JetStreamPublisher{nc: nc, js: js, config: cfg, logger: logger}, nil
}

func (p *JetStreamPublisher) Publish(ctx context.Context, ev events.ChangeEvent) error {
	subject := events.Subject(ev.GameID, ev.Feed)

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ack, err := p.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Feed":     []string{string(ev.Feed)},
			"Game-ID":  []string{ev.GameID.String()},
			"Event-ID": []string{ev.ID},
		},
	},
		jetstream.WithMsgID(ev.ID),
		jetstream.WithExpectStream(p.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	p.logger.Debug().
		Str("subject", subject).
		Str("event_id", ev.ID).
		Uint64("sequence", ack.Sequence).
		Msg("published to JetStream")

	return nil
}

func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}
