package backend

import (
	"context"
	"errors"

	"github.com/mcdev12/festtrivia/go/internal/realtime/events"
	"github.com/rs/zerolog"
)

// Publisher delivers change events to one fan-out transport.
type Publisher interface {
	Publish(ctx context.Context, ev events.ChangeEvent) error
}

// Fanout publishes every event to all of its publishers.
type Fanout struct {
	publishers []Publisher
	logger     zerolog.Logger
}

func NewFanout(logger zerolog.Logger, publishers ...Publisher) *Fanout {
	return &Fanout{publishers: publishers, logger: logger}
}

func (f *Fanout) Add(p Publisher) {
	f.publishers = append(f.publishers, p)
}

func (f *Fanout) Publish(ctx context.Context, ev events.ChangeEvent) error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, ev); err != nil {
			f.logger.Error().
				Err(err).
				Str("event_id", ev.ID).
				Str("feed", string(ev.Feed)).
				Msg("failed to publish change event")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
