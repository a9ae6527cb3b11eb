package watchdog

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/festtrivia/go/internal/models"
	"github.com/mcdev12/festtrivia/go/internal/realtime/connstate"
	"github.com/rs/zerolog"
)

// Fetch refreshes client state from the backend.
type Fetch func(ctx context.Context) error

// GameFunc returns the currently bound game state, or nil.
type GameFunc func() *models.GameState

type StalenessConfig struct {
	Interval  time.Duration
	Threshold time.Duration
}

func DefaultStalenessConfig() StalenessConfig {
	return StalenessConfig{
		Interval:  15 * time.Second,
		Threshold: 45 * time.Second,
	}
}

// Staleness forces a game state refetch when the feeds look healthy but nothing has
// been confirmed for longer than the threshold.
type Staleness struct {
	cfg     StalenessConfig
	tracker *connstate.Tracker
	game    GameFunc
	fetch   Fetch
	clock   clockwork.Clock
	logger  zerolog.Logger

	inFlight atomic.Bool
}

func NewStaleness(cfg StalenessConfig, tracker *connstate.Tracker, game GameFunc, fetch Fetch, clock clockwork.Clock, logger zerolog.Logger) *Staleness {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Staleness{
		cfg:     cfg,
		tracker: tracker,
		game:    game,
		fetch:   fetch,
		clock:   clock,
		logger:  logger,
	}
}

// Check runs one cycle and reports whether a refetch was triggered.
func (s *Staleness) Check(ctx context.Context) bool {
	if !s.tracker.IsConnected() {
		return false
	}
	if gs := s.game(); !gs.IsActive() {
		return false
	}
	idle := s.tracker.SinceLastSync()
	if idle <= s.cfg.Threshold {
		return false
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return false
	}
	defer s.inFlight.Store(false)

	s.logger.Warn().Dur("idle", idle).Msg("game state looks stale, refetching")
	// The fetch alone does not confirm freshness.
	if err := s.fetch(ctx); err != nil {
		s.logger.Error().Err(err).Msg("stale game state refetch failed")
	}
	return true
}

func (s *Staleness) Run(ctx context.Context) error {
	return run(ctx, s.clock, s.cfg.Interval, func(ctx context.Context) { s.Check(ctx) })
}

type ValidatorConfig struct {
	Interval      time.Duration
	IdleThreshold time.Duration
}

func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		Interval:      60 * time.Second,
		IdleThreshold: 120 * time.Second,
	}
}

// Validator is the coarse check: after a long idle period it refetches everything the
// client shows and re-syncs the server clock.
type Validator struct {
	cfg     ValidatorConfig
	tracker *connstate.Tracker
	game    GameFunc
	refetch Fetch
	resync  func(ctx context.Context) time.Duration
	clock   clockwork.Clock
	logger  zerolog.Logger

	inFlight atomic.Bool
}

func NewValidator(cfg ValidatorConfig, tracker *connstate.Tracker, game GameFunc, refetch Fetch, resync func(ctx context.Context) time.Duration, clock clockwork.Clock, logger zerolog.Logger) *Validator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Validator{
		cfg:     cfg,
		tracker: tracker,
		game:    game,
		refetch: refetch,
		resync:  resync,
		clock:   clock,
		logger:  logger,
	}
}

// Check runs one cycle and reports whether a full refresh was triggered.
func (v *Validator) Check(ctx context.Context) bool {
	if gs := v.game(); !gs.IsActive() {
		return false
	}
	idle := v.tracker.SinceLastSync()
	if idle <= v.cfg.IdleThreshold {
		return false
	}
	if !v.inFlight.CompareAndSwap(false, true) {
		return false
	}
	defer v.inFlight.Store(false)

	v.logger.Warn().Dur("idle", idle).Msg("validating game data")
	if err := v.refetch(ctx); err != nil {
		v.logger.Error().Err(err).Msg("game data validation refetch failed")
	}
	if v.resync != nil {
		offset := v.resync(ctx)
		v.logger.Debug().Dur("offset", offset).Msg("server time re-synced")
	}
	return true
}

func (v *Validator) Run(ctx context.Context) error {
	return run(ctx, v.clock, v.cfg.Interval, func(ctx context.Context) { v.Check(ctx) })
}

func run(ctx context.Context, clock clockwork.Clock, interval time.Duration, check func(context.Context)) error {
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			check(ctx)
		}
	}
}
