// Package session wires the realtime components into one client for a single game:
// time sync, connection monitoring, reconnection, feed subscriptions, staleness
// watchdogs and answer submission.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/festtrivia/go/internal/models"
	"github.com/mcdev12/festtrivia/go/internal/realtime/answer"
	"github.com/mcdev12/festtrivia/go/internal/realtime/backoff"
	"github.com/mcdev12/festtrivia/go/internal/realtime/connstate"
	"github.com/mcdev12/festtrivia/go/internal/realtime/feed"
	"github.com/mcdev12/festtrivia/go/internal/realtime/monitor"
	"github.com/mcdev12/festtrivia/go/internal/realtime/notify"
	"github.com/mcdev12/festtrivia/go/internal/realtime/subscription"
	"github.com/mcdev12/festtrivia/go/internal/realtime/timesync"
	"github.com/mcdev12/festtrivia/go/internal/realtime/watchdog"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

var (
	ErrClosed  = errors.New("session: closed")
	ErrNoGame  = errors.New("session: no game selected")
	errMissing = errors.New("session: missing dependency")
)

// DataSource fetches the current rows of a game.
type DataSource interface {
	GameState(ctx context.Context, gameID uuid.UUID) (*models.GameState, error)
	Leaderboard(ctx context.Context, gameID uuid.UUID) ([]models.LeaderboardEntry, error)
	Question(ctx context.Context, gameID uuid.UUID, position int) (*models.Question, error)
}

type Config struct {
	Monitor      monitor.Config
	Staleness    watchdog.StalenessConfig
	Validator    watchdog.ValidatorConfig
	Subscription subscription.Config
	Reconnect    backoff.Policy
	TimeSyncTTL  time.Duration
	UpdateBuffer int
}

func DefaultConfig() Config {
	return Config{
		Monitor:      monitor.DefaultConfig(),
		Staleness:    watchdog.DefaultStalenessConfig(),
		Validator:    watchdog.DefaultValidatorConfig(),
		Subscription: subscription.DefaultConfig(),
		Reconnect:    backoff.DefaultPolicy(),
		TimeSyncTTL:  timesync.DefaultTTL,
		UpdateBuffer: 128,
	}
}

// Deps are the collaborators a session talks to. Data, Answers, Feeds and Time are
// required.
type Deps struct {
	Data    DataSource
	Answers answer.Backend
	Feeds   feed.Source
	Time    timesync.Fetcher

	// Prober defaults to a server time round trip.
	Prober    monitor.Prober
	TimeStore timesync.Store
	Notifier  notify.Notifier
	Clock     clockwork.Clock
	Logger    zerolog.Logger
}

// Session is the realtime client of one player. Create it with New, start the background
// loops with Connect and select a game with SwitchGame.
type Session struct {
	cfg  Config
	deps Deps

	tracker   *connstate.Tracker
	scheduler *backoff.Scheduler
	syncer    *timesync.Syncer
	subs      *subscription.Manager
	monitor   *monitor.Monitor
	staleness *watchdog.Staleness
	validator *watchdog.Validator
	answers   *answer.Submitter

	ctx     context.Context
	cancel  context.CancelFunc
	loops   sync.WaitGroup
	updates chan Update

	mu        sync.RWMutex
	gen       uint64
	gameID    uuid.UUID
	playerID  uuid.UUID
	game      *models.GameState
	board     []models.LeaderboardEntry
	question  *models.Question
	connected bool
	closed    bool
}

func New(cfg Config, deps Deps) (*Session, error) {
	switch {
	case deps.Data == nil:
		return nil, fmt.Errorf("%w: data source", errMissing)
	case deps.Answers == nil:
		return nil, fmt.Errorf("%w: answer backend", errMissing)
	case deps.Feeds == nil:
		return nil, fmt.Errorf("%w: feed source", errMissing)
	case deps.Time == nil:
		return nil, fmt.Errorf("%w: time fetcher", errMissing)
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NoOpNotifier{}
	}
	if deps.TimeStore == nil {
		deps.TimeStore = timesync.NewMemoryStore()
	}
	if deps.Prober == nil {
		fetcher := deps.Time
		deps.Prober = monitor.ProberFunc(func(ctx context.Context) error {
			_, err := fetcher.ServerTime(ctx)
			return err
		})
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = DefaultConfig().UpdateBuffer
	}

	s := &Session{
		cfg:     cfg,
		deps:    deps,
		updates: make(chan Update, cfg.UpdateBuffer),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	logger := deps.Logger
	s.scheduler = backoff.NewScheduler(cfg.Reconnect, deps.Clock, logger.With().Str("component", "reconnect").Logger())
	s.tracker = connstate.New(deps.Clock, s.scheduler)

	s.syncer = timesync.NewSyncer(deps.Time, deps.TimeStore, deps.Clock, logger.With().Str("component", "timesync").Logger())
	if cfg.TimeSyncTTL > 0 {
		s.syncer.WithTTL(cfg.TimeSyncTTL)
	}

	s.subs = subscription.NewManager(deps.Feeds, reporter{s}, deps.Notifier, deps.Clock,
		logger.With().Str("component", "subscriptions").Logger(), cfg.Subscription)

	s.monitor = monitor.New(cfg.Monitor, monitor.Options{
		Prober:     deps.Prober,
		Tracker:    s.tracker,
		Scheduler:  s.scheduler,
		Notifier:   deps.Notifier,
		Clock:      deps.Clock,
		Logger:     logger.With().Str("component", "monitor").Logger(),
		ActiveGame: s.activeGame,
		Reconnect:  s.reconnect,
	})

	s.staleness = watchdog.NewStaleness(cfg.Staleness, s.tracker, s.GameState, s.fetchGameState,
		deps.Clock, logger.With().Str("component", "staleness").Logger())
	s.validator = watchdog.NewValidator(cfg.Validator, s.tracker, s.GameState, s.refetchAll, s.syncer.ForceSync,
		deps.Clock, logger.With().Str("component", "validator").Logger())

	s.answers = answer.NewSubmitter(answer.Options{
		Backend:            deps.Answers,
		Tracker:            s.tracker,
		Notifier:           deps.Notifier,
		Clock:              deps.Clock,
		Logger:             logger.With().Str("component", "answers").Logger(),
		RefreshLeaderboard: s.refreshLeaderboard,
		OnFlushed:          s.answerFlushed,
	})

	return s, nil
}

// Connect syncs the clock offset and starts the monitor and watchdog loops.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.connected = true
	s.mu.Unlock()

	offset := s.syncer.Sync(ctx)
	s.deps.Logger.Info().Dur("offset", offset).Msg("session connected")

	s.goLoop(s.monitor.Run)
	s.goLoop(s.staleness.Run)
	s.goLoop(s.validator.Run)
	return nil
}

func (s *Session) goLoop(run func(ctx context.Context) error) {
	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		if err := run(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.deps.Logger.Error().Err(err).Msg("session loop stopped")
		}
	}()
}

// Disconnect tears the session down: loops, timers and subscriptions stop, late fetch
// results are discarded and Updates is closed. A disconnected session cannot be reused.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	s.mu.Unlock()

	s.cancel()
	s.scheduler.Stop()
	s.answers.Stop()
	s.subs.Close()
	s.loops.Wait()

	s.mu.Lock()
	close(s.updates)
	s.mu.Unlock()

	s.deps.Logger.Info().Msg("session disconnected")
}

// SwitchGame binds the session to gameID as playerID. Subscriptions of the previous game
// are released before the new ones open, then every row is fetched. A subscription
// failure is retried in the background and is not returned.
func (s *Session) SwitchGame(ctx context.Context, gameID, playerID uuid.UUID) error {
	if gameID == uuid.Nil {
		return ErrNoGame
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.gen++
	gen := s.gen
	s.gameID = gameID
	s.playerID = playerID
	s.game = nil
	s.board = nil
	s.question = nil
	s.mu.Unlock()

	s.scheduler.Reset()
	s.tracker.MarkDisconnected()
	s.answers.Bind(gameID, playerID)

	streams, subErr := s.subs.Open(ctx, gameID)
	for f, ch := range streams {
		go s.consume(gen, f, ch)
	}
	if subErr != nil {
		s.deps.Logger.Warn().Err(subErr).Str("game_id", gameID.String()).Msg("subscriptions pending retry")
	}

	s.deps.Logger.Info().
		Str("game_id", gameID.String()).
		Str("player_id", playerID.String()).
		Msg("switched game")

	if err := s.refetchAll(ctx); err != nil {
		return fmt.Errorf("load game %s: %w", gameID, err)
	}
	if subErr == nil {
		s.confirm()
	}
	return nil
}

// Submit answers the question at position for the bound player.
func (s *Session) Submit(ctx context.Context, position int, optionID string, answerTimeMs int) (*models.AnswerResult, error) {
	result, err := s.answers.Submit(ctx, position, optionID, answerTimeMs)
	if result != nil {
		s.emit(Update{Kind: UpdateAnswer, Answer: result, Position: position})
	}
	return result, err
}

// HandleOffline reports a lost network from the environment.
func (s *Session) HandleOffline(ctx context.Context) {
	s.monitor.HandleOffline(ctx)
}

// HandleOnline reports a recovered network from the environment and starts recovery.
func (s *Session) HandleOnline(ctx context.Context) error {
	return s.monitor.HandleOnline(ctx)
}

// WatchNATS feeds the connection events of a NATS transport into the monitor.
func (s *Session) WatchNATS(nc *nats.Conn) {
	s.monitor.WatchNATS(nc)
}

// Updates delivers snapshots as they change. Updates are dropped while the buffer is full.
func (s *Session) Updates() <-chan Update {
	return s.updates
}

func (s *Session) GameID() uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gameID
}

func (s *Session) PlayerID() uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playerID
}

// GameState returns a copy of the latest game state, or nil before the first fetch.
func (s *Session) GameState() *models.GameState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.game == nil {
		return nil
	}
	gs := *s.game
	return &gs
}

// Leaderboard returns the ranked standings.
func (s *Session) Leaderboard() []models.LeaderboardEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.LeaderboardEntry(nil), s.board...)
}

// Question returns the current question, or nil outside of a question.
func (s *Session) Question() *models.Question {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.question == nil {
		return nil
	}
	q := *s.question
	return &q
}

func (s *Session) ConnectionState() connstate.ConnectionState {
	return s.tracker.Snapshot()
}

// ServerNow is the local clock corrected by the last derived server offset.
func (s *Session) ServerNow() time.Time {
	return s.syncer.ServerNow()
}

// Remaining returns the countdown seconds left in the current phase.
func (s *Session) Remaining() int {
	gs := s.GameState()
	if gs == nil {
		return 0
	}
	return gs.RemainingWithClockSync(s.ServerNow())
}

// Submitted reports whether an answer was claimed for position.
func (s *Session) Submitted(position int) bool {
	return s.answers.Submitted(position)
}

// QueuedAnswers returns how many answers wait for the connection.
func (s *Session) QueuedAnswers() int {
	return s.answers.Queued()
}

// SubscriptionStats reports delivered and throttled events per feed.
func (s *Session) SubscriptionStats() subscription.Stats {
	return s.subs.Stats()
}

func (s *Session) activeGame() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.gameID == uuid.Nil {
		return false
	}
	return s.game == nil || !s.game.Status.IsTerminal()
}

// reconnect is the monitor's recovery callback: fresh subscriptions, a full refetch and
// delivery of queued answers.
func (s *Session) reconnect(ctx context.Context) error {
	if err := s.subs.Resubscribe(ctx); err != nil {
		return err
	}
	if err := s.refetchAll(ctx); err != nil {
		return err
	}
	s.confirm()
	if err := s.answers.Flush(ctx); err != nil {
		s.deps.Logger.Warn().Err(err).Msg("queued answers still pending after reconnect")
	}
	return nil
}

// resubscribe runs when the reconnection scheduler fires after a feed failure.
func (s *Session) resubscribe() {
	if s.ctx.Err() != nil || s.subs.GameID() == uuid.Nil {
		return
	}
	if s.tracker.NetworkStatus() == connstate.StatusOffline {
		// The monitor owns recovery while offline.
		return
	}
	if err := s.reconnect(s.ctx); err != nil {
		s.deps.Logger.Warn().Err(err).Int("attempts", s.scheduler.Attempts()).Msg("resubscribe failed")
	}
}

// confirm records a confirmed round trip with the backend.
func (s *Session) confirm() {
	if s.tracker.MarkHealthy(s.deps.Clock.Now()) {
		s.scheduler.Reset()
	}
}

func (s *Session) current(gen uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed && s.gen == gen
}

func (s *Session) snapshotGen() (uint64, uuid.UUID) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen, s.gameID
}

func (s *Session) emit(u Update) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.updates <- u:
	default:
		s.deps.Logger.Debug().Str("kind", string(u.Kind)).Msg("update buffer full, dropping update")
	}
}

// reporter turns subscription health into connection state and reconnection attempts.
// It never calls back into the subscription manager synchronously.
type reporter struct{ s *Session }

func (r reporter) MarkHealthy(at time.Time) {
	if r.s.tracker.MarkHealthy(at) {
		r.s.scheduler.Reset()
	}
}

func (r reporter) MarkDisconnected(err error) {
	was := r.s.tracker.MarkDisconnected()
	if r.s.tracker.NetworkStatus() == connstate.StatusReconnecting {
		// The monitor schedules its own retry if the recovery fails.
		r.s.deps.Logger.Warn().Err(err).Msg("feeds failed during recovery")
		return
	}
	if !was && r.s.scheduler.Pending() {
		return
	}
	delay := r.s.scheduler.Schedule(r.s.resubscribe)
	r.s.deps.Logger.Warn().
		Err(err).
		Dur("retry_in", delay).
		Int("attempts", r.s.scheduler.Attempts()).
		Msg("feeds disconnected, scheduled resubscribe")
}

var _ subscription.Reporter = reporter{}
