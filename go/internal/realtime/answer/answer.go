package answer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/festtrivia/go/internal/models"
	"github.com/mcdev12/festtrivia/go/internal/realtime/backoff"
	"github.com/mcdev12/festtrivia/go/internal/realtime/connstate"
	"github.com/mcdev12/festtrivia/go/internal/realtime/notify"
	"github.com/mcdev12/festtrivia/go/internal/rpc"
	"github.com/rs/zerolog"
)

var (
	ErrNoGame           = errors.New("answer: no game bound")
	ErrAlreadySubmitted = errors.New("answer: already submitted for this question")
	ErrQueued           = errors.New("answer: queued until the connection returns")
)

// Backend submits answers for scoring.
type Backend interface {
	SubmitAnswer(ctx context.Context, req rpc.SubmitAnswerRequest) (*models.AnswerResult, error)
}

type Options struct {
	Backend  Backend
	Tracker  *connstate.Tracker
	Notifier notify.Notifier
	Clock    clockwork.Clock
	Logger   zerolog.Logger

	// RefreshLeaderboard is invoked once after every accepted submission.
	RefreshLeaderboard func(ctx context.Context) error
	// OnFlushed receives the result of a queued submission once it is delivered.
	OnFlushed func(req rpc.SubmitAnswerRequest, result *models.AnswerResult)
}

// Submitter sends answers for the bound game and player. A question position can be
// claimed by one submission at a time; a rejected submission releases it.
type Submitter struct {
	opts   Options
	outbox *Outbox
	retry  *backoff.Scheduler

	mu        sync.Mutex
	gameID    uuid.UUID
	playerID  uuid.UUID
	submitted map[int]bool
	flushing  bool
}

func NewSubmitter(opts Options) *Submitter {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NoOpNotifier{}
	}
	if opts.RefreshLeaderboard == nil {
		opts.RefreshLeaderboard = func(context.Context) error { return nil }
	}
	return &Submitter{
		opts:      opts,
		outbox:    &Outbox{},
		retry:     backoff.NewScheduler(backoff.AnswerRetryPolicy(), opts.Clock, opts.Logger),
		submitted: make(map[int]bool),
	}
}

// Bind switches to a game and player. Claims and queued answers of the previous game
// are dropped.
func (s *Submitter) Bind(gameID, playerID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gameID == gameID && s.playerID == playerID {
		return
	}
	s.gameID = gameID
	s.playerID = playerID
	s.submitted = make(map[int]bool)
	s.retry.Reset()
	if dropped := s.outbox.Clear(); len(dropped) > 0 {
		s.opts.Logger.Warn().Int("dropped", len(dropped)).Msg("dropped queued answers of previous game")
	}
}

// Submit sends the selected option for the question at position. Failures return a nil
// result; ErrQueued means Flush will deliver the answer later.
func (s *Submitter) Submit(ctx context.Context, position int, optionID string, answerTimeMs int) (*models.AnswerResult, error) {
	defer s.opts.Tracker.Touch(s.opts.Clock.Now())

	req, err := s.claim(position, optionID, answerTimeMs)
	if err != nil {
		return nil, err
	}

	status := s.opts.Tracker.NetworkStatus()
	if status != connstate.StatusOnline {
		s.opts.Notifier.Notify(ctx, notify.AnswerDelayed)
	}
	if status == connstate.StatusOffline {
		s.enqueue(req)
		return nil, ErrQueued
	}

	result, err := s.opts.Backend.SubmitAnswer(ctx, req)
	if err != nil {
		if rpc.IsNetworkError(err) && s.opts.Tracker.NetworkStatus() != connstate.StatusOnline {
			s.enqueue(req)
			return nil, ErrQueued
		}
		s.release(position)
		s.opts.Logger.Error().
			Err(err).
			Int("question_position", position).
			Msg("answer submission failed")
		s.opts.Notifier.Notify(ctx, notify.AnswerFailed)
		return nil, fmt.Errorf("submit answer for question %d: %w", position, err)
	}

	s.opts.Logger.Info().
		Int("question_position", position).
		Bool("is_correct", result.IsCorrect).
		Int("points", result.Points).
		Msg("answer scored")

	s.refreshLeaderboard(ctx)
	return result, nil
}

// Submitted reports whether position has been claimed.
func (s *Submitter) Submitted(position int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted[position]
}

// Queued returns how many answers wait for delivery.
func (s *Submitter) Queued() int {
	return s.outbox.Len()
}

// Flush delivers queued answers in order. A network failure stops the flush and
// schedules another one with the answer retry policy; a rejection drops the answer.
func (s *Submitter) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.flushing {
		s.mu.Unlock()
		return nil
	}
	s.flushing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.flushing = false
		s.mu.Unlock()
	}()

	delivered := 0
	for {
		pending, ok := s.outbox.Peek()
		if !ok {
			break
		}
		key := pending.Request.IdempotencyKey.String()

		result, err := s.opts.Backend.SubmitAnswer(ctx, pending.Request)
		if err != nil {
			if rpc.IsNetworkError(err) {
				s.outbox.BumpAttempts()
				delay := s.retry.Schedule(func() {
					s.Flush(context.Background())
				})
				s.opts.Logger.Warn().
					Err(err).
					Str("idempotency_key", key).
					Dur("retry_in", delay).
					Msg("queued answer not delivered")
				if delivered > 0 {
					s.refreshLeaderboard(ctx)
				}
				return err
			}

			s.outbox.Pop(key)
			s.release(pending.Request.QuestionPosition)
			s.opts.Logger.Error().
				Err(err).
				Str("idempotency_key", key).
				Int("question_position", pending.Request.QuestionPosition).
				Msg("queued answer rejected")
			s.opts.Notifier.Notify(ctx, notify.AnswerFailed)
			continue
		}

		s.outbox.Pop(key)
		delivered++
		s.opts.Logger.Info().
			Str("idempotency_key", key).
			Int("question_position", pending.Request.QuestionPosition).
			Int("points", result.Points).
			Msg("queued answer delivered")
		if s.opts.OnFlushed != nil {
			s.opts.OnFlushed(pending.Request, result)
		}
	}

	s.retry.Reset()
	if delivered > 0 {
		s.refreshLeaderboard(ctx)
	}
	return nil
}

// Stop cancels a scheduled flush retry.
func (s *Submitter) Stop() {
	s.retry.Stop()
}

func (s *Submitter) claim(position int, optionID string, answerTimeMs int) (rpc.SubmitAnswerRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gameID == uuid.Nil {
		return rpc.SubmitAnswerRequest{}, ErrNoGame
	}
	if s.submitted[position] {
		return rpc.SubmitAnswerRequest{}, ErrAlreadySubmitted
	}
	s.submitted[position] = true

	return rpc.SubmitAnswerRequest{
		IdempotencyKey:   uuid.New(),
		GameID:           s.gameID,
		PlayerID:         s.playerID,
		QuestionPosition: position,
		OptionID:         optionID,
		AnswerTimeMs:     answerTimeMs,
	}, nil
}

func (s *Submitter) release(position int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.submitted, position)
}

func (s *Submitter) enqueue(req rpc.SubmitAnswerRequest) {
	s.outbox.Enqueue(Pending{Request: req, QueuedAt: s.opts.Clock.Now()})
	s.opts.Logger.Warn().
		Int("question_position", req.QuestionPosition).
		Int("queued", s.outbox.Len()).
		Msg("answer queued until connection returns")
}

func (s *Submitter) refreshLeaderboard(ctx context.Context) {
	if err := s.opts.RefreshLeaderboard(ctx); err != nil {
		s.opts.Logger.Error().Err(err).Msg("leaderboard refresh after answer failed")
	}
}
