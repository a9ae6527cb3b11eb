package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/festtrivia/go/internal/models"
	"github.com/mcdev12/festtrivia/go/internal/realtime/events"
	"github.com/mcdev12/festtrivia/go/internal/rpc"
	"github.com/rs/zerolog"
)

var (
	ErrGameNotFound     = errors.New("game not found")
	ErrGameFinished     = errors.New("game is finished")
	ErrQuestionClosed   = errors.New("question is not open for answers")
	ErrQuestionNotFound = errors.New("question not revealed")
	ErrInvalidOption    = errors.New("option does not belong to the question")
	ErrNotParticipant   = errors.New("player has not joined the game")
	ErrAlreadyAnswered  = errors.New("player already answered this question")
	ErrInvalidName      = errors.New("player name is required")
)

type gameQuestion struct {
	models.Question
	correct string
}

type game struct {
	state        models.GameState
	pack         *Pack
	questions    []gameQuestion
	participants map[uuid.UUID]models.Participant
	answers      map[uuid.UUID]map[int]models.Answer
	board        map[uuid.UUID]*models.LeaderboardEntry
	receipts     map[uuid.UUID]models.AnswerResult
	timer        clockwork.Timer
	seq          uint64
}

func (g *game) currentQuestion() *gameQuestion {
	i := g.state.CurrentQuestion - 1
	if i < 0 || i >= len(g.questions) {
		return nil
	}
	return &g.questions[i]
}

// Engine runs games in memory: it advances phases on timers, scores answers and
// publishes every row change.
type Engine struct {
	clock     clockwork.Clock
	logger    zerolog.Logger
	publisher Publisher

	mu    sync.Mutex
	games map[uuid.UUID]*game
}

func NewEngine(publisher Publisher, clock clockwork.Clock, logger zerolog.Logger) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		clock:     clock,
		logger:    logger,
		publisher: publisher,
		games:     make(map[uuid.UUID]*game),
	}
}

// CreateGame opens a lobby for pack. With autoStart the game begins after the lobby
// countdown and then advances on its own.
func (e *Engine) CreateGame(ctx context.Context, pack *Pack, autoStart bool) (models.GameState, error) {
	if err := pack.Validate(); err != nil {
		return models.GameState{}, err
	}

	id := uuid.New()
	now := e.clock.Now()
	g := &game{
		state: models.GameState{
			ID:        id,
			Status:    models.GameStatusWaiting,
			Countdown: int(pack.lobby() / time.Second),
			UpdatedAt: now,
		},
		pack:         pack,
		questions:    pack.questionsFor(id),
		participants: make(map[uuid.UUID]models.Participant),
		answers:      make(map[uuid.UUID]map[int]models.Answer),
		board:        make(map[uuid.UUID]*models.LeaderboardEntry),
		receipts:     make(map[uuid.UUID]models.AnswerResult),
	}

	e.mu.Lock()
	e.games[id] = g
	if autoStart {
		e.scheduleLocked(g, pack.lobby())
	}
	state := g.state
	e.mu.Unlock()

	e.logger.Info().
		Str("game_id", id.String()).
		Str("title", pack.Title).
		Int("questions", len(g.questions)).
		Bool("auto_start", autoStart).
		Msg("game created")

	e.publish(ctx, id, events.FeedGameState, events.OpInsert, state)
	return state, nil
}

// Questions returns every question of a game with its answer key.
func (e *Engine) Questions(gameID uuid.UUID) ([]models.Question, []string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, ok := e.games[gameID]
	if !ok {
		return nil, nil, ErrGameNotFound
	}
	questions := make([]models.Question, len(g.questions))
	keys := make([]string, len(g.questions))
	for i, q := range g.questions {
		questions[i] = q.Question
		keys[i] = q.correct
	}
	return questions, keys, nil
}

// Advance moves a game to its next phase.
func (e *Engine) Advance(ctx context.Context, gameID uuid.UUID) (models.GameState, error) {
	e.mu.Lock()
	g, ok := e.games[gameID]
	if !ok {
		e.mu.Unlock()
		return models.GameState{}, ErrGameNotFound
	}
	state, err := e.advanceLocked(g)
	e.mu.Unlock()
	if err != nil {
		return models.GameState{}, err
	}

	e.logger.Info().
		Str("game_id", gameID.String()).
		Str("status", string(state.Status)).
		Int("question", state.CurrentQuestion).
		Msg("game advanced")

	e.publish(ctx, gameID, events.FeedGameState, events.OpUpdate, state)
	return state, nil
}

func (e *Engine) advanceLocked(g *game) (models.GameState, error) {
	now := e.clock.Now()
	st := &g.state

	var next time.Duration
	switch st.Status {
	case models.GameStatusWaiting:
		st.Status = models.GameStatusQuestion
		st.CurrentQuestion = 1
		started := now
		st.StartedAt = &started
		next = time.Duration(g.questions[0].TimeLimitSec) * time.Second
	case models.GameStatusQuestion:
		st.Status = models.GameStatusResult
		next = g.pack.result()
	case models.GameStatusResult:
		st.Status = models.GameStatusLeaderboard
		next = g.pack.leaderboard()
	case models.GameStatusLeaderboard:
		if st.CurrentQuestion >= len(g.questions) {
			st.Status = models.GameStatusFinished
			next = 0
			break
		}
		st.Status = models.GameStatusQuestion
		st.CurrentQuestion++
		next = time.Duration(g.currentQuestion().TimeLimitSec) * time.Second
	default:
		return models.GameState{}, ErrGameFinished
	}

	st.Countdown = int(next / time.Second)
	st.UpdatedAt = now
	e.cancelTimerLocked(g)
	if next > 0 {
		e.scheduleLocked(g, next)
	}
	return *st, nil
}

// scheduleLocked arms the phase timer. A timer replaced by a manual advance is ignored
// when it fires.
func (e *Engine) scheduleLocked(g *game, after time.Duration) {
	e.cancelTimerLocked(g)
	g.seq++
	seq := g.seq
	id := g.state.ID

	g.timer = e.clock.AfterFunc(after, func() {
		e.mu.Lock()
		if g.seq != seq {
			e.mu.Unlock()
			return
		}
		g.timer = nil
		state, err := e.advanceLocked(g)
		e.mu.Unlock()
		if err != nil {
			return
		}

		e.logger.Debug().
			Str("game_id", id.String()).
			Str("status", string(state.Status)).
			Msg("phase timer fired")
		e.publish(context.Background(), id, events.FeedGameState, events.OpUpdate, state)
	})

	e.logger.Debug().
		Str("game_id", id.String()).
		Dur("duration", after).
		Msg("scheduled phase timer")
}

func (e *Engine) cancelTimerLocked(g *game) {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.seq++
}

// Join adds a player to a game and to its leaderboard.
func (e *Engine) Join(ctx context.Context, gameID uuid.UUID, name string) (models.Participant, error) {
	if name == "" {
		return models.Participant{}, ErrInvalidName
	}

	e.mu.Lock()
	g, ok := e.games[gameID]
	if !ok {
		e.mu.Unlock()
		return models.Participant{}, ErrGameNotFound
	}
	if g.state.Status.IsTerminal() {
		e.mu.Unlock()
		return models.Participant{}, ErrGameFinished
	}
	p := models.Participant{
		ID:       uuid.New(),
		GameID:   gameID,
		Name:     name,
		JoinedAt: e.clock.Now(),
	}
	g.participants[p.ID] = p
	g.answers[p.ID] = make(map[int]models.Answer)
	entry := &models.LeaderboardEntry{ID: p.ID, Name: name}
	g.board[p.ID] = entry
	row := *entry
	e.mu.Unlock()

	e.logger.Info().
		Str("game_id", gameID.String()).
		Str("player_id", p.ID.String()).
		Str("name", name).
		Msg("player joined")

	e.publish(ctx, gameID, events.FeedParticipants, events.OpInsert, p)
	e.publish(ctx, gameID, events.FeedLeaderboard, events.OpInsert, row)
	return p, nil
}

// SubmitAnswer scores an answer to the open question. A repeated idempotency key returns
// the original result.
func (e *Engine) SubmitAnswer(ctx context.Context, req rpc.SubmitAnswerRequest) (models.AnswerResult, error) {
	e.mu.Lock()
	g, ok := e.games[req.GameID]
	if !ok {
		e.mu.Unlock()
		return models.AnswerResult{}, ErrGameNotFound
	}
	if req.IdempotencyKey != uuid.Nil {
		if receipt, seen := g.receipts[req.IdempotencyKey]; seen {
			e.mu.Unlock()
			return receipt, nil
		}
	}
	answers, joined := g.answers[req.PlayerID]
	if !joined {
		e.mu.Unlock()
		return models.AnswerResult{}, ErrNotParticipant
	}
	q := g.currentQuestion()
	if g.state.Status != models.GameStatusQuestion || q == nil || q.Position != req.QuestionPosition {
		e.mu.Unlock()
		return models.AnswerResult{}, ErrQuestionClosed
	}
	if !q.HasOption(req.OptionID) {
		e.mu.Unlock()
		return models.AnswerResult{}, ErrInvalidOption
	}
	if _, done := answers[req.QuestionPosition]; done {
		e.mu.Unlock()
		return models.AnswerResult{}, ErrAlreadyAnswered
	}

	correct := req.OptionID == q.correct
	result := models.AnswerResult{
		IsCorrect:     correct,
		Points:        Score(correct, req.AnswerTimeMs, q.TimeLimitSec),
		CorrectOption: q.correct,
	}
	answer := models.Answer{
		ID:               uuid.New(),
		GameID:           req.GameID,
		PlayerID:         req.PlayerID,
		QuestionPosition: req.QuestionPosition,
		OptionID:         req.OptionID,
		IsCorrect:        correct,
		Points:           result.Points,
		AnswerTimeMs:     req.AnswerTimeMs,
		CreatedAt:        e.clock.Now(),
	}
	answers[req.QuestionPosition] = answer
	if req.IdempotencyKey != uuid.Nil {
		g.receipts[req.IdempotencyKey] = result
	}

	entry := g.board[req.PlayerID]
	entry.TotalPoints += result.Points
	outcome := models.OutcomeOf(correct)
	entry.LastAnswer = &outcome
	row := *entry
	e.mu.Unlock()

	e.logger.Info().
		Str("game_id", req.GameID.String()).
		Str("player_id", req.PlayerID.String()).
		Int("question_position", req.QuestionPosition).
		Bool("is_correct", correct).
		Int("points", result.Points).
		Msg("answer scored")

	e.publish(ctx, req.GameID, events.FeedAnswers, events.OpInsert, answer)
	e.publish(ctx, req.GameID, events.FeedLeaderboard, events.OpUpdate, row)
	return result, nil
}

func (e *Engine) State(gameID uuid.UUID) (models.GameState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.games[gameID]
	if !ok {
		return models.GameState{}, ErrGameNotFound
	}
	return g.state, nil
}

// Leaderboard returns the ranked standings of a game.
func (e *Engine) Leaderboard(gameID uuid.UUID) ([]models.LeaderboardEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.games[gameID]
	if !ok {
		return nil, ErrGameNotFound
	}
	entries := make([]models.LeaderboardEntry, 0, len(g.board))
	for _, entry := range g.board {
		entries = append(entries, *entry)
	}
	return models.RankEntries(entries), nil
}

// Question returns a question once it has been revealed. The answer key is not included.
func (e *Engine) Question(gameID uuid.UUID, position int) (models.Question, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.games[gameID]
	if !ok {
		return models.Question{}, ErrGameNotFound
	}
	if position < 1 || position > g.state.CurrentQuestion || position > len(g.questions) {
		return models.Question{}, fmt.Errorf("question %d: %w", position, ErrQuestionNotFound)
	}
	return g.questions[position-1].Question, nil
}

// Games lists every game, most recently updated first.
func (e *Engine) Games() []models.GameState {
	e.mu.Lock()
	defer e.mu.Unlock()
	states := make([]models.GameState, 0, len(e.games))
	for _, g := range e.games {
		states = append(states, g.state)
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].UpdatedAt.After(states[j].UpdatedAt)
	})
	return states
}

// Stop cancels every phase timer.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, g := range e.games {
		e.cancelTimerLocked(g)
	}
}

func (e *Engine) publish(ctx context.Context, gameID uuid.UUID, feed events.FeedType, op events.Op, record any) {
	if e.publisher == nil {
		return
	}
	ev, err := events.NewChangeEvent(gameID, feed, op, e.clock.Now(), record)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to build change event")
		return
	}
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.logger.Error().
			Err(err).
			Str("game_id", gameID.String()).
			Str("feed", string(feed)).
			Msg("failed to publish change event")
	}
}
