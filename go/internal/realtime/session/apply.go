package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/festtrivia/go/internal/models"
	"github.com/mcdev12/festtrivia/go/internal/realtime/events"
	"github.com/mcdev12/festtrivia/go/internal/rpc"
	"golang.org/x/sync/errgroup"
)

type UpdateKind string

const (
	UpdateGameState   UpdateKind = "game_state"
	UpdateLeaderboard UpdateKind = "leaderboard"
	UpdateQuestion    UpdateKind = "question"
	UpdateParticipant UpdateKind = "participant"
	UpdateAnswer      UpdateKind = "answer"
)

// Update carries the snapshot that changed; only the field matching Kind is set.
type Update struct {
	Kind        UpdateKind
	GameState   *models.GameState
	Leaderboard []models.LeaderboardEntry
	Question    *models.Question
	Participant *models.Participant
	Answer      *models.AnswerResult
	Position    int // question position of an Answer
}

func (s *Session) consume(gen uint64, f events.FeedType, ch <-chan events.ChangeEvent) {
	for ev := range ch {
		s.apply(gen, ev)
	}
	s.deps.Logger.Debug().Str("feed", string(f)).Msg("feed consumer stopped")
}

func (s *Session) apply(gen uint64, ev events.ChangeEvent) {
	if !s.current(gen) {
		return
	}

	payload, err := events.ParsePayload(&ev)
	if err != nil {
		s.deps.Logger.Error().Err(err).Str("event_id", ev.ID).Str("feed", string(ev.Feed)).Msg("failed to parse change event")
		return
	}

	switch row := payload.(type) {
	case models.GameState:
		if ev.Op == events.OpDelete {
			return
		}
		s.applyGameState(gen, &row)
	case models.Participant:
		s.emit(Update{Kind: UpdateParticipant, Participant: &row})
		s.refreshFor(gen)
	case models.Answer, models.LeaderboardEntry:
		s.refreshFor(gen)
	}
}

// applyGameState stores gs unless it is older than what we hold. A new question position
// triggers a question fetch.
func (s *Session) applyGameState(gen uint64, gs *models.GameState) {
	s.mu.Lock()
	if s.closed || s.gen != gen || gs.ID != s.gameID {
		s.mu.Unlock()
		return
	}
	if s.game != nil && gs.UpdatedAt.Before(s.game.UpdatedAt) {
		s.mu.Unlock()
		s.deps.Logger.Debug().
			Time("updated_at", gs.UpdatedAt).
			Time("current", s.game.UpdatedAt).
			Msg("ignoring out of date game state")
		return
	}
	newer := s.game == nil || gs.UpdatedAt.After(s.game.UpdatedAt)
	state := *gs
	s.game = &state
	needQuestion := state.CurrentQuestion > 0 &&
		(s.question == nil || s.question.Position != state.CurrentQuestion)
	s.mu.Unlock()

	if newer {
		s.tracker.Touch(s.deps.Clock.Now())
	}
	s.emit(Update{Kind: UpdateGameState, GameState: &state})
	if needQuestion {
		go func() {
			if err := s.fetchQuestion(s.ctx, gen, state.CurrentQuestion); err != nil {
				s.deps.Logger.Error().Err(err).Int("position", state.CurrentQuestion).Msg("question fetch failed")
			}
		}()
	}
}

func (s *Session) refreshFor(gen uint64) {
	if !s.current(gen) {
		return
	}
	if err := s.refreshLeaderboard(s.ctx); err != nil {
		s.deps.Logger.Error().Err(err).Msg("leaderboard refresh failed")
	}
}

// fetchGameState is the staleness watchdog's forced fetch.
func (s *Session) fetchGameState(ctx context.Context) error {
	gen, gameID := s.snapshotGen()
	if gameID == uuid.Nil {
		return ErrNoGame
	}
	gs, err := s.deps.Data.GameState(ctx, gameID)
	if err != nil {
		return fmt.Errorf("fetch game state: %w", err)
	}
	s.applyGameState(gen, gs)
	return nil
}

func (s *Session) refreshLeaderboard(ctx context.Context) error {
	gen, gameID := s.snapshotGen()
	if gameID == uuid.Nil {
		return ErrNoGame
	}
	return s.fetchLeaderboard(ctx, gen, gameID)
}

func (s *Session) fetchLeaderboard(ctx context.Context, gen uint64, gameID uuid.UUID) error {
	entries, err := s.deps.Data.Leaderboard(ctx, gameID)
	if err != nil {
		return fmt.Errorf("fetch leaderboard: %w", err)
	}
	ranked := models.RankEntries(entries)

	s.mu.Lock()
	if s.closed || s.gen != gen {
		s.mu.Unlock()
		return nil
	}
	s.board = ranked
	s.mu.Unlock()

	s.emit(Update{Kind: UpdateLeaderboard, Leaderboard: append([]models.LeaderboardEntry(nil), ranked...)})
	return nil
}

func (s *Session) fetchQuestion(ctx context.Context, gen uint64, position int) error {
	_, gameID := s.snapshotGen()
	q, err := s.deps.Data.Question(ctx, gameID, position)
	if err != nil {
		return fmt.Errorf("fetch question %d: %w", position, err)
	}

	s.mu.Lock()
	if s.closed || s.gen != gen {
		s.mu.Unlock()
		return nil
	}
	if s.game != nil && s.game.CurrentQuestion != position {
		// The game moved on while the fetch was in flight.
		s.mu.Unlock()
		return nil
	}
	question := *q
	s.question = &question
	s.mu.Unlock()

	s.emit(Update{Kind: UpdateQuestion, Question: &question})
	return nil
}

// refetchAll reloads game state, leaderboard and the current question together.
func (s *Session) refetchAll(ctx context.Context) error {
	s.mu.RLock()
	gen, gameID := s.gen, s.gameID
	position := 0
	if s.game != nil {
		position = s.game.CurrentQuestion
	}
	s.mu.RUnlock()

	if gameID == uuid.Nil {
		return ErrNoGame
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		gs, err := s.deps.Data.GameState(gctx, gameID)
		if err != nil {
			return fmt.Errorf("fetch game state: %w", err)
		}
		s.applyGameState(gen, gs)
		return nil
	})
	g.Go(func() error {
		return s.fetchLeaderboard(gctx, gen, gameID)
	})
	if position > 0 {
		g.Go(func() error {
			return s.fetchQuestion(gctx, gen, position)
		})
	}
	return g.Wait()
}

func (s *Session) answerFlushed(req rpc.SubmitAnswerRequest, result *models.AnswerResult) {
	s.emit(Update{Kind: UpdateAnswer, Answer: result, Position: req.QuestionPosition})
}
