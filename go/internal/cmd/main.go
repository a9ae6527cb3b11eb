package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/mcdev12/festtrivia/go/internal/models"
	"github.com/mcdev12/festtrivia/go/internal/realtime/answer"
	"github.com/mcdev12/festtrivia/go/internal/realtime/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := loadConfig(getEnv("TRIVIA_CONFIG", "trivia.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := setupServices(ctx, cfg, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up trivia session")
	}
	defer svc.Close()

	if err := run(ctx, cfg, svc); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("trivia client stopped")
	}
}

func run(ctx context.Context, cfg *Config, svc *Services) error {
	sess := svc.Session
	if err := sess.Connect(ctx); err != nil {
		return err
	}

	gameID, err := pickGame(ctx, cfg, svc)
	if err != nil {
		return err
	}

	name := cfg.PlayerName
	if name == "" {
		name = "player-" + uuid.NewString()[:8]
	}
	player, err := svc.Client.JoinGame(ctx, gameID, name)
	if err != nil {
		return err
	}
	if err := sess.SwitchGame(ctx, gameID, player.ID); err != nil {
		return err
	}

	log.Info().
		Str("game_id", gameID.String()).
		Str("player", name).
		Msg("joined game; type an option id and press enter to answer")

	go printUpdates(sess)
	return readAnswers(ctx, sess)
}

// pickGame uses the configured game or the most recent active one on the backend.
func pickGame(ctx context.Context, cfg *Config, svc *Services) (uuid.UUID, error) {
	if cfg.GameID != "" {
		return uuid.Parse(cfg.GameID)
	}

	body, err := svc.Client.Get(ctx, "/api/games")
	if err != nil {
		return uuid.Nil, fmt.Errorf("list games: %w", err)
	}
	var games []models.GameState
	if err := json.Unmarshal(body, &games); err != nil {
		return uuid.Nil, fmt.Errorf("decode games: %w", err)
	}
	for _, g := range games {
		if g.IsActive() {
			return g.ID, nil
		}
	}
	return uuid.Nil, errors.New("no active game; set TRIVIA_GAME_ID")
}

func printUpdates(sess *session.Session) {
	for u := range sess.Updates() {
		switch u.Kind {
		case session.UpdateGameState:
			log.Info().
				Str("status", string(u.GameState.Status)).
				Int("question", u.GameState.CurrentQuestion).
				Int("remaining", sess.Remaining()).
				Msg("game")
		case session.UpdateQuestion:
			fmt.Printf("\nQ%d: %s\n", u.Question.Position, u.Question.Text)
			for _, o := range u.Question.Options {
				fmt.Printf("  [%s] %s\n", o.ID, o.Text)
			}
		case session.UpdateLeaderboard:
			for _, e := range u.Leaderboard {
				if e.Rank > 5 {
					break
				}
				fmt.Printf("  %d. %-20s %5d\n", e.Rank, e.Name, e.TotalPoints)
			}
		case session.UpdateParticipant:
			log.Info().Str("name", u.Participant.Name).Msg("player joined")
		case session.UpdateAnswer:
			log.Info().
				Int("question", u.Position).
				Bool("correct", u.Answer.IsCorrect).
				Int("points", u.Answer.Points).
				Msg("answer scored")
		}
	}
}

func readAnswers(ctx context.Context, sess *session.Session) error {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok || line == "q" {
				return nil
			}
			if line == "" {
				continue
			}
			answerCurrent(ctx, sess, line)
		}
	}
}

func answerCurrent(ctx context.Context, sess *session.Session, optionID string) {
	gs := sess.GameState()
	q := sess.Question()
	if gs == nil || gs.Status != models.GameStatusQuestion || q == nil || q.Position != gs.CurrentQuestion {
		fmt.Println("no open question")
		return
	}
	if !q.HasOption(optionID) {
		fmt.Printf("unknown option %q\n", optionID)
		return
	}

	elapsed := sess.ServerNow().Sub(gs.UpdatedAt).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	_, err := sess.Submit(ctx, q.Position, optionID, int(elapsed))
	switch {
	case err == nil:
	case errors.Is(err, answer.ErrQueued):
		fmt.Println("answer queued until the connection returns")
	case errors.Is(err, answer.ErrAlreadySubmitted):
		fmt.Println("already answered")
	default:
		fmt.Printf("answer failed: %v\n", err)
	}
}
