package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/mcdev12/festtrivia/go/internal/models"
	"github.com/mcdev12/festtrivia/go/internal/realtime/events"
	"github.com/mcdev12/festtrivia/go/internal/sqlutil"
	"github.com/rs/zerolog"
)

//go:embed schema.sql
var schema string

// QuestionRecord is a question row including the answer key, which never leaves the backend.
type QuestionRecord struct {
	models.Question
	CorrectOption string
}

// Open opens and pings a lib/pq database handle.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	database, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	if err := database.PingContext(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return database, nil
}

// Writer mirrors change events into the game tables and announces them with NOTIFY in the
// same transaction, so listeners only see committed rows.
type Writer struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewWriter(db *sql.DB, logger zerolog.Logger) *Writer {
	return &Writer{db: db, logger: logger}
}

// Migrate creates the game tables if they do not exist.
func (w *Writer) Migrate(ctx context.Context) error {
	if _, err := w.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// SaveGame upserts a game and its questions.
func (w *Writer) SaveGame(ctx context.Context, state models.GameState, questions []QuestionRecord) error {
	return sqlutil.Run(ctx, w.db, func(tx *sql.Tx) error {
		query, args := gameStateUpsert(state)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to save game %s: %w", state.ID, err)
		}
		for _, q := range questions {
			options, err := json.Marshal(q.Options)
			if err != nil {
				return fmt.Errorf("failed to marshal options: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO questions (id, game_id, position, text, options, correct_option, time_limit_sec)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (game_id, position) DO UPDATE SET
				  text = EXCLUDED.text,
				  options = EXCLUDED.options,
				  correct_option = EXCLUDED.correct_option,
				  time_limit_sec = EXCLUDED.time_limit_sec`,
				q.ID, state.ID, q.Position, q.Text, options, q.CorrectOption, q.TimeLimitSec,
			); err != nil {
				return fmt.Errorf("failed to save question %d: %w", q.Position, err)
			}
		}
		return nil
	})
}

// Publish writes the row an event carries and notifies the feed's channel.
func (w *Writer) Publish(ctx context.Context, ev events.ChangeEvent) error {
	query, args, err := rowStatement(ev)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	err = sqlutil.Run(ctx, w.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to write %s row: %w", ev.Feed, err)
		}
		if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, events.Channel(ev.Feed), string(payload)); err != nil {
			return fmt.Errorf("failed to notify %s: %w", events.Channel(ev.Feed), err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	w.logger.Debug().
		Str("event_id", ev.ID).
		Str("feed", string(ev.Feed)).
		Str("game_id", ev.GameID.String()).
		Msg("change event written and notified")
	return nil
}

// rowStatement builds the statement that applies ev to its table.
func rowStatement(ev events.ChangeEvent) (string, []any, error) {
	payload, err := events.ParsePayload(&ev)
	if err != nil {
		return "", nil, fmt.Errorf("failed to parse %s payload: %w", ev.Feed, err)
	}

	switch row := payload.(type) {
	case models.GameState:
		if ev.Op == events.OpDelete {
			return `DELETE FROM game_state WHERE id = $1`, []any{row.ID}, nil
		}
		query, args := gameStateUpsert(row)
		return query, args, nil

	case models.Participant:
		if ev.Op == events.OpDelete {
			return `DELETE FROM participants WHERE id = $1`, []any{row.ID}, nil
		}
		return `
			INSERT INTO participants (id, game_id, name, joined_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
			[]any{row.ID, row.GameID, row.Name, row.JoinedAt}, nil

	case models.Answer:
		if ev.Op == events.OpDelete {
			return `DELETE FROM answers WHERE id = $1`, []any{row.ID}, nil
		}
		return `
			INSERT INTO answers (id, game_id, player_id, question_position, option_id, is_correct, points, answer_time_ms, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (game_id, player_id, question_position) DO NOTHING`,
			[]any{row.ID, row.GameID, row.PlayerID, row.QuestionPosition, row.OptionID,
				row.IsCorrect, row.Points, row.AnswerTimeMs, row.CreatedAt}, nil

	case models.LeaderboardEntry:
		if ev.Op == events.OpDelete {
			return `DELETE FROM leaderboard WHERE game_id = $1 AND player_id = $2`, []any{ev.GameID, row.ID}, nil
		}
		return `
			INSERT INTO leaderboard (game_id, player_id, name, total_points, last_answer)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (game_id, player_id) DO UPDATE SET
			  name = EXCLUDED.name,
			  total_points = EXCLUDED.total_points,
			  last_answer = EXCLUDED.last_answer`,
			[]any{ev.GameID, row.ID, row.Name, row.TotalPoints, sqlutil.NullString(row.LastAnswer)}, nil

	default:
		return "", nil, fmt.Errorf("unsupported row type %T", payload)
	}
}

func gameStateUpsert(gs models.GameState) (string, []any) {
	return `
		INSERT INTO game_state (id, status, current_question, countdown, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
		  status = EXCLUDED.status,
		  current_question = EXCLUDED.current_question,
		  countdown = EXCLUDED.countdown,
		  started_at = EXCLUDED.started_at,
		  updated_at = EXCLUDED.updated_at`,
		[]any{gs.ID, string(gs.Status), gs.CurrentQuestion, gs.Countdown, sqlutil.NullTime(gs.StartedAt), gs.UpdatedAt}
}
