package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/festtrivia/go/internal/models"
)

var ErrNotFound = errors.New("store: not found")

// Querier defines what the reader needs from the database layer. *pgxpool.Pool satisfies it.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Connect opens a pgx pool and pings it.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// Reader reads game tables directly, as a client of the hosted backend does.
type Reader struct {
	queries Querier
}

func NewReader(querier Querier) *Reader {
	return &Reader{queries: querier}
}

const gameStateQuery = `
	SELECT id, status, current_question, countdown, started_at, updated_at
	FROM game_state
	WHERE id = $1`

func (r *Reader) GameState(ctx context.Context, gameID uuid.UUID) (*models.GameState, error) {
	var (
		gs        models.GameState
		status    string
		startedAt *time.Time
	)
	err := r.queries.QueryRow(ctx, gameStateQuery, gameID).
		Scan(&gs.ID, &status, &gs.CurrentQuestion, &gs.Countdown, &startedAt, &gs.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("game %s: %w", gameID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get game state: %w", err)
	}
	gs.Status = models.GameStatus(status)
	gs.StartedAt = startedAt
	return &gs, nil
}

const leaderboardQuery = `
	SELECT player_id, name, total_points, last_answer
	FROM leaderboard
	WHERE game_id = $1
	ORDER BY total_points DESC, name ASC`

func (r *Reader) Leaderboard(ctx context.Context, gameID uuid.UUID) ([]models.LeaderboardEntry, error) {
	rows, err := r.queries.Query(ctx, leaderboardQuery, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []models.LeaderboardEntry
	for rows.Next() {
		var (
			entry      models.LeaderboardEntry
			lastAnswer *string
		)
		if err := rows.Scan(&entry.ID, &entry.Name, &entry.TotalPoints, &lastAnswer); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		if lastAnswer != nil {
			outcome := models.AnswerOutcome(*lastAnswer)
			entry.LastAnswer = &outcome
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}

	return models.RankEntries(entries), nil
}

const questionQuery = `
	SELECT id, game_id, position, text, options, time_limit_sec
	FROM questions
	WHERE game_id = $1 AND position = $2`

func (r *Reader) Question(ctx context.Context, gameID uuid.UUID, position int) (*models.Question, error) {
	var (
		q       models.Question
		options []byte
	)
	err := r.queries.QueryRow(ctx, questionQuery, gameID, position).
		Scan(&q.ID, &q.GameID, &q.Position, &q.Text, &options, &q.TimeLimitSec)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("question %d of game %s: %w", position, gameID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	if err := json.Unmarshal(options, &q.Options); err != nil {
		return nil, fmt.Errorf("failed to unmarshal question options: %w", err)
	}
	return &q, nil
}
