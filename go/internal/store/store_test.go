package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mcdev12/festtrivia/go/internal/models"
	"github.com/mcdev12/festtrivia/go/internal/realtime/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRow scans fixed values into the destinations by type.
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return errors.New("column count mismatch")
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *uuid.UUID:
			*p = r.values[i].(uuid.UUID)
		case *string:
			*p = r.values[i].(string)
		case *int:
			*p = r.values[i].(int)
		case **time.Time:
			*p = r.values[i].(*time.Time)
		case *time.Time:
			*p = r.values[i].(time.Time)
		case *[]byte:
			*p = r.values[i].([]byte)
		default:
			return errors.New("unsupported destination")
		}
	}
	return nil
}

type fakeQuerier struct {
	row     fakeRow
	lastSQL string
}

func (q *fakeQuerier) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	q.lastSQL = sql
	return q.row
}

func (q *fakeQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (q *fakeQuerier) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("not implemented")
}

func TestReader_GameState(t *testing.T) {
	gameID := uuid.New()
	started := time.Date(2026, 8, 1, 19, 0, 0, 0, time.UTC)
	updated := started.Add(2 * time.Minute)

	q := &fakeQuerier{row: fakeRow{values: []any{gameID, "question", 2, 20, &started, updated}}}
	gs, err := NewReader(q).GameState(context.Background(), gameID)
	require.NoError(t, err)

	assert.Equal(t, models.GameStatusQuestion, gs.Status)
	assert.Equal(t, 2, gs.CurrentQuestion)
	assert.Equal(t, 20, gs.Countdown)
	assert.Equal(t, &started, gs.StartedAt)
	assert.Equal(t, updated, gs.UpdatedAt)
	assert.Contains(t, q.lastSQL, "FROM game_state")
}

func TestReader_GameStateNotFound(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{err: pgx.ErrNoRows}}
	_, err := NewReader(q).GameState(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReader_QuestionDecodesOptions(t *testing.T) {
	gameID, questionID := uuid.New(), uuid.New()
	options := []byte(`[{"id":"a","text":"Harp"},{"id":"b","text":"Bagpipes"}]`)

	q := &fakeQuerier{row: fakeRow{values: []any{questionID, gameID, 3, "Which instrument opens the parade?", options, 20}}}
	question, err := NewReader(q).Question(context.Background(), gameID, 3)
	require.NoError(t, err)

	assert.Equal(t, 3, question.Position)
	require.Len(t, question.Options, 2)
	assert.True(t, question.HasOption("b"))
}

func TestRowStatement_PerFeed(t *testing.T) {
	gameID := uuid.New()
	correct := models.AnswerCorrect

	tests := []struct {
		name   string
		feed   events.FeedType
		op     events.Op
		record any
		table  string
		args   int
	}{
		{name: "game state upsert", feed: events.FeedGameState, op: events.OpUpdate,
			record: models.GameState{ID: gameID, Status: models.GameStatusResult}, table: "INSERT INTO game_state", args: 6},
		{name: "participant insert", feed: events.FeedParticipants, op: events.OpInsert,
			record: models.Participant{ID: uuid.New(), GameID: gameID, Name: "Ana"}, table: "INSERT INTO participants", args: 4},
		{name: "participant delete", feed: events.FeedParticipants, op: events.OpDelete,
			record: models.Participant{ID: uuid.New(), GameID: gameID}, table: "DELETE FROM participants", args: 1},
		{name: "answer insert", feed: events.FeedAnswers, op: events.OpInsert,
			record: models.Answer{ID: uuid.New(), GameID: gameID, QuestionPosition: 1}, table: "INSERT INTO answers", args: 9},
		{name: "leaderboard upsert", feed: events.FeedLeaderboard, op: events.OpUpdate,
			record: models.LeaderboardEntry{ID: uuid.New(), Name: "Ana", TotalPoints: 140, LastAnswer: &correct}, table: "INSERT INTO leaderboard", args: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := events.NewChangeEvent(gameID, tt.feed, tt.op, time.Now(), tt.record)
			require.NoError(t, err)

			query, args, err := rowStatement(ev)
			require.NoError(t, err)
			assert.True(t, strings.Contains(query, tt.table), query)
			assert.Len(t, args, tt.args)
		})
	}
}

func TestRowStatement_RejectsUnknownFeed(t *testing.T) {
	ev := events.ChangeEvent{GameID: uuid.New(), Feed: "votes", Data: []byte(`{}`)}
	_, _, err := rowStatement(ev)
	assert.Error(t, err)
}
