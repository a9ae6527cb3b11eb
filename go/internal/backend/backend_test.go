package backend

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/festtrivia/go/internal/models"
	"github.com/mcdev12/festtrivia/go/internal/realtime/events"
	"github.com/mcdev12/festtrivia/go/internal/rpc"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.ChangeEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) count(feed events.FeedType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Feed == feed {
			n++
		}
	}
	return n
}

func testPack() *Pack {
	return &Pack{
		Title:          "test",
		LobbySec:       10,
		ResultSec:      5,
		LeaderboardSec: 5,
		Questions: []PackQuestion{
			{
				Text:         "First?",
				TimeLimitSec: 20,
				Correct:      "a",
				Options:      []models.Option{{ID: "a", Text: "yes"}, {ID: "b", Text: "no"}},
			},
			{
				Text:         "Second?",
				TimeLimitSec: 10,
				Correct:      "b",
				Options:      []models.Option{{ID: "a", Text: "yes"}, {ID: "b", Text: "no"}},
			},
		},
	}
}

func newTestEngine(t *testing.T) (*Engine, *recordingPublisher, *clockwork.FakeClock) {
	t.Helper()
	pub := &recordingPublisher{}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 7, 4, 20, 0, 0, 0, time.UTC))
	engine := NewEngine(pub, clock, zerolog.Nop())
	t.Cleanup(engine.Stop)
	return engine, pub, clock
}

func TestScore(t *testing.T) {
	tests := []struct {
		name    string
		correct bool
		ms      int
		limit   int
		want    int
	}{
		{"four seconds of twenty", true, 4000, 20, 140},
		{"instant", true, 0, 20, 150},
		{"at the limit", true, 20000, 20, 100},
		{"past the limit", true, 25000, 20, 100},
		{"negative time", true, -10, 20, 150},
		{"wrong answer", false, 1000, 20, 0},
		{"no limit", true, 1000, 0, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.correct, tt.ms, tt.limit))
		})
	}
}

func TestDefaultPack(t *testing.T) {
	pack, err := DefaultPack()
	require.NoError(t, err)
	assert.NotEmpty(t, pack.Title)
	assert.Len(t, pack.Questions, 4)
	assert.Equal(t, 30*time.Second, pack.lobby())
}

func TestParsePack_Invalid(t *testing.T) {
	_, err := ParsePack([]byte("title: empty\nquestions: []\n"))
	assert.Error(t, err)

	_, err = ParsePack([]byte(`
questions:
  - text: Q
    time_limit_sec: 10
    correct: z
    options:
      - { id: a, text: A }
      - { id: b, text: B }
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "correct option")
}

func TestEngine_ManualAdvanceWalksEveryPhase(t *testing.T) {
	engine, pub, _ := newTestEngine(t)
	ctx := context.Background()

	state, err := engine.CreateGame(ctx, testPack(), false)
	require.NoError(t, err)
	assert.Equal(t, models.GameStatusWaiting, state.Status)
	assert.Equal(t, 10, state.Countdown)

	want := []struct {
		status   models.GameStatus
		question int
	}{
		{models.GameStatusQuestion, 1},
		{models.GameStatusResult, 1},
		{models.GameStatusLeaderboard, 1},
		{models.GameStatusQuestion, 2},
		{models.GameStatusResult, 2},
		{models.GameStatusLeaderboard, 2},
		{models.GameStatusFinished, 2},
	}
	for _, w := range want {
		state, err = engine.Advance(ctx, state.ID)
		require.NoError(t, err)
		assert.Equal(t, w.status, state.Status)
		assert.Equal(t, w.question, state.CurrentQuestion)
	}
	assert.Equal(t, 0, state.Countdown)
	assert.NotNil(t, state.StartedAt)

	_, err = engine.Advance(ctx, state.ID)
	assert.ErrorIs(t, err, ErrGameFinished)
	assert.Equal(t, 1+len(want), pub.count(events.FeedGameState))
}

func TestEngine_TimersAdvancePhases(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	state, err := engine.CreateGame(ctx, testPack(), true)
	require.NoError(t, err)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool {
		s, _ := engine.State(state.ID)
		return s.Status == models.GameStatusQuestion
	}, time.Second, 5*time.Millisecond)

	s, err := engine.State(state.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, s.Countdown)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(20 * time.Second)
	require.Eventually(t, func() bool {
		s, _ := engine.State(state.ID)
		return s.Status == models.GameStatusResult
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_ManualAdvanceReplacesTimer(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	state, err := engine.CreateGame(ctx, testPack(), true)
	require.NoError(t, err)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	_, err = engine.Advance(ctx, state.ID)
	require.NoError(t, err)

	// Only the question timer is armed; the lobby timer must not advance again.
	clock.Advance(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	s, err := engine.State(state.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GameStatusQuestion, s.Status)
}

func TestEngine_SubmitAnswer(t *testing.T) {
	engine, pub, _ := newTestEngine(t)
	ctx := context.Background()

	state, err := engine.CreateGame(ctx, testPack(), false)
	require.NoError(t, err)
	player, err := engine.Join(ctx, state.ID, "Ada")
	require.NoError(t, err)

	req := rpc.SubmitAnswerRequest{
		IdempotencyKey:   uuid.New(),
		GameID:           state.ID,
		PlayerID:         player.ID,
		QuestionPosition: 1,
		OptionID:         "a",
		AnswerTimeMs:     4000,
	}

	_, err = engine.SubmitAnswer(ctx, req)
	assert.ErrorIs(t, err, ErrQuestionClosed)

	_, err = engine.Advance(ctx, state.ID)
	require.NoError(t, err)

	result, err := engine.SubmitAnswer(ctx, req)
	require.NoError(t, err)
	assert.True(t, result.IsCorrect)
	assert.Equal(t, 140, result.Points)
	assert.Equal(t, "a", result.CorrectOption)

	again, err := engine.SubmitAnswer(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, result, again)

	req.IdempotencyKey = uuid.New()
	_, err = engine.SubmitAnswer(ctx, req)
	assert.ErrorIs(t, err, ErrAlreadyAnswered)

	board, err := engine.Leaderboard(state.ID)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, 140, board[0].TotalPoints)
	assert.Equal(t, 1, board[0].Rank)
	require.NotNil(t, board[0].LastAnswer)
	assert.Equal(t, models.AnswerCorrect, *board[0].LastAnswer)

	assert.Equal(t, 1, pub.count(events.FeedAnswers))
	assert.Equal(t, 1, pub.count(events.FeedParticipants))
	assert.Equal(t, 2, pub.count(events.FeedLeaderboard))
}

func TestEngine_SubmitAnswerRejections(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	state, err := engine.CreateGame(ctx, testPack(), false)
	require.NoError(t, err)
	player, err := engine.Join(ctx, state.ID, "Grace")
	require.NoError(t, err)
	_, err = engine.Advance(ctx, state.ID)
	require.NoError(t, err)

	_, err = engine.SubmitAnswer(ctx, rpc.SubmitAnswerRequest{GameID: uuid.New(), PlayerID: player.ID, QuestionPosition: 1, OptionID: "a"})
	assert.ErrorIs(t, err, ErrGameNotFound)

	_, err = engine.SubmitAnswer(ctx, rpc.SubmitAnswerRequest{GameID: state.ID, PlayerID: uuid.New(), QuestionPosition: 1, OptionID: "a"})
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = engine.SubmitAnswer(ctx, rpc.SubmitAnswerRequest{GameID: state.ID, PlayerID: player.ID, QuestionPosition: 1, OptionID: "z"})
	assert.ErrorIs(t, err, ErrInvalidOption)

	_, err = engine.SubmitAnswer(ctx, rpc.SubmitAnswerRequest{GameID: state.ID, PlayerID: player.ID, QuestionPosition: 2, OptionID: "a"})
	assert.ErrorIs(t, err, ErrQuestionClosed)

	result, err := engine.SubmitAnswer(ctx, rpc.SubmitAnswerRequest{GameID: state.ID, PlayerID: player.ID, QuestionPosition: 1, OptionID: "b", AnswerTimeMs: 1000})
	require.NoError(t, err)
	assert.False(t, result.IsCorrect)
	assert.Equal(t, 0, result.Points)
	assert.Equal(t, "a", result.CorrectOption)
}

func TestEngine_JoinAndQuestionVisibility(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	state, err := engine.CreateGame(ctx, testPack(), false)
	require.NoError(t, err)

	_, err = engine.Join(ctx, state.ID, "")
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = engine.Join(ctx, uuid.New(), "Ada")
	assert.ErrorIs(t, err, ErrGameNotFound)

	_, err = engine.Question(state.ID, 1)
	assert.ErrorIs(t, err, ErrQuestionNotFound)

	_, err = engine.Advance(ctx, state.ID)
	require.NoError(t, err)
	q, err := engine.Question(state.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "First?", q.Text)
	assert.Equal(t, 20, q.TimeLimitSec)

	_, err = engine.Question(state.ID, 2)
	assert.ErrorIs(t, err, ErrQuestionNotFound)

	questions, keys, err := engine.Questions(state.ID)
	require.NoError(t, err)
	assert.Len(t, questions, 2)
	assert.Equal(t, []string{"a", "b"}, keys)
}

func TestEngine_LeaderboardRanksTies(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	state, err := engine.CreateGame(ctx, testPack(), false)
	require.NoError(t, err)
	a, _ := engine.Join(ctx, state.ID, "Ada")
	b, _ := engine.Join(ctx, state.ID, "Bea")
	c, _ := engine.Join(ctx, state.ID, "Cy")
	_, err = engine.Advance(ctx, state.ID)
	require.NoError(t, err)

	for _, p := range []uuid.UUID{a.ID, b.ID} {
		_, err := engine.SubmitAnswer(ctx, rpc.SubmitAnswerRequest{GameID: state.ID, PlayerID: p, QuestionPosition: 1, OptionID: "a", AnswerTimeMs: 4000})
		require.NoError(t, err)
	}
	_, err = engine.SubmitAnswer(ctx, rpc.SubmitAnswerRequest{GameID: state.ID, PlayerID: c.ID, QuestionPosition: 1, OptionID: "b"})
	require.NoError(t, err)

	board, err := engine.Leaderboard(state.ID)
	require.NoError(t, err)
	require.Len(t, board, 3)
	assert.Equal(t, []int{1, 1, 3}, []int{board[0].Rank, board[1].Rank, board[2].Rank})
	assert.Equal(t, "Cy", board[2].Name)
}

func TestFanout_JoinsErrors(t *testing.T) {
	ok := &recordingPublisher{}
	failing := publisherFunc(func(context.Context, events.ChangeEvent) error { return assert.AnError })
	fanout := NewFanout(zerolog.Nop(), ok, failing)

	err := fanout.Publish(context.Background(), events.ChangeEvent{Feed: events.FeedAnswers})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, ok.count(events.FeedAnswers))
}

type publisherFunc func(context.Context, events.ChangeEvent) error

func (f publisherFunc) Publish(ctx context.Context, ev events.ChangeEvent) error { return f(ctx, ev) }
