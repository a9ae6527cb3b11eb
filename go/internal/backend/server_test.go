package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/mcdev12/festtrivia/go/clients/trivia_client"
	"github.com/mcdev12/festtrivia/go/internal/models"
	"github.com/mcdev12/festtrivia/go/internal/realtime/events"
	"github.com/mcdev12/festtrivia/go/internal/realtime/feed"
	"github.com/mcdev12/festtrivia/go/internal/rpc"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testBackend struct {
	engine  *Engine
	gateway *Gateway
	server  *httptest.Server
	client  *trivia_client.TriviaClient
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()
	engine, _, clock := newTestEngine(t)

	gateway := NewGateway(DefaultGatewayConfig(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go gateway.Start(ctx)
	engine.publisher = NewFanout(zerolog.Nop(), gateway)

	service := NewService(engine, clock, zerolog.Nop())
	mux := NewMux(service, gateway, NewStateHandler(engine, zerolog.Nop()), zerolog.Nop())
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testBackend{
		engine:  engine,
		gateway: gateway,
		server:  server,
		client:  trivia_client.NewTriviaClient(server.URL, "test-key"),
	}
}

func TestService_GameRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	state, err := b.engine.CreateGame(ctx, testPack(), false)
	require.NoError(t, err)

	player, err := b.client.JoinGame(ctx, state.ID, "Ada")
	require.NoError(t, err)
	assert.Equal(t, "Ada", player.Name)

	advanced, err := b.client.AdvanceGame(ctx, state.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GameStatusQuestion, advanced.Status)

	got, err := b.client.GameState(ctx, state.ID)
	require.NoError(t, err)
	assert.Equal(t, advanced.Status, got.Status)
	assert.Equal(t, 1, got.CurrentQuestion)

	q, err := b.client.Question(ctx, state.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "First?", q.Text)
	require.Len(t, q.Options, 2)

	result, err := b.client.SubmitAnswer(ctx, rpc.SubmitAnswerRequest{
		IdempotencyKey:   uuid.New(),
		GameID:           state.ID,
		PlayerID:         player.ID,
		QuestionPosition: 1,
		OptionID:         "a",
		AnswerTimeMs:     4000,
	})
	require.NoError(t, err)
	assert.True(t, result.IsCorrect)
	assert.Equal(t, 140, result.Points)

	board, err := b.client.Leaderboard(ctx, state.ID)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, 140, board[0].TotalPoints)

	serverNow, err := b.client.ServerTime(ctx)
	require.NoError(t, err)
	assert.True(t, serverNow.Equal(b.engine.clock.Now()))
}

func TestService_ErrorCodes(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.client.GameState(ctx, uuid.New())
	require.Error(t, err)
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	state, err := b.engine.CreateGame(ctx, testPack(), false)
	require.NoError(t, err)

	_, err = b.client.JoinGame(ctx, state.ID, "")
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = b.client.SubmitAnswer(ctx, rpc.SubmitAnswerRequest{GameID: state.ID, PlayerID: uuid.New(), QuestionPosition: 1, OptionID: "a"})
	assert.Equal(t, connect.CodePermissionDenied, connect.CodeOf(err))
	assert.False(t, rpc.IsNetworkError(err))
}

func TestStateHandler(t *testing.T) {
	b := newTestBackend(t)
	state, err := b.engine.CreateGame(context.Background(), testPack(), false)
	require.NoError(t, err)

	resp, err := http.Get(b.server.URL + "/api/games/" + state.ID.String() + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got models.GameState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, state.ID, got.ID)

	missing, err := http.Get(b.server.URL + "/api/games/" + uuid.New().String() + "/state")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	health, err := http.Get(b.server.URL + trivia_client.HealthPath)
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestGateway_DeliversToFeedSubscribers(t *testing.T) {
	b := newTestBackend(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	state, err := b.engine.CreateGame(ctx, testPack(), false)
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(b.server.URL, "http") + trivia_client.FeedsPath
	source := feed.NewWebSocketSource(feed.DefaultWebSocketConfig(wsURL), zerolog.Nop())

	sub, err := source.Subscribe(ctx, state.ID, events.FeedGameState)
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool {
		return b.gateway.Subscribers(state.ID, events.FeedGameState) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, b.gateway.Stats().TotalConnections)

	_, err = b.engine.Advance(ctx, state.ID)
	require.NoError(t, err)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, events.FeedGameState, ev.Feed)
		payload, err := events.ParsePayload(&ev)
		require.NoError(t, err)
		assert.Equal(t, models.GameStatusQuestion, payload.(models.GameState).Status)
	case <-ctx.Done():
		t.Fatal("no event delivered")
	}

	// Other feeds of the same game are not delivered on this socket.
	_, err = b.engine.Join(ctx, state.ID, "Ada")
	require.NoError(t, err)
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event on game state feed: %s", ev.Feed)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGateway_RejectsBadSubscription(t *testing.T) {
	b := newTestBackend(t)

	resp, err := http.Get(b.server.URL + trivia_client.FeedsPath + "?game_id=nope&feed=gameState")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(b.server.URL + trivia_client.FeedsPath + "?game_id=" + uuid.NewString() + "&feed=scores")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
