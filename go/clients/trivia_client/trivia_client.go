package trivia_client

import (
	"context"
	"fmt"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/mcdev12/festtrivia/go/clients"
	"github.com/mcdev12/festtrivia/go/internal/models"
	"github.com/mcdev12/festtrivia/go/internal/rpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// TriviaClient calls the trivia game RPC surface of the backend.
type TriviaClient struct {
	*clients.BaseClient

	submitAnswer   *connect.Client[rpc.SubmitAnswerRequest, models.AnswerResult]
	advanceGame    *connect.Client[rpc.AdvanceGameRequest, models.GameState]
	getServerTime  *connect.Client[emptypb.Empty, timestamppb.Timestamp]
	getGameState   *connect.Client[rpc.GetGameStateRequest, models.GameState]
	getLeaderboard *connect.Client[rpc.GetLeaderboardRequest, rpc.GetLeaderboardResponse]
	getQuestion    *connect.Client[rpc.GetQuestionRequest, models.Question]
	joinGame       *connect.Client[rpc.JoinGameRequest, models.Participant]
}

func NewTriviaClient(baseURL, apiKey string) *TriviaClient {
	base := clients.NewBaseClient(baseURL)
	base.SetTimeout(10 * time.Second)
	if apiKey != "" {
		base.SetHeader(APIKeyHeader, apiKey)
	}

	httpClient := base.HTTPClient()
	opts := []connect.ClientOption{
		connect.WithCodec(rpc.Codec{}),
		connect.WithInterceptors(apiKeyInterceptor(apiKey)),
	}

	return &TriviaClient{
		BaseClient:     base,
		submitAnswer:   connect.NewClient[rpc.SubmitAnswerRequest, models.AnswerResult](httpClient, baseURL+rpc.SubmitAnswerProcedure, opts...),
		advanceGame:    connect.NewClient[rpc.AdvanceGameRequest, models.GameState](httpClient, baseURL+rpc.AdvanceGameProcedure, opts...),
		getServerTime:  connect.NewClient[emptypb.Empty, timestamppb.Timestamp](httpClient, baseURL+rpc.GetServerTimeProcedure, opts...),
		getGameState:   connect.NewClient[rpc.GetGameStateRequest, models.GameState](httpClient, baseURL+rpc.GetGameStateProcedure, opts...),
		getLeaderboard: connect.NewClient[rpc.GetLeaderboardRequest, rpc.GetLeaderboardResponse](httpClient, baseURL+rpc.GetLeaderboardProcedure, opts...),
		getQuestion:    connect.NewClient[rpc.GetQuestionRequest, models.Question](httpClient, baseURL+rpc.GetQuestionProcedure, opts...),
		joinGame:       connect.NewClient[rpc.JoinGameRequest, models.Participant](httpClient, baseURL+rpc.JoinGameProcedure, opts...),
	}
}

func apiKeyInterceptor(apiKey string) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if apiKey != "" && req.Spec().IsClient {
				req.Header().Set(APIKeyHeader, apiKey)
			}
			return next(ctx, req)
		}
	}
}

func (c *TriviaClient) SubmitAnswer(ctx context.Context, req rpc.SubmitAnswerRequest) (*models.AnswerResult, error) {
	resp, err := c.submitAnswer.CallUnary(ctx, connect.NewRequest(&req))
	if err != nil {
		return nil, fmt.Errorf("submit answer: %w", err)
	}
	return resp.Msg, nil
}

func (c *TriviaClient) AdvanceGame(ctx context.Context, gameID uuid.UUID) (*models.GameState, error) {
	resp, err := c.advanceGame.CallUnary(ctx, connect.NewRequest(&rpc.AdvanceGameRequest{GameID: gameID}))
	if err != nil {
		return nil, fmt.Errorf("advance game: %w", err)
	}
	return resp.Msg, nil
}

// ServerTime implements timesync.Fetcher.
func (c *TriviaClient) ServerTime(ctx context.Context) (time.Time, error) {
	resp, err := c.getServerTime.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return time.Time{}, fmt.Errorf("get server time: %w", err)
	}
	return resp.Msg.AsTime(), nil
}

func (c *TriviaClient) GameState(ctx context.Context, gameID uuid.UUID) (*models.GameState, error) {
	resp, err := c.getGameState.CallUnary(ctx, connect.NewRequest(&rpc.GetGameStateRequest{GameID: gameID}))
	if err != nil {
		return nil, fmt.Errorf("get game state: %w", err)
	}
	return resp.Msg, nil
}

func (c *TriviaClient) Leaderboard(ctx context.Context, gameID uuid.UUID) ([]models.LeaderboardEntry, error) {
	resp, err := c.getLeaderboard.CallUnary(ctx, connect.NewRequest(&rpc.GetLeaderboardRequest{GameID: gameID}))
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}
	return resp.Msg.Entries, nil
}

func (c *TriviaClient) Question(ctx context.Context, gameID uuid.UUID, position int) (*models.Question, error) {
	resp, err := c.getQuestion.CallUnary(ctx, connect.NewRequest(&rpc.GetQuestionRequest{GameID: gameID, Position: position}))
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}
	return resp.Msg, nil
}

func (c *TriviaClient) JoinGame(ctx context.Context, gameID uuid.UUID, name string) (*models.Participant, error) {
	resp, err := c.joinGame.CallUnary(ctx, connect.NewRequest(&rpc.JoinGameRequest{GameID: gameID, Name: name}))
	if err != nil {
		return nil, fmt.Errorf("join game: %w", err)
	}
	return resp.Msg, nil
}
