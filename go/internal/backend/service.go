package backend

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/festtrivia/go/internal/models"
	"github.com/mcdev12/festtrivia/go/internal/rpc"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Service exposes the engine over the trivia RPC surface.
type Service struct {
	engine *Engine
	clock  clockwork.Clock
	logger zerolog.Logger
}

func NewService(engine *Engine, clock clockwork.Clock, logger zerolog.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{engine: engine, clock: clock, logger: logger}
}

// RegisterRoutes mounts one handler per procedure on mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	opts := []connect.HandlerOption{connect.WithCodec(rpc.Codec{})}

	mux.Handle(rpc.SubmitAnswerProcedure, connect.NewUnaryHandler(rpc.SubmitAnswerProcedure, s.SubmitAnswer, opts...))
	mux.Handle(rpc.AdvanceGameProcedure, connect.NewUnaryHandler(rpc.AdvanceGameProcedure, s.AdvanceGame, opts...))
	mux.Handle(rpc.GetServerTimeProcedure, connect.NewUnaryHandler(rpc.GetServerTimeProcedure, s.GetServerTime, opts...))
	mux.Handle(rpc.GetGameStateProcedure, connect.NewUnaryHandler(rpc.GetGameStateProcedure, s.GetGameState, opts...))
	mux.Handle(rpc.GetLeaderboardProcedure, connect.NewUnaryHandler(rpc.GetLeaderboardProcedure, s.GetLeaderboard, opts...))
	mux.Handle(rpc.GetQuestionProcedure, connect.NewUnaryHandler(rpc.GetQuestionProcedure, s.GetQuestion, opts...))
	mux.Handle(rpc.JoinGameProcedure, connect.NewUnaryHandler(rpc.JoinGameProcedure, s.JoinGame, opts...))
}

func (s *Service) SubmitAnswer(ctx context.Context, req *connect.Request[rpc.SubmitAnswerRequest]) (*connect.Response[models.AnswerResult], error) {
	result, err := s.engine.SubmitAnswer(ctx, *req.Msg)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&result), nil
}

func (s *Service) AdvanceGame(ctx context.Context, req *connect.Request[rpc.AdvanceGameRequest]) (*connect.Response[models.GameState], error) {
	state, err := s.engine.Advance(ctx, req.Msg.GameID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&state), nil
}

func (s *Service) GetServerTime(_ context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[timestamppb.Timestamp], error) {
	return connect.NewResponse(timestamppb.New(s.clock.Now())), nil
}

func (s *Service) GetGameState(_ context.Context, req *connect.Request[rpc.GetGameStateRequest]) (*connect.Response[models.GameState], error) {
	state, err := s.engine.State(req.Msg.GameID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&state), nil
}

func (s *Service) GetLeaderboard(_ context.Context, req *connect.Request[rpc.GetLeaderboardRequest]) (*connect.Response[rpc.GetLeaderboardResponse], error) {
	entries, err := s.engine.Leaderboard(req.Msg.GameID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&rpc.GetLeaderboardResponse{Entries: entries}), nil
}

func (s *Service) GetQuestion(_ context.Context, req *connect.Request[rpc.GetQuestionRequest]) (*connect.Response[models.Question], error) {
	q, err := s.engine.Question(req.Msg.GameID, req.Msg.Position)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&q), nil
}

func (s *Service) JoinGame(ctx context.Context, req *connect.Request[rpc.JoinGameRequest]) (*connect.Response[models.Participant], error) {
	p, err := s.engine.Join(ctx, req.Msg.GameID, req.Msg.Name)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&p), nil
}

func toConnectError(err error) error {
	switch {
	case errors.Is(err, ErrGameNotFound), errors.Is(err, ErrQuestionNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, ErrInvalidOption), errors.Is(err, ErrInvalidName):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, ErrNotParticipant):
		return connect.NewError(connect.CodePermissionDenied, err)
	case errors.Is(err, ErrAlreadyAnswered):
		return connect.NewError(connect.CodeAlreadyExists, err)
	case errors.Is(err, ErrQuestionClosed), errors.Is(err, ErrGameFinished):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
