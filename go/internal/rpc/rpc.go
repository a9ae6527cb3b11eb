// Package rpc declares the trivia game RPC surface shared by the client and the
// development backend.
package rpc

import (
	"context"
	"errors"
	"net"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/mcdev12/festtrivia/go/internal/models"
)

const GameServiceName = "trivia.v1.GameService"

const (
	SubmitAnswerProcedure   = "/" + GameServiceName + "/SubmitAnswer"
	AdvanceGameProcedure    = "/" + GameServiceName + "/AdvanceGame"
	GetServerTimeProcedure  = "/" + GameServiceName + "/GetServerTime"
	GetGameStateProcedure   = "/" + GameServiceName + "/GetGameState"
	GetLeaderboardProcedure = "/" + GameServiceName + "/GetLeaderboard"
	GetQuestionProcedure    = "/" + GameServiceName + "/GetQuestion"
	JoinGameProcedure       = "/" + GameServiceName + "/JoinGame"
)

type SubmitAnswerRequest struct {
	IdempotencyKey   uuid.UUID `json:"idempotency_key"`
	GameID           uuid.UUID `json:"game_id"`
	PlayerID         uuid.UUID `json:"player_id"`
	QuestionPosition int       `json:"question_position"`
	OptionID         string    `json:"option_id"`
	AnswerTimeMs     int       `json:"answer_time_ms"`
}

type AdvanceGameRequest struct {
	GameID uuid.UUID `json:"game_id"`
}

type GetGameStateRequest struct {
	GameID uuid.UUID `json:"game_id"`
}

type GetLeaderboardRequest struct {
	GameID uuid.UUID `json:"game_id"`
}

type GetLeaderboardResponse struct {
	Entries []models.LeaderboardEntry `json:"entries"`
}

type GetQuestionRequest struct {
	GameID   uuid.UUID `json:"game_id"`
	Position int       `json:"position"`
}

type JoinGameRequest struct {
	GameID uuid.UUID `json:"game_id"`
	Name   string    `json:"name"`
}

// IsNetworkError reports whether err is a connectivity failure rather than a rejection
// by the backend.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	switch connect.CodeOf(err) {
	case connect.CodeUnavailable, connect.CodeDeadlineExceeded:
		return true
	default:
		return false
	}
}
