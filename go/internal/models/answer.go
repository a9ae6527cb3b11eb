package models

import (
	"time"

	"github.com/google/uuid"
)

// AnswerOutcome is the result of a player's most recent answer.
type AnswerOutcome string

const (
	AnswerCorrect   AnswerOutcome = "correct"
	AnswerIncorrect AnswerOutcome = "incorrect"
)

// OutcomeOf maps a correctness flag to an AnswerOutcome.
func OutcomeOf(correct bool) AnswerOutcome {
	if correct {
		return AnswerCorrect
	}
	return AnswerIncorrect
}

// AnswerResult is the backend's one-shot response to a submission.
type AnswerResult struct {
	IsCorrect     bool   `json:"is_correct"`
	Points        int    `json:"points"`
	CorrectOption string `json:"correctOption"`
}

// Answer is a stored submission row as carried by the answers feed.
type Answer struct {
	ID               uuid.UUID `json:"id"`
	GameID           uuid.UUID `json:"game_id"`
	PlayerID         uuid.UUID `json:"player_id"`
	QuestionPosition int       `json:"question_position"`
	OptionID         string    `json:"option_id"`
	IsCorrect        bool      `json:"is_correct"`
	Points           int       `json:"points"`
	AnswerTimeMs     int       `json:"answer_time_ms"`
	CreatedAt        time.Time `json:"created_at"`
}
