package models

import "github.com/google/uuid"

// Option is one selectable answer of a question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is a multiple-choice question at a position of a game.
type Question struct {
	ID           uuid.UUID `json:"id"`
	GameID       uuid.UUID `json:"game_id"`
	Position     int       `json:"position"`
	Text         string    `json:"text"`
	Options      []Option  `json:"options"`
	TimeLimitSec int       `json:"time_limit_sec"`
}

// HasOption reports whether id names one of the question's options.
func (q *Question) HasOption(id string) bool {
	for _, o := range q.Options {
		if o.ID == id {
			return true
		}
	}
	return false
}
