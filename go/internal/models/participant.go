package models

import (
	"time"

	"github.com/google/uuid"
)

// Participant is a player who joined a game.
type Participant struct {
	ID       uuid.UUID `json:"id"`
	GameID   uuid.UUID `json:"game_id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
}
