package models

import (
	"time"

	"github.com/google/uuid"
)

// GameStatus defines the phase a game is in.
type GameStatus string

const (
	GameStatusWaiting     GameStatus = "waiting"
	GameStatusQuestion    GameStatus = "question"
	GameStatusResult      GameStatus = "result"
	GameStatusLeaderboard GameStatus = "leaderboard"
	GameStatusFinished    GameStatus = "finished"
)

var gameStatusOrder = []GameStatus{
	GameStatusWaiting,
	GameStatusQuestion,
	GameStatusResult,
	GameStatusLeaderboard,
	GameStatusFinished,
}

// Valid reports whether s is one of the known statuses.
func (s GameStatus) Valid() bool {
	return s.index() >= 0
}

// IsTerminal reports whether no further transition can happen.
func (s GameStatus) IsTerminal() bool {
	return s == GameStatusFinished
}

// Next returns the status following s in the phase order.
func (s GameStatus) Next() (GameStatus, bool) {
	i := s.index()
	if i < 0 || i == len(gameStatusOrder)-1 {
		return s, false
	}
	return gameStatusOrder[i+1], true
}

func (s GameStatus) index() int {
	for i, status := range gameStatusOrder {
		if status == s {
			return i
		}
	}
	return -1
}

// GameState is the backend-owned state of a scheduled game. Clients treat it as read-only.
type GameState struct {
	ID              uuid.UUID  `json:"id"`
	Status          GameStatus `json:"status"`
	CurrentQuestion int        `json:"current_question"`
	Countdown       int        `json:"countdown"` // seconds left as of UpdatedAt
	StartedAt       *time.Time `json:"started_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// CountdownDeadline is the server time at which the current countdown reaches zero.
func (g *GameState) CountdownDeadline() time.Time {
	return g.UpdatedAt.Add(time.Duration(g.Countdown) * time.Second)
}

// RemainingWithClockSync calculates remaining countdown seconds against a server-aligned clock.
func (g *GameState) RemainingWithClockSync(serverNow time.Time) int {
	if g.UpdatedAt.IsZero() || g.Countdown <= 0 {
		return 0
	}

	remaining := g.CountdownDeadline().Sub(serverNow)
	if remaining <= 0 {
		return 0
	}
	// Round up so a countdown showing 1 does not flip to 0 a second early.
	secs := int(remaining / time.Second)
	if remaining%time.Second != 0 {
		secs++
	}
	return secs
}

// IsActive reports whether the game is bound and not finished.
func (g *GameState) IsActive() bool {
	return g != nil && g.ID != uuid.Nil && !g.Status.IsTerminal()
}
