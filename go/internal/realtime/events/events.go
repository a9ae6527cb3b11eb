package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/festtrivia/go/internal/models"
)

// FeedType names one change feed of a game.
type FeedType string

const (
	FeedGameState    FeedType = "gameState"
	FeedParticipants FeedType = "participants"
	FeedAnswers      FeedType = "answers"
	FeedLeaderboard  FeedType = "leaderboard"
)

// AllFeeds lists every feed type in a stable order.
var AllFeeds = []FeedType{FeedGameState, FeedParticipants, FeedAnswers, FeedLeaderboard}

// Valid reports whether f is a known feed type.
func (f FeedType) Valid() bool {
	for _, known := range AllFeeds {
		if f == known {
			return true
		}
	}
	return false
}

// Table returns the backend table a feed follows.
func (f FeedType) Table() string {
	switch f {
	case FeedGameState:
		return "game_state"
	case FeedParticipants:
		return "participants"
	case FeedAnswers:
		return "answers"
	case FeedLeaderboard:
		return "leaderboard"
	default:
		return strings.ToLower(string(f))
	}
}

// ParseFeedTypes parses a comma separated list such as "gameState,answers".
func ParseFeedTypes(s string) ([]FeedType, error) {
	var feeds []FeedType
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		f := FeedType(part)
		if !f.Valid() {
			return nil, fmt.Errorf("unknown feed type: %s", part)
		}
		feeds = append(feeds, f)
	}
	return feeds, nil
}

// Op is the kind of row change an event carries.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// ChangeEvent is the envelope every change feed delivers
type ChangeEvent struct {
	ID         string          `json:"id"`
	GameID     uuid.UUID       `json:"game_id"`
	Feed       FeedType        `json:"feed"`
	Op         Op              `json:"op"`
	Timestamp  time.Time       `json:"timestamp"`   // backend commit time
	ReceivedAt time.Time       `json:"received_at"` // stamped by the subscription manager
	Data       json.RawMessage `json:"data"`
}

// NewChangeEvent marshals record into a new envelope.
func NewChangeEvent(gameID uuid.UUID, feed FeedType, op Op, at time.Time, record any) (ChangeEvent, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return ChangeEvent{}, fmt.Errorf("marshal %s record: %w", feed, err)
	}
	return ChangeEvent{
		ID:        uuid.New().String(),
		GameID:    gameID,
		Feed:      feed,
		Op:        op,
		Timestamp: at,
		Data:      data,
	}, nil
}

// ParsePayload parses event data into the row type of its feed
func ParsePayload(event *ChangeEvent) (interface{}, error) {
	switch event.Feed {
	case FeedGameState:
		var payload models.GameState
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case FeedParticipants:
		var payload models.Participant
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case FeedAnswers:
		var payload models.Answer
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case FeedLeaderboard:
		var payload models.LeaderboardEntry
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, fmt.Errorf("unknown feed type: %s", event.Feed)
	}
}

// Subject is the NATS subject a feed of a game is published on.
func Subject(gameID uuid.UUID, feed FeedType) string {
	return fmt.Sprintf("trivia.feeds.%s.%s", feed, gameID)
}

// Channel is the Postgres NOTIFY channel a feed is published on.
func Channel(feed FeedType) string {
	return "trivia_" + feed.Table()
}
