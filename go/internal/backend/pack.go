package backend

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/festtrivia/go/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed packs/festival.yaml
var festivalPack []byte

// PackQuestion is a question of a pack with its answer key.
type PackQuestion struct {
	Text         string          `yaml:"text"`
	TimeLimitSec int             `yaml:"time_limit_sec"`
	Correct      string          `yaml:"correct"`
	Options      []models.Option `yaml:"options"`
}

// Pack is a question set plus the phase timings of games played with it.
type Pack struct {
	Title          string         `yaml:"title"`
	LobbySec       int            `yaml:"lobby_sec"`
	ResultSec      int            `yaml:"result_sec"`
	LeaderboardSec int            `yaml:"leaderboard_sec"`
	Questions      []PackQuestion `yaml:"questions"`
}

// DefaultPack returns the built-in festival question pack.
func DefaultPack() (*Pack, error) {
	return ParsePack(festivalPack)
}

// LoadPack reads a YAML question pack from path.
func LoadPack(path string) (*Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pack file: %w", err)
	}
	return ParsePack(data)
}

func ParsePack(data []byte) (*Pack, error) {
	var pack Pack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("failed to parse pack: %w", err)
	}
	if err := pack.Validate(); err != nil {
		return nil, err
	}
	return &pack, nil
}

func (p *Pack) Validate() error {
	if len(p.Questions) == 0 {
		return errors.New("pack has no questions")
	}
	for i, q := range p.Questions {
		if q.Text == "" {
			return fmt.Errorf("question %d has no text", i+1)
		}
		if len(q.Options) < 2 {
			return fmt.Errorf("question %d needs at least two options", i+1)
		}
		question := models.Question{Options: q.Options}
		if !question.HasOption(q.Correct) {
			return fmt.Errorf("question %d: correct option %q is not an option", i+1, q.Correct)
		}
		if q.TimeLimitSec <= 0 {
			return fmt.Errorf("question %d has no time limit", i+1)
		}
	}
	return nil
}

func (p *Pack) lobby() time.Duration       { return secondsOr(p.LobbySec, 30) }
func (p *Pack) result() time.Duration      { return secondsOr(p.ResultSec, 5) }
func (p *Pack) leaderboard() time.Duration { return secondsOr(p.LeaderboardSec, 8) }

func secondsOr(sec, def int) time.Duration {
	if sec <= 0 {
		sec = def
	}
	return time.Duration(sec) * time.Second
}

// questionsFor materializes the pack's questions for a game; positions start at 1.
func (p *Pack) questionsFor(gameID uuid.UUID) []gameQuestion {
	out := make([]gameQuestion, len(p.Questions))
	for i, q := range p.Questions {
		out[i] = gameQuestion{
			Question: models.Question{
				ID:           uuid.New(),
				GameID:       gameID,
				Position:     i + 1,
				Text:         q.Text,
				Options:      q.Options,
				TimeLimitSec: q.TimeLimitSec,
			},
			correct: q.Correct,
		}
	}
	return out
}
