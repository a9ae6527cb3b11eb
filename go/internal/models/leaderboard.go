package models

import (
	"sort"

	"github.com/google/uuid"
)

// LeaderboardEntry is a player's standing. Rank is derived on the client.
type LeaderboardEntry struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	TotalPoints int            `json:"total_points"`
	LastAnswer  *AnswerOutcome `json:"last_answer"`
	Rank        int            `json:"rank"`
}

// RankEntries returns a copy of entries sorted by points and assigned competition ranks
// (equal points share a rank, the next rank skips: 1, 1, 3).
func RankEntries(entries []LeaderboardEntry) []LeaderboardEntry {
	ranked := make([]LeaderboardEntry, len(entries))
	copy(ranked, entries)

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].TotalPoints != ranked[j].TotalPoints {
			return ranked[i].TotalPoints > ranked[j].TotalPoints
		}
		return ranked[i].Name < ranked[j].Name
	})

	for i := range ranked {
		if i > 0 && ranked[i].TotalPoints == ranked[i-1].TotalPoints {
			ranked[i].Rank = ranked[i-1].Rank
			continue
		}
		ranked[i].Rank = i + 1
	}
	return ranked
}
