// Package profile defines per-user lifetime stats.
package profile

import "github.com/louisbranch/gametable/internal/game"

// Profile tracks lifetime results for one user. The counters are mutated
// only through storage delta operations so concurrent game endings for the
// same user never lose an update.
type Profile struct {
	game.Versioned

	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Wins        int64  `json:"wins"`
	Losses      int64  `json:"losses"`
	Draws       int64  `json:"draws"`
	TotalGames  int64  `json:"totalGames"`
}

// Outcome names the stat bucket a finished game adds to.
type Outcome string

const (
	// OutcomeWin credits the winner.
	OutcomeWin Outcome = "wins"
	// OutcomeLoss credits everyone who did not win.
	OutcomeLoss Outcome = "losses"
	// OutcomeDraw credits all players of a drawn game.
	OutcomeDraw Outcome = "draws"
)

// OutcomeFor returns the stat bucket for a player given the game result.
// Every player lands in exactly one bucket.
func OutcomeFor(userID, winner string, isDraw bool) Outcome {
	if isDraw {
		return OutcomeDraw
	}
	if userID == winner {
		return OutcomeWin
	}
	return OutcomeLoss
}

// StatsDelta returns the numeric field increments recording one finished
// game for a player.
func StatsDelta(outcome Outcome) map[string]int64 {
	return map[string]int64{
		"totalGames":    1,
		string(outcome): 1,
	}
}
