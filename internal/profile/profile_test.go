package profile

import "testing"

func TestOutcomeFor(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		winner string
		isDraw bool
		want   Outcome
	}{
		{"winner", "alice", "alice", false, OutcomeWin},
		{"loser", "bob", "alice", false, OutcomeLoss},
		{"draw overrides winner", "alice", "alice", true, OutcomeDraw},
		{"draw for loser", "bob", "", true, OutcomeDraw},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OutcomeFor(tt.userID, tt.winner, tt.isDraw); got != tt.want {
				t.Fatalf("OutcomeFor = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStatsDelta(t *testing.T) {
	delta := StatsDelta(OutcomeWin)
	if delta["totalGames"] != 1 {
		t.Fatalf("totalGames delta = %d, want 1", delta["totalGames"])
	}
	if delta["wins"] != 1 {
		t.Fatalf("wins delta = %d, want 1", delta["wins"])
	}
	if len(delta) != 2 {
		t.Fatalf("expected exactly two increments, got %d", len(delta))
	}
}
