package determinism

import (
	"testing"
	"time"
)

func at(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func TestTurnClockElapsed(t *testing.T) {
	clock := StartClock(at(1000))
	if got := clock.Elapsed(at(1500)); got != 500 {
		t.Fatalf("Elapsed = %d, want 500", got)
	}
}

func TestTurnClockPauseFreezesElapsed(t *testing.T) {
	clock := StartClock(at(1000))
	clock = clock.Pause(at(1400))

	if got := clock.Elapsed(at(9000)); got != 400 {
		t.Fatalf("Elapsed while paused = %d, want 400", got)
	}

	// Pausing again must not change anything.
	again := clock.Pause(at(2000))
	if got := again.Elapsed(at(9000)); got != 400 {
		t.Fatalf("Elapsed after double pause = %d, want 400", got)
	}
}

func TestTurnClockResumePreservesAccumulated(t *testing.T) {
	clock := StartClock(at(1000))
	clock = clock.Pause(at(1400))
	clock = clock.Resume(at(5000))

	if clock.PausedAt != nil {
		t.Fatal("expected clock to be running after resume")
	}
	if got := clock.Elapsed(at(5300)); got != 700 {
		t.Fatalf("Elapsed after resume = %d, want 700", got)
	}

	// Resuming a running clock is a no-op.
	same := clock.Resume(at(6000))
	if same.TurnStartedAt != clock.TurnStartedAt {
		t.Fatal("resume of a running clock must not restart it")
	}
}

func TestTurnClockExpiry(t *testing.T) {
	cfg := ClockConfig{MaxTurnDurationMs: 1000, WarningThresholdMs: 300}
	clock := StartClock(at(0))

	tests := []struct {
		name      string
		now       time.Time
		expired   bool
		warning   bool
		remaining int64
	}{
		{"fresh", at(100), false, false, 900},
		{"in warning", at(800), false, true, 200},
		{"at limit", at(1000), true, false, 0},
		{"past limit", at(5000), true, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clock.Expired(cfg, tt.now); got != tt.expired {
				t.Errorf("Expired = %v, want %v", got, tt.expired)
			}
			if got := clock.InWarning(cfg, tt.now); got != tt.warning {
				t.Errorf("InWarning = %v, want %v", got, tt.warning)
			}
			if got := clock.Remaining(cfg, tt.now); got != tt.remaining {
				t.Errorf("Remaining = %d, want %d", got, tt.remaining)
			}
		})
	}
}

func TestTurnClockNoBudgetNeverExpires(t *testing.T) {
	cfg := ClockConfig{}
	clock := StartClock(at(0))
	if clock.Expired(cfg, at(1<<40)) {
		t.Fatal("clock without a budget must never expire")
	}
	if got := clock.Remaining(cfg, at(100)); got != -1 {
		t.Fatalf("Remaining without budget = %d, want -1", got)
	}
	if clock.InWarning(cfg, at(100)) {
		t.Fatal("clock without a budget must never be in warning")
	}
}
