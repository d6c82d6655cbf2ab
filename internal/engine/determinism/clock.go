package determinism

import "time"

// ClockConfig bounds a single turn.
type ClockConfig struct {
	// MaxTurnDurationMs is the turn budget in milliseconds. Zero means the
	// turn never expires.
	MaxTurnDurationMs int64 `json:"maxTurnDurationMs,omitempty"`
	// WarningThresholdMs marks the remaining time under which the turn is
	// considered in warning.
	WarningThresholdMs int64 `json:"warningThresholdMs,omitempty"`
	// AutoEndTurnOnExpire requests the orchestration layer to end the turn
	// when the budget is exhausted.
	AutoEndTurnOnExpire bool `json:"autoEndTurnOnExpire,omitempty"`
}

// TurnClock is a pausable timer for a single turn. All fields are unix
// milliseconds so the clock serializes alongside the turn it belongs to.
type TurnClock struct {
	TurnStartedAt int64  `json:"turnStartedAt"`
	PausedAt      *int64 `json:"pausedAt,omitempty"`
	AccumulatedMs int64  `json:"accumulatedMs,omitempty"`
}

// StartClock begins timing a turn at now.
func StartClock(now time.Time) TurnClock {
	return TurnClock{TurnStartedAt: now.UnixMilli()}
}

// Elapsed returns the active duration of the turn in milliseconds. While the
// clock is paused only the accumulated time counts.
func (c TurnClock) Elapsed(now time.Time) int64 {
	if c.PausedAt != nil {
		return c.AccumulatedMs
	}
	return c.AccumulatedMs + (now.UnixMilli() - c.TurnStartedAt)
}

// Pause freezes the clock, folding the active duration into the accumulated
// time. Pausing an already paused clock is a no-op.
func (c TurnClock) Pause(now time.Time) TurnClock {
	if c.PausedAt != nil {
		return c
	}
	ms := now.UnixMilli()
	c.AccumulatedMs += ms - c.TurnStartedAt
	c.PausedAt = &ms
	return c
}

// Resume restarts a paused clock at now, preserving accumulated time.
// Resuming a running clock is a no-op.
func (c TurnClock) Resume(now time.Time) TurnClock {
	if c.PausedAt == nil {
		return c
	}
	return TurnClock{
		TurnStartedAt: now.UnixMilli(),
		AccumulatedMs: c.AccumulatedMs,
	}
}

// Remaining returns the milliseconds left in the turn budget, or -1 when the
// turn has no budget. A fully spent budget returns zero.
func (c TurnClock) Remaining(cfg ClockConfig, now time.Time) int64 {
	if cfg.MaxTurnDurationMs == 0 {
		return -1
	}
	remaining := cfg.MaxTurnDurationMs - c.Elapsed(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Expired reports whether the turn budget is exhausted.
func (c TurnClock) Expired(cfg ClockConfig, now time.Time) bool {
	if cfg.MaxTurnDurationMs == 0 {
		return false
	}
	return c.Elapsed(now) >= cfg.MaxTurnDurationMs
}

// InWarning reports whether the remaining time is within the warning
// threshold but not yet exhausted.
func (c TurnClock) InWarning(cfg ClockConfig, now time.Time) bool {
	if cfg.WarningThresholdMs == 0 || cfg.MaxTurnDurationMs == 0 {
		return false
	}
	remaining := c.Remaining(cfg, now)
	return remaining > 0 && remaining <= cfg.WarningThresholdMs
}
