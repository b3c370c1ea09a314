// Package pacing holds the feedback controllers that trade work for frame
// rate: the inference skip-factor controller and the capture-quality tuner.
// Both move a bounded level one step at a time, only after a sustained
// streak and a cooldown.
package pacing

import "time"

// Signal is one sample's vote on the level.
type Signal string

// Signals.
const (
	SignalHold     Signal = "hold"
	SignalIncrease Signal = "increase"
	SignalDecrease Signal = "decrease"
)

// StreakConfig bounds a level and sets how long a trend must last.
type StreakConfig struct {
	Min          int           `json:"min"`
	Max          int           `json:"max"`
	IncreaseNeed int           `json:"increase_need"` // consecutive increase votes
	DecreaseNeed int           `json:"decrease_need"` // consecutive decrease votes
	Cooldown     time.Duration `json:"cooldown"`
}

// LoopState is the state of one streak controller.
type LoopState struct {
	Level          int       `json:"level"`
	IncreaseStreak int       `json:"increase_streak"`
	DecreaseStreak int       `json:"decrease_streak"`
	LastChange     time.Time `json:"last_change"`
}

// CooledDown reports whether the cooldown has elapsed at now.
// A controller that never changed is always cooled down.
func (s *LoopState) CooledDown(cfg StreakConfig, now time.Time) bool {
	return s.LastChange.IsZero() || now.Sub(s.LastChange) >= cfg.Cooldown
}

// Observe counts one vote and moves the level when its streak has reached
// the need count and the cooldown has elapsed. It returns the signal that
// was applied, SignalHold when the level did not move.
func (s *LoopState) Observe(vote Signal, cfg StreakConfig, now time.Time) Signal {
	switch vote {
	case SignalIncrease:
		s.IncreaseStreak++
		s.DecreaseStreak = 0
	case SignalDecrease:
		s.DecreaseStreak++
		s.IncreaseStreak = 0
	default:
		s.IncreaseStreak = 0
		s.DecreaseStreak = 0
		return SignalHold
	}

	if !s.CooledDown(cfg, now) {
		return SignalHold
	}

	switch {
	case s.IncreaseStreak >= cfg.IncreaseNeed && s.Level < cfg.Max:
		s.set(s.Level+1, now)
		return SignalIncrease
	case s.DecreaseStreak >= cfg.DecreaseNeed && s.Level > cfg.Min:
		s.set(s.Level-1, now)
		return SignalDecrease
	}
	return SignalHold
}

// Force jumps to level, clamped to the bounds, and stamps the cooldown.
func (s *LoopState) Force(level int, cfg StreakConfig, now time.Time) {
	s.set(clampInt(level, cfg.Min, cfg.Max), now)
}

func (s *LoopState) set(level int, now time.Time) {
	s.Level = level
	s.IncreaseStreak = 0
	s.DecreaseStreak = 0
	s.LastChange = now
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
