package pacing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-posemusic/internal/log"
	"github.com/teslashibe/go-posemusic/internal/timeutil"
)

func TestRateController_SustainedLowFPSStepsOnce(t *testing.T) {
	cfg := DefaultRateConfig()
	cfg.EscalateTicks = 0
	r := NewRateController(cfg, log.Nop())

	var changes []int
	for i := 1; i <= 50; i++ {
		d := r.Evaluate(15, 10, timeutil.Ms(float64(i)*33))
		if d.Applied != SignalHold {
			changes = append(changes, i)
		}
	}

	assert.Equal(t, []int{45}, changes)
	assert.Equal(t, 2, r.Skip())
}

func TestRateController_CooldownBlocksSecondStep(t *testing.T) {
	cfg := DefaultRateConfig()
	cfg.EscalateTicks = 0
	r := NewRateController(cfg, log.Nop())

	now := 0.0
	tick := func() Decision {
		now += 16
		return r.Evaluate(10, 40, timeutil.Ms(now))
	}

	for r.Skip() == 1 {
		tick()
	}
	changedAt := now

	for r.Skip() == 2 {
		tick()
	}
	assert.GreaterOrEqual(t, now-changedAt, 2500.0)
	assert.Equal(t, 3, r.Skip())

	// Bounded at MaxSkip.
	for i := 0; i < 1000; i++ {
		tick()
	}
	assert.Equal(t, 3, r.Skip())
}

func TestRateController_FasterNeedsLongerStreak(t *testing.T) {
	cfg := DefaultRateConfig()
	cfg.InitialSkip = 3
	r := NewRateController(cfg, log.Nop())

	var changedAt int
	for i := 1; i <= 200 && changedAt == 0; i++ {
		if r.Evaluate(45, 8, timeutil.Ms(float64(i)*16)).Applied == SignalDecrease {
			changedAt = i
		}
	}
	assert.Equal(t, 90, changedAt)
	assert.Equal(t, 2, r.Skip())
}

func TestRateController_NeutralZoneResetsStreaks(t *testing.T) {
	cfg := DefaultRateConfig()
	r := NewRateController(cfg, log.Nop())

	for i := 1; i <= 44; i++ {
		r.Evaluate(15, 10, timeutil.Ms(float64(i)*16))
	}
	require.Equal(t, 44, r.State().IncreaseStreak)

	r.Evaluate(24, 20, timeutil.Ms(1000))
	assert.Zero(t, r.State().IncreaseStreak)
	assert.Zero(t, r.State().DecreaseStreak)

	r.Evaluate(15, 10, timeutil.Ms(1016))
	assert.Equal(t, 1, r.Skip())
}

func TestRateController_SlowInferenceAloneCountsAsSlow(t *testing.T) {
	assert.Equal(t, SignalIncrease, DefaultRateConfig().Vote(60, 30))
	assert.Equal(t, SignalHold, DefaultRateConfig().Vote(60, 20))
	assert.Equal(t, SignalDecrease, DefaultRateConfig().Vote(60, 10))
}

func TestRateController_FPSEstimate(t *testing.T) {
	r := NewRateController(DefaultRateConfig(), log.Nop())

	r.Observe(Sample{Now: timeutil.Ms(0)})
	assert.Zero(t, r.FPS(), "first tick has no interval")

	r.Observe(Sample{Now: timeutil.Ms(20)})
	assert.InDelta(t, 50, r.FPS(), 1e-9, "seeded with the first instantaneous value")

	r.Observe(Sample{Now: timeutil.Ms(60)})
	assert.InDelta(t, 0.88*50+0.12*25, r.FPS(), 1e-9)

	r.Observe(Sample{Now: timeutil.Ms(80), Inferred: true, InferMs: 12})
	assert.Equal(t, 12.0, r.LastInferMs())
}

func TestRateController_FreezeSkipsEvaluation(t *testing.T) {
	cfg := DefaultRateConfig()
	r := NewRateController(cfg, log.Nop())

	r.Observe(Sample{Now: timeutil.Ms(0)})
	r.Observe(Sample{Now: timeutil.Ms(100)})
	streak := r.State().IncreaseStreak
	fps := r.FPS()

	for i := 2; i < 200; i++ {
		r.Observe(Sample{Now: timeutil.Ms(float64(i) * 100), Frozen: true})
	}
	assert.Equal(t, streak, r.State().IncreaseStreak)
	assert.Equal(t, fps, r.FPS())
	assert.Equal(t, 1, r.Skip())

	// The long frozen stretch does not show up as one slow frame.
	r.Observe(Sample{Now: timeutil.Ms(19916)})
	assert.InDelta(t, 0.88*10+0.12*62.5, r.FPS(), 1e-6)
}

func TestRateController_Escalation(t *testing.T) {
	cfg := DefaultRateConfig()
	cfg.SlowNeed = 1000 // keep the normal streak out of the way
	r := NewRateController(cfg, log.Nop())

	var escalatedAt []int
	for i := 1; i <= 200; i++ {
		if r.Evaluate(20, 10, timeutil.Ms(float64(i)*50)).Escalated {
			escalatedAt = append(escalatedAt, i)
		}
	}
	assert.Equal(t, []int{72}, escalatedAt)
	assert.Equal(t, 2, r.Skip())
	assert.True(t, r.Escalated())

	r.ResetEscalation()
	assert.False(t, r.Escalated())
}

func TestRateController_EscalationKeepsHigherSkip(t *testing.T) {
	cfg := DefaultRateConfig()
	cfg.InitialSkip = 3
	cfg.SlowNeed = 1000
	r := NewRateController(cfg, log.Nop())

	for i := 1; i <= 72; i++ {
		r.Evaluate(20, 10, timeutil.Ms(float64(i)*50))
	}
	assert.Equal(t, 3, r.Skip())
}

func TestLoopState_Bounds(t *testing.T) {
	cfg := StreakConfig{Min: 0, Max: 1, IncreaseNeed: 2, DecreaseNeed: 2, Cooldown: time.Second}
	var s LoopState

	assert.Equal(t, SignalHold, s.Observe(SignalIncrease, cfg, timeutil.Ms(0)))
	assert.Equal(t, SignalIncrease, s.Observe(SignalIncrease, cfg, timeutil.Ms(1)))
	assert.Equal(t, 1, s.Level)

	// Past cooldown, at Max: no further change.
	s.Observe(SignalIncrease, cfg, timeutil.Ms(2000))
	assert.Equal(t, SignalHold, s.Observe(SignalIncrease, cfg, timeutil.Ms(2001)))
	assert.Equal(t, 1, s.Level)
}
