package pacing

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-posemusic/internal/log"
)

// RateConfig configures the inference skip-factor controller.
type RateConfig struct {
	MinSkip     int `json:"min_skip"`
	MaxSkip     int `json:"max_skip"`
	InitialSkip int `json:"initial_skip"`

	// Slower (skip more) when fps < SlowFPS or inference > SlowInferMs.
	SlowFPS     float64 `json:"slow_fps"`
	SlowInferMs float64 `json:"slow_infer_ms"`
	SlowNeed    int     `json:"slow_need"`

	// Faster (skip less) when fps > FastFPS and inference < FastInferMs.
	FastFPS     float64 `json:"fast_fps"`
	FastInferMs float64 `json:"fast_infer_ms"`
	FastNeed    int     `json:"fast_need"`

	Cooldown time.Duration `json:"cooldown"`

	// FPSAlpha is the weight of the newest frame in the FPS EMA.
	FPSAlpha float64 `json:"fps_alpha"`

	// Escalation: EscalateTicks consecutive ticks under EscalateFPS force
	// the skip to at least EscalateSkip and shed the secondary feature.
	EscalateFPS   float64 `json:"escalate_fps"`
	EscalateTicks int     `json:"escalate_ticks"`
	EscalateSkip  int     `json:"escalate_skip"`
}

// DefaultRateConfig returns the live-loop defaults.
// Getting slower takes 45 samples, getting faster 90: upgrades are deliberately
// harder to earn than downgrades.
func DefaultRateConfig() RateConfig {
	return RateConfig{
		MinSkip:       1,
		MaxSkip:       3,
		InitialSkip:   1,
		SlowFPS:       18,
		SlowInferMs:   25,
		SlowNeed:      45,
		FastFPS:       29,
		FastInferMs:   16,
		FastNeed:      90,
		Cooldown:      2500 * time.Millisecond,
		FPSAlpha:      0.12,
		EscalateFPS:   24,
		EscalateTicks: 72,
		EscalateSkip:  2,
	}
}

func (c RateConfig) streak() StreakConfig {
	return StreakConfig{
		Min:          c.MinSkip,
		Max:          c.MaxSkip,
		IncreaseNeed: c.SlowNeed,
		DecreaseNeed: c.FastNeed,
		Cooldown:     c.Cooldown,
	}
}

// Vote classifies one sample. Between the two bands neither streak grows.
func (c RateConfig) Vote(fps, inferMs float64) Signal {
	switch {
	case fps < c.SlowFPS || inferMs > c.SlowInferMs:
		return SignalIncrease
	case fps > c.FastFPS && inferMs < c.FastInferMs:
		return SignalDecrease
	default:
		return SignalHold
	}
}

// Sample is what the loop reports on every tick.
type Sample struct {
	Now      time.Time
	Inferred bool    // a fresh estimate arrived this tick
	InferMs  float64 // its duration, when Inferred
	Frozen   bool    // a resolution switch is in flight or the host is backgrounded
}

// Decision is the controller's answer to a Sample.
type Decision struct {
	Skip      int
	Applied   Signal
	Escalated bool // escalation fired on this sample
}

// RateController adapts how many ticks pass between inference calls.
// It is not safe for concurrent use; the control loop owns it.
type RateController struct {
	config RateConfig
	state  LoopState

	fps         float64
	hasFPS      bool
	lastTick    time.Time
	lastInferMs float64

	lowTicks  int
	escalated bool

	logger *slog.Logger
}

// NewRateController creates a controller at config.InitialSkip.
func NewRateController(config RateConfig, logger *slog.Logger) *RateController {
	r := &RateController{
		config: config,
		logger: log.Or(logger).With("component", "rate"),
	}
	r.state.Level = clampInt(config.InitialSkip, config.MinSkip, config.MaxSkip)
	return r
}

// Observe updates the FPS estimate from the tick timestamp and evaluates.
// Frozen samples only advance the timestamp.
func (r *RateController) Observe(s Sample) Decision {
	if s.Inferred {
		r.lastInferMs = s.InferMs
	}

	prev := r.lastTick
	r.lastTick = s.Now
	if s.Frozen || prev.IsZero() {
		return Decision{Skip: r.state.Level, Applied: SignalHold}
	}

	dt := s.Now.Sub(prev)
	if dt <= 0 {
		return Decision{Skip: r.state.Level, Applied: SignalHold}
	}
	inst := float64(time.Second) / float64(dt)
	if !r.hasFPS {
		r.fps = inst
		r.hasFPS = true
	} else {
		r.fps = (1-r.config.FPSAlpha)*r.fps + r.config.FPSAlpha*inst
	}

	return r.Evaluate(r.fps, r.lastInferMs, s.Now)
}

// Evaluate runs escalation and the streak decision for one FPS sample.
func (r *RateController) Evaluate(fps, inferMs float64, now time.Time) Decision {
	d := Decision{Applied: SignalHold}

	if fps < r.config.EscalateFPS {
		r.lowTicks++
	} else {
		r.lowTicks = 0
	}
	if !r.escalated && r.config.EscalateTicks > 0 && r.lowTicks >= r.config.EscalateTicks {
		r.escalated = true
		d.Escalated = true
		if r.state.Level < r.config.EscalateSkip {
			r.state.Force(r.config.EscalateSkip, r.config.streak(), now)
		}
		r.logger.Warn("sustained low frame rate, escalating",
			"fps", fps, "ticks", r.lowTicks, "skip", r.state.Level)
	}

	d.Applied = r.state.Observe(r.config.Vote(fps, inferMs), r.config.streak(), now)
	if d.Applied != SignalHold {
		r.logger.Info("inference skip changed",
			"skip", r.state.Level, "signal", d.Applied, "fps", fps, "infer_ms", inferMs)
	}
	d.Skip = r.state.Level
	return d
}

// Skip returns the current skip factor.
func (r *RateController) Skip() int {
	return r.state.Level
}

// FPS returns the current FPS estimate.
func (r *RateController) FPS() float64 {
	return r.fps
}

// LastInferMs returns the most recent inference duration.
func (r *RateController) LastInferMs() float64 {
	return r.lastInferMs
}

// State returns a copy of the streak state.
func (r *RateController) State() LoopState {
	return r.state
}

// Escalated reports whether escalation has fired.
func (r *RateController) Escalated() bool {
	return r.escalated
}

// ResetEscalation re-arms escalation, for when the secondary feature is
// switched back on by hand.
func (r *RateController) ResetEscalation() {
	r.escalated = false
	r.lowTicks = 0
}

// SetConfig replaces the thresholds, keeping the current level within bounds.
func (r *RateController) SetConfig(config RateConfig) {
	r.config = config
	r.state.Level = clampInt(r.state.Level, config.MinSkip, config.MaxSkip)
}
