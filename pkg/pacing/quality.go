package pacing

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-posemusic/internal/log"
	"github.com/teslashibe/go-posemusic/pkg/camera"
)

// ErrSwitchInFlight is returned when a tier change is requested while
// another is still running.
var ErrSwitchInFlight = errors.New("pacing: tier switch in flight")

// Switcher applies a capture tier. camera.Manager implements it.
type Switcher interface {
	SwitchTier(ctx context.Context, tier camera.Tier) error
}

// QualityConfig configures the capture-quality tuner.
type QualityConfig struct {
	UpFPS    float64       `json:"up_fps"`
	DownFPS  float64       `json:"down_fps"`
	Need     int           `json:"need"`
	Cooldown time.Duration `json:"cooldown"`

	// Probe: when settled below the desired tier, ProbeNeed samples above
	// ProbeFPS earn one attempt straight back at the desired tier.
	ProbeFPS  float64 `json:"probe_fps"`
	ProbeNeed int     `json:"probe_need"`
}

// DefaultQualityConfig returns the live-loop defaults.
func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		UpFPS:     31,
		DownFPS:   17,
		Need:      45,
		Cooldown:  2500 * time.Millisecond,
		ProbeFPS:  34,
		ProbeNeed: 60,
	}
}

type switchResult struct {
	from, to int
	err      error
}

// QualityTuner moves the capture resolution between tiers from the
// sustained FPS trend. Tier changes run asynchronously and one at a time.
type QualityTuner struct {
	config QualityConfig
	tiers  []camera.Tier
	state  LoopState

	desired int // tier explicitly asked for
	ceiling int // highest tier the streak may climb to

	probeStreak int
	probed      bool

	switcher Switcher
	busy     atomic.Bool
	done     chan switchResult

	logger *slog.Logger
}

// NewQualityTuner creates a tuner at tier index initial, which is also the
// desired tier. A nil switcher applies changes immediately.
func NewQualityTuner(config QualityConfig, tiers []camera.Tier, initial int, switcher Switcher, logger *slog.Logger) *QualityTuner {
	initial = clampInt(initial, 0, len(tiers)-1)
	q := &QualityTuner{
		config:   config,
		tiers:    tiers,
		desired:  initial,
		ceiling:  initial,
		switcher: switcher,
		done:     make(chan switchResult, 1),
		logger:   log.Or(logger).With("component", "quality"),
	}
	q.state.Level = initial
	return q
}

func (q *QualityTuner) streak() StreakConfig {
	return StreakConfig{
		Min:          0,
		Max:          q.ceiling,
		IncreaseNeed: q.config.Need,
		DecreaseNeed: q.config.Need,
		Cooldown:     q.config.Cooldown,
	}
}

// Observe feeds one FPS sample. It returns true when a tier change was
// started. Samples are ignored while a change is in flight.
func (q *QualityTuner) Observe(ctx context.Context, fps float64, now time.Time) bool {
	q.Poll(now)
	if q.busy.Load() {
		return false
	}

	from := q.state.Level

	if q.probeArmed() {
		if fps > q.config.ProbeFPS {
			q.probeStreak++
		} else {
			q.probeStreak = 0
		}
		if q.probeStreak >= q.config.ProbeNeed && q.state.CooledDown(q.streak(), now) {
			q.probed = true
			q.probeStreak = 0
			q.ceiling = q.desired
			q.state.Force(q.desired, q.streak(), now)
			q.logger.Info("probing desired capture tier", "tier", q.tiers[q.desired].Name, "fps", fps)
			q.start(ctx, from, q.state.Level)
			return true
		}
	}

	vote := SignalHold
	switch {
	case fps > q.config.UpFPS:
		vote = SignalIncrease
	case fps < q.config.DownFPS:
		vote = SignalDecrease
	}

	applied := q.state.Observe(vote, q.streak(), now)
	if applied == SignalHold {
		return false
	}
	if applied == SignalDecrease {
		q.ceiling = q.state.Level
	}
	q.logger.Info("capture tier changed", "tier", q.tiers[q.state.Level].Name, "signal", applied, "fps", fps)
	q.start(ctx, from, q.state.Level)
	return true
}

func (q *QualityTuner) probeArmed() bool {
	return !q.probed && q.desired > q.state.Level && q.config.ProbeNeed > 0
}

func (q *QualityTuner) start(ctx context.Context, from, to int) {
	if q.switcher == nil {
		return
	}
	q.busy.Store(true)
	tier := q.tiers[to]
	go func() {
		err := q.switcher.SwitchTier(ctx, tier)
		q.done <- switchResult{from: from, to: to, err: err}
	}()
}

// Poll collects a finished switch without blocking.
func (q *QualityTuner) Poll(now time.Time) {
	select {
	case res := <-q.done:
		q.finish(res, now)
	default:
	}
}

// Wait blocks until any in-flight switch has finished.
func (q *QualityTuner) Wait(ctx context.Context, now time.Time) error {
	if !q.busy.Load() {
		return nil
	}
	select {
	case res := <-q.done:
		q.finish(res, now)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish clears the busy flag. A failed switch reverts the tier and
// settles the ceiling there.
func (q *QualityTuner) finish(res switchResult, now time.Time) {
	q.busy.Store(false)
	if res.err == nil {
		return
	}
	q.logger.Warn("capture tier switch failed, reverting",
		"from", q.tiers[res.from].Name, "to", q.tiers[res.to].Name, "error", res.err)
	q.state.Force(res.from, StreakConfig{Min: 0, Max: len(q.tiers) - 1}, now)
	if q.ceiling > res.from {
		q.ceiling = res.from
	}
}

// Busy reports whether a tier change is in flight.
func (q *QualityTuner) Busy() bool {
	return q.busy.Load()
}

// SetDesired switches to the tier the user asked for and re-arms the probe.
func (q *QualityTuner) SetDesired(ctx context.Context, index int, now time.Time) error {
	if q.busy.Load() {
		return ErrSwitchInFlight
	}
	index = clampInt(index, 0, len(q.tiers)-1)
	q.desired = index
	q.ceiling = index
	q.probed = false
	q.probeStreak = 0

	from := q.state.Level
	if from == index {
		return nil
	}
	q.state.Force(index, q.streak(), now)
	q.logger.Info("capture tier requested", "tier", q.tiers[index].Name)
	q.start(ctx, from, index)
	return nil
}

// Index returns the position of the named tier, or -1. The tier list is
// fixed at construction, so Index is safe to call from any goroutine.
func (q *QualityTuner) Index(name string) int {
	return camera.TierIndex(q.tiers, name)
}

// Tier returns the current tier.
func (q *QualityTuner) Tier() camera.Tier {
	return q.tiers[q.state.Level]
}

// Level returns the current tier index.
func (q *QualityTuner) Level() int {
	return q.state.Level
}

// Desired returns the desired tier index.
func (q *QualityTuner) Desired() int {
	return q.desired
}

// State returns a copy of the streak state.
func (q *QualityTuner) State() LoopState {
	return q.state
}
