package loop

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teslashibe/go-posemusic/pkg/mapping"
	"github.com/teslashibe/go-posemusic/pkg/pacing"
	"github.com/teslashibe/go-posemusic/pkg/pose"
)

// Event kinds.
const (
	EventEscalated  = "escalated"
	EventTierChange = "tier_change"
	EventModeChange = "mode_change"
	EventBackground = "background"
	EventStopped    = "stopped"
)

// Event is a notable state change.
type Event struct {
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

// Estimate is a fresh pose estimate as applied by a tick.
type Estimate struct {
	Seq       uint64
	At        time.Time
	Width     int
	Height    int
	Keypoints []pose.Keypoint
	InferMs   float64
}

// Hooks observe the loop and must not block. They run on the tick
// goroutine, except OnEvent for background changes and stop, which runs on
// the caller's.
type Hooks struct {
	OnPerf     func(Perf)
	OnEstimate func(Estimate)
	OnCommands func(at time.Time, cmds []mapping.Command)
	OnEvent    func(Event)
}

// Counters are cumulative tick statistics.
type Counters struct {
	Ticks        uint64 `json:"ticks"`
	Requests     uint64 `json:"requests"`
	Estimates    uint64 `json:"estimates"`
	Backpressure uint64 `json:"backpressure"`
	Failures     uint64 `json:"failures"`
	SinkErrors   uint64 `json:"sink_errors"`
	Commands     uint64 `json:"commands"`
	Panics       uint64 `json:"panics"`
}

// Perf is the loop's performance snapshot.
type Perf struct {
	At         time.Time    `json:"at"`
	FPS        float64      `json:"fps"`
	Skip       int          `json:"skip"`
	InferMs    float64      `json:"infer_ms"`
	Tier       string       `json:"tier,omitempty"`
	Mode       mapping.Mode `json:"mode"`
	Held       int          `json:"held"`
	Energy     float64      `json:"energy"`
	Escalated  bool         `json:"escalated"`
	Frozen     bool         `json:"frozen"`
	Background bool         `json:"background"`
	State      string       `json:"state"`
	Backlogged bool         `json:"backlogged"`
	Rendering  bool         `json:"rendering"`
	Counters   Counters     `json:"counters"`
}

// Status returns the latest perf snapshot.
func (l *Loop) Status() Perf {
	if p := l.perf.Load(); p != nil {
		return *p
	}
	return Perf{
		Mode:       l.Config().Mapping.Mode,
		Skip:       l.Config().Rate.InitialSkip,
		Background: l.background.Load(),
		State:      StateIdle.String(),
	}
}

// Config returns the configuration the loop is running with, or the queued
// one when an update is pending.
func (l *Loop) Config() Config {
	l.pmu.Lock()
	defer l.pmu.Unlock()
	if l.pending != nil {
		return *l.pending
	}
	return *l.view.Load()
}

// Reconfigure queues config for the start of the next tick.
func (l *Loop) Reconfigure(config Config) error {
	return l.Update(func(c *Config) { *c = config })
}

// Update queues a change to the current configuration. Updates made before
// the next tick accumulate.
func (l *Loop) Update(fn func(c *Config)) error {
	if l.stopped.Load() {
		return ErrStopped
	}

	l.pmu.Lock()
	defer l.pmu.Unlock()

	var next Config
	if l.pending != nil {
		next = *l.pending
	} else {
		next = *l.view.Load()
	}
	fn(&next)
	if errs := next.Validate(); len(errs) > 0 {
		return fmt.Errorf("invalid loop config: %s", strings.Join(errs, "; "))
	}
	l.pending = &next
	return nil
}

// SetMode queues a mapping mode switch. Held notes are released when it
// is applied.
func (l *Loop) SetMode(mode mapping.Mode) error {
	return l.Update(func(c *Config) { c.Mapping.Mode = mode })
}

// SetBackground marks the host as backgrounded. A backgrounded loop keeps
// ticking to expire notes but requests no estimates and freezes pacing.
func (l *Loop) SetBackground(on bool) {
	if l.background.Swap(on) != on {
		l.emit(l.clock.Now(), EventBackground, fmt.Sprintf("%t", on))
		l.logger.Info("background changed", "background", on)
	}
}

// Background reports whether the host is backgrounded.
func (l *Loop) Background() bool {
	return l.background.Load()
}

// SetRenderEnabled turns skeleton rendering on or off. Turning it back on
// re-arms escalation.
func (l *Loop) SetRenderEnabled(on bool) {
	if l.deps.Render == nil {
		return
	}
	l.deps.Render.SetEnabled(on)
	if on {
		l.rearm.Store(true)
	}
}

// SetTier asks the quality tuner for a capture tier. The tuner may later
// settle lower if the frame rate cannot hold it.
func (l *Loop) SetTier(name string) error {
	q := l.deps.Quality
	if q == nil {
		return ErrNoQualityTuner
	}
	idx := q.Index(name)
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownTier, name)
	}
	if l.stopped.Load() {
		return ErrStopped
	}
	l.tier.Store(int64(idx))
	return nil
}

func (l *Loop) applyPending(now time.Time) {
	if l.rearm.Swap(false) {
		l.rate.ResetEscalation()
	}

	if idx := l.tier.Load(); idx >= 0 && l.deps.Quality != nil {
		err := l.deps.Quality.SetDesired(l.ctx, int(idx), now)
		switch {
		case errors.Is(err, pacing.ErrSwitchInFlight):
			// Retried next tick.
		case err != nil:
			l.tier.CompareAndSwap(idx, -1)
			l.logger.Warn("tier request failed", "error", err)
		default:
			l.tier.CompareAndSwap(idx, -1)
			l.emit(now, EventTierChange, l.deps.Quality.Tier().Name)
		}
	}

	l.pmu.Lock()
	next := l.pending
	l.pending = nil
	l.pmu.Unlock()
	if next == nil {
		return
	}

	prev := l.engine.Mode()
	l.smoother.SetConfig(next.Smoothing)
	l.gate.SetConfig(next.Gate)
	l.rate.SetConfig(next.Rate)
	l.dispatch(now, l.engine.SetConfig(next.Mapping, now))

	l.config = *next
	l.config.Mapping = l.engine.Config()
	view := l.config
	l.view.Store(&view)

	if mode := l.engine.Mode(); mode != prev {
		l.emit(now, EventModeChange, string(mode))
	}
	l.logger.Debug("config applied", "mode", l.engine.Mode(), "scale", l.config.Mapping.Scale)
}

func (l *Loop) report(now time.Time, frozen bool) {
	p := Perf{
		At:         now,
		FPS:        l.rate.FPS(),
		Skip:       l.rate.Skip(),
		InferMs:    l.lastInferMs,
		Mode:       l.engine.Mode(),
		Held:       len(l.engine.Held()),
		Energy:     l.energy,
		Escalated:  l.rate.Escalated(),
		Frozen:     frozen,
		Background: l.background.Load(),
		State:      l.state.String(),
		Backlogged: l.backlogged,
		Counters:   l.counters,
	}
	if l.deps.Quality != nil {
		p.Tier = l.deps.Quality.Tier().Name
	}
	if l.deps.Render != nil {
		p.Rendering = l.deps.Render.Enabled()
	}
	l.perf.Store(&p)

	if l.hooks.OnPerf != nil && l.config.PerfEvery > 0 && l.counters.Ticks%uint64(l.config.PerfEvery) == 0 {
		l.hooks.OnPerf(p)
	}
}

func (l *Loop) emit(now time.Time, kind, detail string) {
	if l.hooks.OnEvent != nil {
		l.hooks.OnEvent(Event{At: now, Kind: kind, Detail: detail})
	}
}

// MergeHooks combines hook sets; each callback runs in argument order.
func MergeHooks(sets ...Hooks) Hooks {
	var out Hooks
	for _, h := range sets {
		h := h
		if h.OnPerf != nil {
			prev := out.OnPerf
			out.OnPerf = func(p Perf) {
				if prev != nil {
					prev(p)
				}
				h.OnPerf(p)
			}
		}
		if h.OnEstimate != nil {
			prev := out.OnEstimate
			out.OnEstimate = func(e Estimate) {
				if prev != nil {
					prev(e)
				}
				h.OnEstimate(e)
			}
		}
		if h.OnCommands != nil {
			prev := out.OnCommands
			out.OnCommands = func(at time.Time, cmds []mapping.Command) {
				if prev != nil {
					prev(at, cmds)
				}
				h.OnCommands(at, cmds)
			}
		}
		if h.OnEvent != nil {
			prev := out.OnEvent
			out.OnEvent = func(e Event) {
				if prev != nil {
					prev(e)
				}
				h.OnEvent(e)
			}
		}
	}
	return out
}
