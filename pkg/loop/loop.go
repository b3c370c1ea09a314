// Package loop runs the motion-to-music control loop.
//
// Every tick the loop collects a finished pose estimate (if any), decides
// whether to request the next one, runs the gate and mapping engine, and
// dispatches the resulting commands. Pose estimation and rendering are the
// only asynchronous steps; all smoothed state, motion channels and held
// notes are owned by the tick.
package loop

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-posemusic/internal/log"
	"github.com/teslashibe/go-posemusic/internal/timeutil"
	"github.com/teslashibe/go-posemusic/pkg/mapping"
	"github.com/teslashibe/go-posemusic/pkg/motion"
	"github.com/teslashibe/go-posemusic/pkg/pacing"
	"github.com/teslashibe/go-posemusic/pkg/pose"
	"github.com/teslashibe/go-posemusic/pkg/render"
)

// InferState is the inference request state.
type InferState int

const (
	StateIdle InferState = iota
	StateRequesting
)

func (s InferState) String() string {
	if s == StateRequesting {
		return "requesting"
	}
	return "idle"
}

// Deps are the loop's collaborators. Render and Quality are optional.
type Deps struct {
	Scheduler Scheduler
	Source    FrameSource
	Estimator pose.Estimator
	Sink      Sink
	Render    *render.Coordinator
	Quality   *pacing.QualityTuner
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger. The global logger is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(lp *Loop) { lp.logger = l }
}

// WithClock sets the clock used to time estimates and stamp teardown.
func WithClock(c timeutil.Clock) Option {
	return func(lp *Loop) { lp.clock = c }
}

// WithHooks installs observation callbacks.
func WithHooks(h Hooks) Option {
	return func(lp *Loop) { lp.hooks = h }
}

// WithSyncInference runs the estimator inside the requesting tick. The
// result is still only applied by the next tick, so the loop behaves the
// same; it just becomes deterministic. Replay and tests use it.
func WithSyncInference() Option {
	return func(lp *Loop) { lp.sync = true }
}

type inferResult struct {
	frame pose.Frame
	kps   []pose.Keypoint
	err   error
	ms    float64
}

// Loop is the control loop.
type Loop struct {
	deps   Deps
	hooks  Hooks
	clock  timeutil.Clock
	logger *slog.Logger
	sync   bool

	ctx    context.Context
	cancel context.CancelFunc

	// mu is held for a whole tick and for teardown.
	mu sync.Mutex

	// Owned by the tick.
	config      Config
	smoother    *motion.Smoother
	gate        *motion.Gate
	engine      *mapping.Engine
	rate        *pacing.RateController
	state       InferState
	backlogged  bool
	untilInfer  int
	width       int
	height      int
	seq         uint64
	lastInferMs float64
	energy      float64
	counters    Counters

	results chan inferResult

	pmu     sync.Mutex
	pending *Config
	view    atomic.Pointer[Config]

	rearm      atomic.Bool
	tier       atomic.Int64 // requested tier index, -1 when none
	started    atomic.Bool
	stopped    atomic.Bool
	background atomic.Bool
	perf       atomic.Pointer[Perf]

	stopOnce sync.Once
	done     chan struct{}
}

// New creates a stopped loop. Start begins ticking.
func New(config Config, deps Deps, opts ...Option) (*Loop, error) {
	switch {
	case deps.Scheduler == nil:
		return nil, fmt.Errorf("%w: scheduler", ErrMissingDependency)
	case deps.Source == nil:
		return nil, fmt.Errorf("%w: frame source", ErrMissingDependency)
	case deps.Estimator == nil:
		return nil, fmt.Errorf("%w: estimator", ErrMissingDependency)
	case deps.Sink == nil:
		return nil, fmt.Errorf("%w: sink", ErrMissingDependency)
	}
	if errs := config.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid loop config: %s", strings.Join(errs, "; "))
	}

	l := &Loop{
		deps:    deps,
		clock:   timeutil.RealClock{},
		config:  config,
		results: make(chan inferResult, 1),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = log.Or(l.logger).With("component", "loop")
	l.tier.Store(-1)

	l.smoother = motion.NewSmoother(config.Smoothing)
	l.gate = motion.NewGate(config.Gate)
	l.engine = mapping.NewEngine(config.Mapping, l.logger)
	l.rate = pacing.NewRateController(config.Rate, l.logger)

	cfg := config
	cfg.Mapping = l.engine.Config()
	l.view.Store(&cfg)
	return l, nil
}

// Start requests the first tick. The loop stops when ctx is cancelled or
// Stop is called.
func (l *Loop) Start(ctx context.Context) error {
	if l.stopped.Load() {
		return ErrStopped
	}
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	l.ctx, l.cancel = context.WithCancel(ctx)
	go func() {
		select {
		case <-l.ctx.Done():
			l.Stop()
		case <-l.done:
		}
	}()

	l.logger.Info("loop started",
		"mode", l.engine.Mode(), "skip", l.rate.Skip(), "sync_inference", l.sync)
	l.deps.Scheduler.RequestTick(l.tick)
	return nil
}

// Stop halts scheduling, then releases every held note and recentres pitch
// bend and parameters before returning. Safe to call more than once.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.stopped.Store(true)

		l.mu.Lock()
		now := l.clock.Now()
		cmds := l.engine.ReleaseAll(now)
		l.dispatch(now, cmds)
		ticks := l.counters.Ticks
		l.mu.Unlock()

		if l.cancel != nil {
			l.cancel()
		}
		if l.deps.Render != nil {
			l.deps.Render.Wait()
		}

		l.emit(now, EventStopped, fmt.Sprintf("released %d commands", len(cmds)))
		l.logger.Info("loop stopped", "ticks", ticks, "released", len(cmds))
		close(l.done)
	})
}

// Done is closed once Stop has finished.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) schedule() {
	if l.stopped.Load() {
		return
	}
	l.deps.Scheduler.RequestTick(l.tick)
}

// tick is the scheduler callback. A panic inside a tick is logged and the
// next tick is still requested.
func (l *Loop) tick(now time.Time) {
	if l.stopped.Load() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped.Load() {
		return
	}

	defer l.schedule()
	defer func() {
		if r := recover(); r != nil {
			l.counters.Panics++
			l.logger.Error("tick panicked", "panic", r, "tick", l.counters.Ticks)
		}
	}()

	l.step(now)
}

func (l *Loop) step(now time.Time) {
	// Step 1: apply queued configuration.
	l.applyPending(now)
	l.counters.Ticks++

	// Step 2: take a finished estimate.
	fresh := l.collect()

	q := l.deps.Quality
	if q != nil {
		q.Poll(now)
	}
	background := l.background.Load()
	frozen := background || (q != nil && q.Busy())

	// Step 3: request the next estimate when due.
	if !background {
		l.maybeInfer()
	}

	// Step 4: gate and map.
	points := l.smoother.Points()
	w, h := float64(l.width), float64(l.height)
	var gates map[string]motion.State
	if fresh {
		gates = l.gate.ObserveAll(points, w, h, now)
	} else {
		gates = l.gate.States()
	}

	cmds, energy := l.engine.Tick(mapping.Input{
		Now:    now,
		Points: points,
		Gates:  gates,
		Width:  w,
		Height: h,
		Fresh:  fresh,
	})
	l.energy = energy
	l.dispatch(now, cmds)

	// Step 5: render.
	if fresh && l.deps.Render != nil {
		l.deps.Render.Submit(l.ctx, l.seq, l.smoother.Keypoints(), l.mirrored(), l.width, l.height)
	}

	// Step 6: pacing.
	d := l.rate.Observe(pacing.Sample{
		Now:      now,
		Inferred: fresh,
		InferMs:  l.lastInferMs,
		Frozen:   frozen,
	})
	if d.Escalated {
		if l.deps.Render != nil {
			l.deps.Render.SetEnabled(false)
		}
		l.emit(now, EventEscalated, fmt.Sprintf("skip %d, rendering off", d.Skip))
	}

	if q != nil && !frozen && l.rate.FPS() > 0 && every(l.counters.Ticks, l.config.QualityEvery) {
		if q.Observe(l.ctx, l.rate.FPS(), now) {
			l.emit(now, EventTierChange, q.Tier().Name)
		}
	}

	l.report(now, frozen)
}

// collect applies a finished estimate and reports whether it produced
// fresh points. Failures count as no data.
func (l *Loop) collect() bool {
	var res inferResult
	select {
	case res = <-l.results:
	default:
		return false
	}
	l.state = StateIdle

	if res.err != nil {
		l.fail("estimate pose", res.err)
		return false
	}
	if len(res.kps) == 0 {
		return false
	}

	l.smoother.Update(res.kps)
	l.width, l.height = res.frame.Width, res.frame.Height
	l.seq = res.frame.Seq
	l.lastInferMs = res.ms
	l.counters.Estimates++

	if l.hooks.OnEstimate != nil {
		l.hooks.OnEstimate(Estimate{
			Seq:       res.frame.Seq,
			At:        res.frame.Timestamp,
			Width:     res.frame.Width,
			Height:    res.frame.Height,
			Keypoints: res.kps,
			InferMs:   res.ms,
		})
	}
	return true
}

// maybeInfer counts down to the next inference. When one is due while the
// previous request is outstanding, this tick and at least one more are
// skipped.
func (l *Loop) maybeInfer() {
	l.untilInfer--
	if l.untilInfer > 0 {
		return
	}

	if l.state == StateRequesting {
		l.backlogged = true
		l.counters.Backpressure++
		l.untilInfer = 2
		return
	}

	l.backlogged = false
	if l.request() {
		l.untilInfer = l.rate.Skip()
	} else {
		l.untilInfer = 1
	}
}

func (l *Loop) request() bool {
	frame, err := l.deps.Source.NextFrame()
	if err != nil {
		l.fail("capture frame", err)
		return false
	}

	l.state = StateRequesting
	l.counters.Requests++
	timeout := l.config.InferTimeout

	if l.sync {
		l.results <- l.estimate(frame, timeout)
		return true
	}
	go func() {
		l.results <- l.estimate(frame, timeout)
	}()
	return true
}

func (l *Loop) estimate(frame pose.Frame, timeout time.Duration) (res inferResult) {
	res.frame = frame
	start := l.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			res.kps = nil
			res.err = fmt.Errorf("estimator panicked: %v", r)
		}
		res.ms = timeutil.SinceMs(l.clock.Now(), start)
	}()

	ctx := l.ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res.kps, res.err = l.deps.Estimator.Estimate(ctx, frame)
	return res
}

func (l *Loop) dispatch(now time.Time, cmds []mapping.Command) {
	if len(cmds) == 0 {
		return
	}
	for _, c := range cmds {
		if err := l.deps.Sink.Send(c); err != nil {
			l.counters.SinkErrors++
			if l.counters.SinkErrors%100 == 1 {
				l.logger.Warn("audio sink failed",
					"command", c.String(), "error", err, "count", l.counters.SinkErrors)
			}
		}
	}
	l.counters.Commands += uint64(len(cmds))
	if l.hooks.OnCommands != nil {
		l.hooks.OnCommands(now, cmds)
	}
}

// fail logs the first failure and every 100th after it.
func (l *Loop) fail(op string, err error) {
	l.counters.Failures++
	if l.counters.Failures%100 == 1 {
		l.logger.Warn(op+" failed", "error", err, "failures", l.counters.Failures)
	}
}

func (l *Loop) mirrored() bool {
	if m, ok := l.deps.Source.(Mirrorer); ok {
		return m.Mirrored()
	}
	return l.config.Mirrored
}

func every(n uint64, k int) bool {
	return k <= 1 || n%uint64(k) == 0
}
