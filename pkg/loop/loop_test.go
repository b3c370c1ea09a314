package loop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-posemusic/internal/log"
	"github.com/teslashibe/go-posemusic/internal/timeutil"
	"github.com/teslashibe/go-posemusic/pkg/camera"
	"github.com/teslashibe/go-posemusic/pkg/mapping"
	"github.com/teslashibe/go-posemusic/pkg/pacing"
	"github.com/teslashibe/go-posemusic/pkg/pose"
	"github.com/teslashibe/go-posemusic/pkg/render"
)

const (
	frameW = 640
	frameH = 480
)

// stubSource hands out numbered blank frames.
type stubSource struct {
	mu    sync.Mutex
	seq   uint64
	panic bool
}

func (s *stubSource) NextFrame() (pose.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panic {
		s.panic = false
		panic("camera gone")
	}
	s.seq++
	return pose.Frame{Seq: s.seq, Width: frameW, Height: frameH, Timestamp: time.Now()}, nil
}

// recordingSink keeps every command it receives.
type recordingSink struct {
	mu   sync.Mutex
	cmds []mapping.Command
}

func (r *recordingSink) Send(c mapping.Command) error {
	r.mu.Lock()
	r.cmds = append(r.cmds, c)
	r.mu.Unlock()
	return nil
}

func (r *recordingSink) commands() []mapping.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]mapping.Command(nil), r.cmds...)
}

type nopRenderer struct{}

func (nopRenderer) Resize(context.Context, int, int) error      { return nil }
func (nopRenderer) Render(context.Context, render.Frame) error { return nil }

// waving answers with a standing pose whose right wrist jumps between two
// heights on alternate frames.
func waving() *pose.Mock {
	return &pose.Mock{
		EstimateFunc: func(ctx context.Context, f pose.Frame) ([]pose.Keypoint, error) {
			kps := pose.Standing(frameW, frameH)
			if f.Seq%2 == 0 {
				kps[pose.RightWrist].Y = 0.3 * frameH
			} else {
				kps[pose.RightWrist].Y = 0.7 * frameH
			}
			return kps, nil
		},
	}
}

type harness struct {
	loop   *Loop
	sched  *ManualScheduler
	source *stubSource
	sink   *recordingSink
	est    *pose.Mock
	clock  *timeutil.MockClock
	events []Event
}

func newHarness(t *testing.T, cfg Config, est *pose.Mock, extra func(*Deps), opts ...Option) *harness {
	t.Helper()
	h := &harness{
		sched:  NewManualScheduler(),
		source: &stubSource{},
		sink:   &recordingSink{},
		est:    est,
		clock:  timeutil.NewMockClock(timeutil.Ms(0)),
	}
	deps := Deps{
		Scheduler: h.sched,
		Source:    h.source,
		Estimator: est,
		Sink:      h.sink,
	}
	if extra != nil {
		extra(&deps)
	}
	opts = append([]Option{
		WithLogger(log.Nop()),
		WithClock(h.clock),
		WithHooks(Hooks{OnEvent: func(e Event) { h.events = append(h.events, e) }}),
	}, opts...)

	l, err := New(cfg, deps, opts...)
	require.NoError(t, err)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(l.Stop)
	h.loop = l
	return h
}

// run steps n ticks every interval milliseconds.
func (h *harness) run(t *testing.T, n int, intervalMs float64) {
	t.Helper()
	for i := 0; i < n; i++ {
		now := h.clock.Advance(time.Duration(intervalMs * float64(time.Millisecond)))
		require.True(t, h.sched.Step(now), "tick %d not scheduled", i)
	}
}

func (h *harness) eventKinds() []string {
	var out []string
	for _, e := range h.events {
		out = append(out, e.Kind)
	}
	return out
}

func TestNew_MissingDependency(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{Scheduler: NewManualScheduler()})
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Smoothing.PositionAlpha = 0
	_, err := New(cfg, Deps{
		Scheduler: NewManualScheduler(),
		Source:    &stubSource{},
		Estimator: pose.NewMock(nil),
		Sink:      &recordingSink{},
	})
	assert.Error(t, err)
}

func TestLoop_InfersEveryTickAtSkipOne(t *testing.T) {
	h := newHarness(t, DefaultConfig(), pose.NewMock(pose.Standing(frameW, frameH)), nil, WithSyncInference())
	h.run(t, 5, 33)

	assert.Equal(t, 5, h.est.Calls())
	st := h.loop.Status()
	assert.Equal(t, uint64(5), st.Counters.Ticks)
	assert.Equal(t, uint64(4), st.Counters.Estimates, "a result is applied by the tick after its request")
	assert.Zero(t, st.Counters.Backpressure)
}

func TestLoop_SkipFactorSpacesRequests(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rate.InitialSkip = 3
	h := newHarness(t, cfg, pose.NewMock(pose.Standing(frameW, frameH)), nil, WithSyncInference())
	h.run(t, 7, 33)

	// Requests on ticks 1, 4 and 7.
	assert.Equal(t, 3, h.est.Calls())
	assert.Equal(t, 3, h.loop.Status().Skip)
}

func TestLoop_Backpressure(t *testing.T) {
	release := make(chan struct{})
	est := &pose.Mock{
		EstimateFunc: func(ctx context.Context, f pose.Frame) ([]pose.Keypoint, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return pose.Standing(frameW, frameH), nil
		},
	}
	cfg := DefaultConfig()
	cfg.InferTimeout = 0
	h := newHarness(t, cfg, est, nil)

	h.run(t, 1, 33) // request
	require.Eventually(t, func() bool { return est.Calls() == 1 }, time.Second, time.Millisecond)

	h.run(t, 1, 33) // due but busy
	st := h.loop.Status()
	assert.Equal(t, uint64(1), st.Counters.Backpressure)
	assert.True(t, st.Backlogged)
	assert.Equal(t, "requesting", st.State)

	h.run(t, 1, 33) // forced extra skip
	h.run(t, 1, 33) // due, still busy
	assert.Equal(t, uint64(2), h.loop.Status().Counters.Backpressure)

	close(release)
	require.Eventually(t, func() bool { return len(h.loop.results) == 1 }, time.Second, time.Millisecond)

	h.run(t, 1, 33) // result applied, one more tick to wait
	st = h.loop.Status()
	assert.Equal(t, uint64(1), st.Counters.Estimates)
	assert.Equal(t, "idle", st.State)
	assert.Equal(t, 1, est.Calls())

	h.run(t, 1, 33) // due and idle
	require.Eventually(t, func() bool { return est.Calls() == 2 }, time.Second, time.Millisecond)
	assert.False(t, h.loop.Status().Backlogged)
}

func TestLoop_StopReleasesEveryNote(t *testing.T) {
	h := newHarness(t, DefaultConfig(), waving(), nil, WithSyncInference())
	h.run(t, 8, 33)

	before := h.sink.commands()
	var ons int
	for _, c := range before {
		if c.Kind == mapping.KindNoteOn {
			ons++
		}
	}
	require.Positive(t, ons, "waving should have played something")

	h.loop.Stop()
	<-h.loop.Done()
	ticks := h.loop.Status().Counters.Ticks

	// The tick requested before Stop runs as a no-op and requests nothing.
	h.sched.Step(h.clock.Advance(33 * time.Millisecond))
	assert.False(t, h.sched.Pending())
	assert.Equal(t, ticks, h.loop.Status().Counters.Ticks)

	sounding := map[int]int{}
	for _, c := range h.sink.commands() {
		switch c.Kind {
		case mapping.KindNoteOn:
			sounding[c.Pitch]++
		case mapping.KindNoteOff:
			sounding[c.Pitch]--
		}
	}
	for pitch, n := range sounding {
		assert.Zero(t, n, "pitch %d left sounding", pitch)
	}

	after := h.sink.commands()[len(before):]
	require.NotEmpty(t, after)
	var bend bool
	for _, c := range after {
		if c.Kind == mapping.KindPitchBend {
			bend = true
			assert.Zero(t, c.Semitones)
		}
	}
	assert.True(t, bend, "stop recentres pitch bend")
	assert.Contains(t, h.eventKinds(), EventStopped)
}

func TestLoop_StopIsIdempotent(t *testing.T) {
	h := newHarness(t, DefaultConfig(), pose.NewMock(nil), nil, WithSyncInference())
	h.run(t, 2, 33)
	h.loop.Stop()
	n := len(h.sink.commands())
	h.loop.Stop()
	assert.Len(t, h.sink.commands(), n)
	assert.ErrorIs(t, h.loop.SetMode(mapping.ModePercussive), ErrStopped)
}

func TestLoop_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l, err := New(DefaultConfig(), Deps{
		Scheduler: NewManualScheduler(),
		Source:    &stubSource{},
		Estimator: pose.NewMock(nil),
		Sink:      &recordingSink{},
	}, WithLogger(log.Nop()))
	require.NoError(t, err)
	require.NoError(t, l.Start(ctx))
	assert.ErrorIs(t, l.Start(ctx), ErrAlreadyStarted)

	cancel()
	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not stop on cancel")
	}
}

func TestLoop_SetModeAppliedNextTick(t *testing.T) {
	h := newHarness(t, DefaultConfig(), waving(), nil, WithSyncInference())
	h.run(t, 4, 33)

	require.NoError(t, h.loop.SetMode(mapping.ModePercussive))
	assert.Equal(t, mapping.ModePercussive, h.loop.Config().Mapping.Mode, "queued config is visible")
	assert.Equal(t, mapping.ModeContinuousPitch, h.loop.Status().Mode, "not applied before the tick")

	h.run(t, 1, 33)
	assert.Equal(t, mapping.ModePercussive, h.loop.Status().Mode)
	assert.Contains(t, h.eventKinds(), EventModeChange)
}

func TestLoop_InvalidUpdateRejected(t *testing.T) {
	h := newHarness(t, DefaultConfig(), pose.NewMock(nil), nil)
	err := h.loop.Update(func(c *Config) { c.Rate.MinSkip = 0 })
	assert.Error(t, err)
	assert.Equal(t, 1, h.loop.Config().Rate.MinSkip)
}

func TestLoop_BackgroundStopsInference(t *testing.T) {
	h := newHarness(t, DefaultConfig(), pose.NewMock(pose.Standing(frameW, frameH)), nil, WithSyncInference())
	h.run(t, 2, 33)
	calls := h.est.Calls()

	h.loop.SetBackground(true)
	h.run(t, 5, 33)
	assert.Equal(t, calls, h.est.Calls())
	st := h.loop.Status()
	assert.True(t, st.Frozen)
	assert.True(t, st.Background)

	h.loop.SetBackground(false)
	h.run(t, 2, 33)
	assert.Greater(t, h.est.Calls(), calls)
	assert.Equal(t, []string{EventBackground, EventBackground}, h.eventKinds())
}

func TestLoop_EstimatorFailureIsNoData(t *testing.T) {
	h := newHarness(t, DefaultConfig(), pose.WithError(errors.New("boom")), nil, WithSyncInference())
	h.run(t, 4, 33)

	st := h.loop.Status()
	assert.Zero(t, st.Counters.Estimates)
	assert.Equal(t, uint64(3), st.Counters.Failures)
	assert.Equal(t, 4, h.est.Calls())
}

func TestLoop_EstimatorPanicIsFailure(t *testing.T) {
	est := &pose.Mock{
		EstimateFunc: func(ctx context.Context, f pose.Frame) ([]pose.Keypoint, error) {
			panic("model exploded")
		},
	}
	h := newHarness(t, DefaultConfig(), est, nil, WithSyncInference())
	h.run(t, 3, 33)
	assert.Equal(t, uint64(2), h.loop.Status().Counters.Failures)
}

func TestLoop_TickPanicRecovered(t *testing.T) {
	h := newHarness(t, DefaultConfig(), pose.NewMock(pose.Standing(frameW, frameH)), nil, WithSyncInference())
	h.source.panic = true

	h.run(t, 1, 33)
	assert.True(t, h.sched.Pending(), "next tick still requested")

	h.run(t, 3, 33)
	assert.Equal(t, uint64(1), h.loop.Status().Counters.Panics)
	assert.Positive(t, h.est.Calls())
}

func TestLoop_EscalationDisablesRendering(t *testing.T) {
	var coord *render.Coordinator
	h := newHarness(t, DefaultConfig(), pose.NewMock(pose.Standing(frameW, frameH)), func(d *Deps) {
		coord = render.NewCoordinator(nopRenderer{}, log.Nop())
		d.Render = coord
	}, WithSyncInference())

	// 20 fps is under the escalation floor but above the slow threshold.
	h.run(t, 80, 50)

	var escalations int
	for _, k := range h.eventKinds() {
		if k == EventEscalated {
			escalations++
		}
	}
	assert.Equal(t, 1, escalations)
	coord.Wait()
	assert.False(t, coord.Enabled())
	st := h.loop.Status()
	assert.True(t, st.Escalated)
	assert.GreaterOrEqual(t, st.Skip, 2)
	assert.False(t, st.Rendering)

	h.loop.SetRenderEnabled(true)
	h.run(t, 1, 50)
	assert.True(t, coord.Enabled())
	assert.False(t, h.loop.Status().Escalated, "escalation re-armed")
}

func TestLoop_PerfHook(t *testing.T) {
	var perfs []Perf
	cfg := DefaultConfig()
	cfg.PerfEvery = 5
	newH := newHarness(t, cfg, pose.NewMock(pose.Standing(frameW, frameH)), nil,
		WithSyncInference(), WithHooks(Hooks{OnPerf: func(p Perf) { perfs = append(perfs, p) }}))
	newH.run(t, 12, 33)

	require.Len(t, perfs, 2)
	assert.Equal(t, uint64(5), perfs[0].Counters.Ticks)
	assert.Equal(t, uint64(10), perfs[1].Counters.Ticks)
	assert.InDelta(t, 1000.0/33, perfs[1].FPS, 0.5)
}

func TestMultiSink_JoinsErrors(t *testing.T) {
	a := &recordingSink{}
	boom := errors.New("port closed")
	m := MultiSink{a, SinkFunc(func(mapping.Command) error { return boom })}

	err := m.Send(mapping.NoteOn(60, 1))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, a.commands(), 1)
}

func TestManualScheduler_StepRunsOnce(t *testing.T) {
	s := NewManualScheduler()
	assert.False(t, s.Step(timeutil.Ms(0)))

	var got []time.Time
	s.RequestTick(func(now time.Time) { got = append(got, now) })
	assert.True(t, s.Pending())
	assert.True(t, s.Step(timeutil.Ms(16)))
	assert.False(t, s.Step(timeutil.Ms(32)))
	assert.Equal(t, []time.Time{timeutil.Ms(16)}, got)
}

func TestTickerScheduler_Run(t *testing.T) {
	s := NewTickerScheduler(time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticked := make(chan struct{})
	var once sync.Once
	s.RequestTick(func(time.Time) { once.Do(func() { close(ticked) }) })

	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	select {
	case <-ticked:
	case <-time.After(time.Second):
		t.Fatal("tick never ran")
	}
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func TestMergeHooks_Order(t *testing.T) {
	var got []string
	h := MergeHooks(
		Hooks{OnEvent: func(e Event) { got = append(got, "a:"+e.Kind) }},
		Hooks{},
		Hooks{OnEvent: func(e Event) { got = append(got, "b:"+e.Kind) }, OnPerf: func(Perf) { got = append(got, "perf") }},
	)
	h.OnEvent(Event{Kind: EventStopped})
	h.OnPerf(Perf{})
	assert.Nil(t, h.OnEstimate)
	assert.Equal(t, []string{"a:stopped", "b:stopped", "perf"}, got)
}

func TestLoop_SetTier(t *testing.T) {
	q := pacing.NewQualityTuner(pacing.DefaultQualityConfig(), camera.Tiers(), 1, nil, log.Nop())
	h := newHarness(t, DefaultConfig(), pose.NewMock(pose.Standing(frameW, frameH)), func(d *Deps) {
		d.Quality = q
	}, WithSyncInference())

	assert.ErrorIs(t, h.loop.SetTier("8k"), ErrUnknownTier)
	require.NoError(t, h.loop.SetTier("low"))
	h.run(t, 1, 33)

	assert.Equal(t, "low", h.loop.Status().Tier)
	assert.Contains(t, h.eventKinds(), EventTierChange)
}

func TestLoop_SetTierWithoutTuner(t *testing.T) {
	h := newHarness(t, DefaultConfig(), pose.NewMock(nil), nil)
	assert.ErrorIs(t, h.loop.SetTier("low"), ErrNoQualityTuner)
}
