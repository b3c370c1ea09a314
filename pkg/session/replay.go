package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/teslashibe/go-posemusic/internal/log"
	"github.com/teslashibe/go-posemusic/internal/timeutil"
	"github.com/teslashibe/go-posemusic/pkg/loop"
	"github.com/teslashibe/go-posemusic/pkg/mapping"
	"github.com/teslashibe/go-posemusic/pkg/pose"
)

// ErrNoFrames is returned when a session has nothing to replay.
var ErrNoFrames = errors.New("session: no frames recorded")

// defaultFrameGap spaces the closing tick when only one frame exists.
const defaultFrameGap = 33 * time.Millisecond

// ReplayOptions configures a replay.
type ReplayOptions struct {
	Config   loop.Config
	Sink     loop.Sink // nil discards
	Hooks    loop.Hooks
	Progress io.Writer // nil disables the progress bar
	Logger   *slog.Logger
}

// ReplayResult is what a replay produced.
type ReplayResult struct {
	Frames   int
	Commands []CommandRecord
	Perf     loop.Perf
}

// ReplaySession loads a session's frames and replays them.
func ReplaySession(ctx context.Context, store *Store, id string, opts ReplayOptions) (*ReplayResult, error) {
	frames, err := store.Frames(ctx, id)
	if err != nil {
		return nil, err
	}
	return Replay(ctx, frames, opts)
}

// Replay drives a fresh loop through recorded frames, one tick per frame at
// the frame's timestamp, with estimates answered from the recording. The
// skip factor is pinned to 1 so every frame is used, which makes the
// output a pure function of the frames and the config.
func Replay(ctx context.Context, frames []FrameRecord, opts ReplayOptions) (*ReplayResult, error) {
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	logger := log.Or(opts.Logger).With("component", "replay")

	cfg := opts.Config
	cfg.Rate.MinSkip, cfg.Rate.MaxSkip, cfg.Rate.InitialSkip = 1, 1, 1
	cfg.Rate.EscalateTicks = 0

	clock := timeutil.NewMockClock(frames[0].At)
	sched := loop.NewManualScheduler()

	sink := opts.Sink
	if sink == nil {
		sink = loop.SinkFunc(func(mapping.Command) error { return nil })
	}

	res := &ReplayResult{Frames: len(frames)}
	collect := loop.Hooks{OnCommands: func(at time.Time, cmds []mapping.Command) {
		for _, c := range cmds {
			res.Commands = append(res.Commands, CommandRecord{At: at, Command: c})
		}
	}}

	l, err := loop.New(cfg, loop.Deps{
		Scheduler: sched,
		Source:    &replaySource{frames: frames},
		Estimator: newReplayEstimator(frames, clock),
		Sink:      sink,
	},
		loop.WithLogger(logger),
		loop.WithClock(clock),
		loop.WithHooks(loop.MergeHooks(opts.Hooks, collect)),
		loop.WithSyncInference(),
	)
	if err != nil {
		return nil, fmt.Errorf("build replay loop: %w", err)
	}
	if err := l.Start(ctx); err != nil {
		return nil, err
	}

	var bar *progressbar.ProgressBar
	if opts.Progress != nil {
		bar = progressbar.NewOptions(len(frames),
			progressbar.OptionSetDescription("Replaying"),
			progressbar.OptionSetWriter(opts.Progress),
			progressbar.OptionShowCount(),
		)
	}

	for _, f := range frames {
		if err := ctx.Err(); err != nil {
			l.Stop()
			return nil, err
		}
		clock.Set(f.At)
		sched.Step(f.At)
		if bar != nil {
			_ = bar.Add(1)
		}
	}

	// One more tick applies the last estimate.
	gap := defaultFrameGap
	if n := len(frames); n > 1 {
		if d := frames[n-1].At.Sub(frames[n-2].At); d > 0 {
			gap = d
		}
	}
	end := frames[len(frames)-1].At.Add(gap)
	clock.Set(end)
	sched.Step(end)

	res.Perf = l.Status()
	l.Stop()
	if bar != nil {
		_ = bar.Finish()
	}

	logger.Info("replay finished", "frames", res.Frames, "commands", len(res.Commands))
	return res, nil
}

// replaySource hands out the recorded frames in order, then repeats the
// last one.
type replaySource struct {
	frames []FrameRecord
	next   int
}

func (s *replaySource) NextFrame() (pose.Frame, error) {
	i := s.next
	if i >= len(s.frames) {
		i = len(s.frames) - 1
	} else {
		s.next++
	}
	f := s.frames[i]
	return pose.Frame{Seq: f.Seq, Width: f.Width, Height: f.Height, Timestamp: f.At}, nil
}

// replayEstimator answers with the recorded keypoints for a frame and
// advances the clock by the recorded inference time, so the loop measures
// the same durations it saw live.
type replayEstimator struct {
	mu     sync.Mutex
	frames map[uint64]FrameRecord
	clock  *timeutil.MockClock
}

func newReplayEstimator(frames []FrameRecord, clock *timeutil.MockClock) *replayEstimator {
	m := make(map[uint64]FrameRecord, len(frames))
	for _, f := range frames {
		m[f.Seq] = f
	}
	return &replayEstimator{frames: m, clock: clock}
}

func (e *replayEstimator) Estimate(ctx context.Context, frame pose.Frame) ([]pose.Keypoint, error) {
	e.mu.Lock()
	f, ok := e.frames[frame.Seq]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no recorded estimate for frame %d", frame.Seq)
	}
	e.clock.Advance(time.Duration(f.InferMs * float64(time.Millisecond)))
	return pose.Clone(f.Keypoints), nil
}

func (e *replayEstimator) Close() error {
	return nil
}
