package session

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-posemusic/internal/log"
	"github.com/teslashibe/go-posemusic/internal/timeutil"
	"github.com/teslashibe/go-posemusic/pkg/loop"
	"github.com/teslashibe/go-posemusic/pkg/mapping"
	"github.com/teslashibe/go-posemusic/pkg/pose"
)

const (
	frameW = 640
	frameH = 480
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// wavingFrames builds n frames 33ms apart with the right wrist jumping
// between two heights.
func wavingFrames(n int) []FrameRecord {
	frames := make([]FrameRecord, n)
	for i := range frames {
		kps := pose.Standing(frameW, frameH)
		if i%2 == 0 {
			kps[pose.RightWrist].Y = 0.3 * frameH
		} else {
			kps[pose.RightWrist].Y = 0.7 * frameH
		}
		frames[i] = FrameRecord{
			Seq:       uint64(i + 1),
			At:        timeutil.Ms(1000 + float64(i)*33),
			Width:     frameW,
			Height:    frameH,
			InferMs:   12,
			Keypoints: kps,
		}
	}
	return frames
}

func TestStore_SessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	a, err := s.Start(ctx, "percussive", "first", timeutil.Ms(1000))
	require.NoError(t, err)
	b, err := s.Start(ctx, "dual-axis", "", timeutil.Ms(2000))
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	require.NoError(t, s.End(ctx, a.ID, timeutil.Ms(1500)))
	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.EndedAt.Equal(timeutil.Ms(1500)))
	assert.Equal(t, "first", got.Notes)

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.ID, latest.ID)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.End(ctx, "nope", timeutil.Ms(0)), ErrNotFound)
}

func TestStore_Records(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	sess, err := s.Start(ctx, "continuous-pitch", "", timeutil.Ms(0))
	require.NoError(t, err)

	kps := pose.Standing(frameW, frameH)
	require.NoError(t, s.AddFrame(ctx, sess.ID, loop.Estimate{
		Seq: 7, At: timeutil.Ms(100), Width: frameW, Height: frameH, Keypoints: kps, InferMs: 14.5,
	}))
	cmds := []mapping.Command{mapping.NoteOn(60, 0.8), mapping.PitchBend(1, 2)}
	require.NoError(t, s.AddCommands(ctx, sess.ID, timeutil.Ms(100), cmds))
	require.NoError(t, s.AddPerf(ctx, sess.ID, loop.Perf{At: timeutil.Ms(100), FPS: 30, Skip: 2, Tier: "720p", Escalated: true}))

	frames, err := s.Frames(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, uint64(7), frames[0].Seq)
	assert.Equal(t, 14.5, frames[0].InferMs)
	if diff := cmp.Diff(kps, frames[0].Keypoints); diff != "" {
		t.Errorf("keypoints mismatch (-want +got):\n%s", diff)
	}

	gotCmds, err := s.Commands(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, gotCmds, 2)
	assert.Equal(t, mapping.KindNoteOn, gotCmds[0].Command.Kind)
	assert.Equal(t, 60, gotCmds[0].Command.Pitch)
	assert.Equal(t, mapping.KindPitchBend, gotCmds[1].Command.Kind)

	perf, err := s.Perf(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, perf, 1)
	assert.Equal(t, PerfRecord{At: timeutil.Ms(100), FPS: 30, Skip: 2, Tier: "720p", Escalated: true}, perf[0])
}

func TestRecorder_WritesHooks(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	sess, err := s.Start(ctx, "percussive", "", timeutil.Ms(0))
	require.NoError(t, err)

	r := NewRecorder(s, sess, log.Nop())
	h := r.Hooks()
	h.OnEstimate(loop.Estimate{Seq: 1, At: timeutil.Ms(10), Width: frameW, Height: frameH, Keypoints: pose.Standing(frameW, frameH)})
	h.OnCommands(timeutil.Ms(10), []mapping.Command{mapping.NoteOn(36, 1)})
	h.OnPerf(loop.Perf{At: timeutil.Ms(10), FPS: 25, Skip: 1})
	require.NoError(t, r.Close(ctx, timeutil.Ms(50)))
	require.NoError(t, r.Close(ctx, timeutil.Ms(60)), "second close is a no-op")

	h.OnPerf(loop.Perf{At: timeutil.Ms(70)}) // after close: ignored

	frames, _ := s.Frames(ctx, sess.ID)
	cmds, _ := s.Commands(ctx, sess.ID)
	perf, _ := s.Perf(ctx, sess.ID)
	assert.Len(t, frames, 1)
	assert.Len(t, cmds, 1)
	assert.Len(t, perf, 1)
	assert.Zero(t, r.Dropped())

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, got.EndedAt.Equal(timeutil.Ms(50)))
}

func TestReplay_Deterministic(t *testing.T) {
	frames := wavingFrames(40)
	opts := ReplayOptions{Config: loop.DefaultConfig(), Logger: log.Nop()}

	first, err := Replay(context.Background(), frames, opts)
	require.NoError(t, err)
	second, err := Replay(context.Background(), frames, opts)
	require.NoError(t, err)

	if diff := cmp.Diff(first.Commands, second.Commands); diff != "" {
		t.Errorf("replay not deterministic (-first +second):\n%s", diff)
	}
	assert.Equal(t, 40, first.Frames)
	assert.Equal(t, uint64(40), first.Perf.Counters.Estimates)
	assert.InDelta(t, 12, first.Perf.InferMs, 1e-9, "recorded inference time is reproduced")

	var ons, offs int
	for _, c := range first.Commands {
		switch c.Command.Kind {
		case mapping.KindNoteOn:
			ons++
		case mapping.KindNoteOff:
			offs++
		}
	}
	assert.Positive(t, ons)
	assert.Equal(t, ons, offs, "replay ends with every note released")
}

func TestReplaySession_FromStore(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	sess, err := s.Start(ctx, "continuous-pitch", "", timeutil.Ms(1000))
	require.NoError(t, err)

	frames := wavingFrames(10)
	for _, f := range frames {
		require.NoError(t, s.AddFrame(ctx, sess.ID, loop.Estimate{
			Seq: f.Seq, At: f.At, Width: f.Width, Height: f.Height, Keypoints: f.Keypoints, InferMs: f.InferMs,
		}))
	}

	var progress bytes.Buffer
	res, err := ReplaySession(ctx, s, sess.ID, ReplayOptions{Config: loop.DefaultConfig(), Progress: &progress, Logger: log.Nop()})
	require.NoError(t, err)
	direct, err := Replay(ctx, frames, ReplayOptions{Config: loop.DefaultConfig(), Logger: log.Nop()})
	require.NoError(t, err)

	if diff := cmp.Diff(direct.Commands, res.Commands); diff != "" {
		t.Errorf("stored replay differs (-direct +stored):\n%s", diff)
	}
	assert.Contains(t, progress.String(), "Replaying")
}

func TestReplay_NoFrames(t *testing.T) {
	_, err := Replay(context.Background(), nil, ReplayOptions{Config: loop.DefaultConfig()})
	assert.ErrorIs(t, err, ErrNoFrames)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, Stats{}, Summarize(nil))

	s := Summarize([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.Equal(t, 8, s.N)
	assert.InDelta(t, 5, s.Mean, 1e-9)
	assert.InDelta(t, 2.138, s.StdDev, 1e-3) // sample standard deviation
	assert.Equal(t, 2.0, s.Min)
	assert.Equal(t, 9.0, s.Max)
	assert.Equal(t, 9.0, s.P95)

	one := Summarize([]float64{3})
	assert.Equal(t, Stats{N: 1, Mean: 3, Min: 3, Max: 3, P95: 3}, one)
}

func TestReport(t *testing.T) {
	sess := Session{ID: "abc", Mode: "percussive", StartedAt: timeutil.Ms(0), EndedAt: timeutil.Ms(3000)}
	perf := []PerfRecord{
		{At: timeutil.Ms(500), FPS: 30, Skip: 1, Tier: "720p"},
		{At: timeutil.Ms(1000), FPS: 20, Skip: 2, Tier: "720p"},
		{At: timeutil.Ms(1500), FPS: 16, Skip: 2, Tier: "low", Escalated: true},
	}
	cmds := []CommandRecord{
		{Command: mapping.NoteOn(36, 1)},
		{Command: mapping.NoteOff(36)},
		{Command: mapping.NoteOn(38, 1)},
	}
	r := Summarise(sess, wavingFrames(4), cmds, perf)

	assert.Equal(t, 3*time.Second, r.Duration)
	assert.Equal(t, 2, r.Notes)
	assert.Equal(t, 1, r.SkipChanges)
	assert.Equal(t, 1, r.TierChanges)
	assert.True(t, r.Escalated)
	assert.InDelta(t, 22, r.FPS.Mean, 1e-9)
	assert.InDelta(t, 12, r.InferMs.Mean, 1e-9)

	var text bytes.Buffer
	require.NoError(t, r.WriteText(&text))
	assert.Contains(t, text.String(), "skip changes")
	assert.Contains(t, text.String(), "abc")

	var html bytes.Buffer
	require.NoError(t, r.RenderHTML(&html))
	assert.Contains(t, html.String(), "Frame rate and inference")
	assert.Contains(t, html.String(), "echarts")
}

func TestBuildReport_UnknownSession(t *testing.T) {
	_, err := BuildReport(context.Background(), openStore(t), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
