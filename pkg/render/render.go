// Package render forwards keypoints to the skeleton-rendering collaborator.
// At most one render request is in flight; frames that arrive while the
// renderer is busy are dropped, never queued.
package render

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-posemusic/internal/log"
	"github.com/teslashibe/go-posemusic/pkg/pose"
)

// Frame is one render request. Keypoints are a private copy.
type Frame struct {
	Seq       uint64
	Keypoints []pose.Keypoint
	Mirrored  bool
	Width     int
	Height    int
}

// Renderer draws frames. Resize is always called before the first Render
// at a new size.
type Renderer interface {
	Resize(ctx context.Context, width, height int) error
	Render(ctx context.Context, frame Frame) error
}

// Stats counts coordinator activity.
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
	Resized   uint64 `json:"resized"`
}

// Coordinator is the single-flight gate in front of a Renderer.
type Coordinator struct {
	renderer Renderer
	logger   *slog.Logger

	busy    atomic.Bool
	enabled atomic.Bool
	wg      sync.WaitGroup

	// Owned by the submitting goroutine.
	width, height int
	lostSurface   atomic.Bool

	submitted atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
	resized   atomic.Uint64
}

// NewCoordinator creates an enabled coordinator.
func NewCoordinator(renderer Renderer, logger *slog.Logger) *Coordinator {
	c := &Coordinator{
		renderer: renderer,
		logger:   log.Or(logger).With("component", "render"),
	}
	c.enabled.Store(true)
	return c
}

// Submit starts rendering a copy of kps unless a render is in flight or
// rendering is disabled. It reports whether the frame was accepted.
func (c *Coordinator) Submit(ctx context.Context, seq uint64, kps []pose.Keypoint, mirrored bool, width, height int) bool {
	if c.renderer == nil || !c.enabled.Load() {
		return false
	}
	if !c.busy.CompareAndSwap(false, true) {
		c.dropped.Add(1)
		return false
	}

	resize := c.lostSurface.Swap(false) || width != c.width || height != c.height
	c.width, c.height = width, height

	frame := Frame{
		Seq:       seq,
		Keypoints: pose.Clone(kps),
		Mirrored:  mirrored,
		Width:     width,
		Height:    height,
	}
	c.submitted.Add(1)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.busy.Store(false)

		if resize {
			c.resized.Add(1)
			if err := c.renderer.Resize(ctx, width, height); err != nil {
				c.fail("resize", err)
				return
			}
		}
		if err := c.renderer.Render(ctx, frame); err != nil {
			c.fail("render", err)
		}
	}()
	return true
}

func (c *Coordinator) fail(op string, err error) {
	if n := c.failed.Add(1); n%100 == 1 {
		c.logger.Warn("renderer failed", "op", op, "error", err, "failures", n)
	}
	// A failed resize leaves the renderer at an unknown size.
	if op == "resize" {
		c.lostSurface.Store(true)
	}
}

// SetEnabled turns rendering on or off. Disabling does not cancel an
// in-flight render.
func (c *Coordinator) SetEnabled(on bool) {
	if c.enabled.Swap(on) != on {
		c.logger.Info("skeleton rendering toggled", "enabled", on)
	}
}

// Enabled reports whether rendering is on.
func (c *Coordinator) Enabled() bool {
	return c.enabled.Load()
}

// Busy reports whether a render is in flight.
func (c *Coordinator) Busy() bool {
	return c.busy.Load()
}

// Wait blocks until the in-flight render, if any, has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Stats returns a snapshot of the counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Submitted: c.submitted.Load(),
		Dropped:   c.dropped.Load(),
		Failed:    c.failed.Load(),
		Resized:   c.resized.Load(),
	}
}
