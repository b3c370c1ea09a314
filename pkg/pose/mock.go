package pose

import (
	"context"
	"sync"
	"time"
)

// Mock implements Estimator for testing.
type Mock struct {
	// EstimateFunc is called when Estimate is invoked.
	EstimateFunc func(ctx context.Context, frame Frame) ([]Keypoint, error)

	// Delay is slept before EstimateFunc runs, honouring ctx.
	Delay time.Duration

	mu     sync.Mutex
	calls  int
	closed bool
}

// NewMock returns a mock that always answers with kps.
func NewMock(kps []Keypoint) *Mock {
	return &Mock{
		EstimateFunc: func(ctx context.Context, frame Frame) ([]Keypoint, error) {
			return Clone(kps), nil
		},
	}
}

// WithError returns a mock that always fails with err.
func WithError(err error) *Mock {
	return &Mock{
		EstimateFunc: func(ctx context.Context, frame Frame) ([]Keypoint, error) {
			return nil, WrapError("mock", err)
		},
	}
}

// Estimate implements Estimator.
func (m *Mock) Estimate(ctx context.Context, frame Frame) ([]Keypoint, error) {
	m.mu.Lock()
	m.calls++
	closed := m.closed
	fn := m.EstimateFunc
	m.mu.Unlock()

	if closed {
		return nil, ErrClosed
	}

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if fn == nil {
		return nil, nil
	}
	return fn(ctx, frame)
}

// Close implements Estimator.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Calls returns how many times Estimate was invoked.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Standing returns a full-confidence upright skeleton in a w×h frame.
// Tests move individual points from this baseline.
func Standing(w, h float64) []Keypoint {
	layout := [NumKeypoints][2]float64{
		{0.50, 0.15}, // nose
		{0.48, 0.13}, {0.52, 0.13}, // eyes
		{0.46, 0.14}, {0.54, 0.14}, // ears
		{0.42, 0.28}, {0.58, 0.28}, // shoulders
		{0.38, 0.42}, {0.62, 0.42}, // elbows
		{0.36, 0.55}, {0.64, 0.55}, // wrists
		{0.45, 0.58}, {0.55, 0.58}, // hips
		{0.45, 0.75}, {0.55, 0.75}, // knees
		{0.45, 0.92}, {0.55, 0.92}, // ankles
	}
	kps := make([]Keypoint, NumKeypoints)
	for i, p := range layout {
		kps[i] = Keypoint{ID: i, X: p[0] * w, Y: p[1] * h, Confidence: 0.9}
	}
	return kps
}
