// Package motion turns raw keypoint estimates into smoothed positions and
// per-channel motion gates.
package motion

import (
	"github.com/teslashibe/go-posemusic/pkg/pose"
)

// SmoothingConfig controls the keypoint EMA filter.
type SmoothingConfig struct {
	PositionAlpha float64 `json:"position_alpha"` // 0-1, higher = more weight on new reading
	MinConfidence float64 `json:"min_confidence"` // Points at or below this are treated as missing
}

// DefaultSmoothingConfig returns the defaults used by the live loop.
func DefaultSmoothingConfig() SmoothingConfig {
	return SmoothingConfig{
		PositionAlpha: 0.40,
		MinConfidence: 0.30,
	}
}

// Validate returns a list of problems, empty when the config is usable.
func (c SmoothingConfig) Validate() []string {
	var errs []string
	if c.PositionAlpha <= 0 || c.PositionAlpha > 1 {
		errs = append(errs, "position_alpha must be in (0, 1]")
	}
	if c.MinConfidence < 0 || c.MinConfidence >= 1 {
		errs = append(errs, "min_confidence must be in [0, 1)")
	}
	return errs
}

// SmoothedPoint is the persisted filter state for one point id.
type SmoothedPoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
	Name       string  `json:"name"`
}

// Visible reports whether the point passed the confidence gate on the last update.
func (p SmoothedPoint) Visible() bool {
	return p.Confidence > 0
}

// Smoother applies a per-point EMA to keypoint positions.
// Points that drop below MinConfidence keep their last position with
// confidence 0; they are never removed.
type Smoother struct {
	config SmoothingConfig
	points []SmoothedPoint
}

// NewSmoother creates a smoother.
func NewSmoother(config SmoothingConfig) *Smoother {
	return &Smoother{config: config}
}

// SetConfig replaces the filter coefficients. State is kept.
func (s *Smoother) SetConfig(config SmoothingConfig) {
	s.config = config
}

// Config returns the current configuration.
func (s *Smoother) Config() SmoothingConfig {
	return s.config
}

// Update folds one estimate into the state. An empty estimate is ignored;
// an estimate whose length differs from the previous one reinitializes
// every point from the raw values.
func (s *Smoother) Update(raw []pose.Keypoint) {
	if len(raw) == 0 {
		return
	}

	if len(raw) != len(s.points) {
		s.points = make([]SmoothedPoint, len(raw))
		for i, kp := range raw {
			s.points[i] = SmoothedPoint{
				X:          kp.X,
				Y:          kp.Y,
				Confidence: s.gate(kp.Confidence),
				Name:       pose.Name(i),
			}
		}
		return
	}

	a := s.config.PositionAlpha
	for i, kp := range raw {
		p := &s.points[i]
		if kp.Confidence > s.config.MinConfidence {
			p.X += a * (kp.X - p.X)
			p.Y += a * (kp.Y - p.Y)
			p.Confidence = kp.Confidence
		} else {
			p.Confidence = 0
		}
	}
}

func (s *Smoother) gate(conf float64) float64 {
	if conf > s.config.MinConfidence {
		return conf
	}
	return 0
}

// Ready reports whether a frame has been seen.
func (s *Smoother) Ready() bool {
	return len(s.points) > 0
}

// Point returns the state for one point id.
func (s *Smoother) Point(id int) (SmoothedPoint, bool) {
	if id < 0 || id >= len(s.points) {
		return SmoothedPoint{}, false
	}
	return s.points[id], true
}

// Points returns a copy of the state, index = point id.
func (s *Smoother) Points() []SmoothedPoint {
	out := make([]SmoothedPoint, len(s.points))
	copy(out, s.points)
	return out
}

// Keypoints returns the state as keypoints, for rendering and recording.
func (s *Smoother) Keypoints() []pose.Keypoint {
	out := make([]pose.Keypoint, len(s.points))
	for i, p := range s.points {
		out[i] = pose.Keypoint{ID: i, X: p.X, Y: p.Y, Confidence: p.Confidence}
	}
	return out
}

// Reset drops all state.
func (s *Smoother) Reset() {
	s.points = nil
}
