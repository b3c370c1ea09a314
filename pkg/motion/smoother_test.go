package motion

import (
	"math"
	"testing"

	"github.com/teslashibe/go-posemusic/pkg/pose"
)

func kp(id int, x, y, conf float64) pose.Keypoint {
	return pose.Keypoint{ID: id, X: x, Y: y, Confidence: conf}
}

func TestSmoother_EMA(t *testing.T) {
	s := NewSmoother(SmoothingConfig{PositionAlpha: 0.5, MinConfidence: 0.3})

	s.Update([]pose.Keypoint{kp(0, 100, 100, 0.9)})
	s.Update([]pose.Keypoint{kp(0, 200, 50, 0.8)})

	p, ok := s.Point(0)
	if !ok {
		t.Fatal("point 0 missing")
	}
	if p.X != 150 || p.Y != 75 {
		t.Errorf("position = (%v, %v), want (150, 75)", p.X, p.Y)
	}
	if p.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", p.Confidence)
	}
	if p.Name != "nose" {
		t.Errorf("name = %q, want nose", p.Name)
	}
}

func TestSmoother_LowConfidenceHoldsPosition(t *testing.T) {
	s := NewSmoother(DefaultSmoothingConfig())

	s.Update([]pose.Keypoint{kp(0, 100, 100, 0.9), kp(1, 10, 10, 0.9)})
	s.Update([]pose.Keypoint{kp(0, 400, 400, 0.2), kp(1, 10, 10, 0.9)})

	p, _ := s.Point(0)
	if p.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", p.Confidence)
	}
	if p.X != 100 || p.Y != 100 {
		t.Errorf("low-confidence point moved to (%v, %v)", p.X, p.Y)
	}
	if len(s.Points()) != 2 {
		t.Errorf("low-confidence point was removed")
	}

	// Threshold is exclusive.
	s.Update([]pose.Keypoint{kp(0, 400, 400, 0.3), kp(1, 10, 10, 0.9)})
	if p, _ := s.Point(0); p.Confidence != 0 {
		t.Errorf("confidence at threshold = %v, want 0", p.Confidence)
	}
}

func TestSmoother_LengthMismatchReinitializes(t *testing.T) {
	s := NewSmoother(DefaultSmoothingConfig())

	s.Update([]pose.Keypoint{kp(0, 100, 100, 0.9)})
	s.Update([]pose.Keypoint{kp(0, 300, 300, 0.9), kp(1, 50, 60, 0.1)})

	pts := s.Points()
	if len(pts) != 2 {
		t.Fatalf("len = %d, want 2", len(pts))
	}
	if pts[0].X != 300 {
		t.Errorf("point 0 not reinitialized: x = %v", pts[0].X)
	}
	if pts[1].Confidence != 0 || pts[1].X != 50 {
		t.Errorf("point 1 = %+v, want raw position with confidence 0", pts[1])
	}
}

func TestSmoother_EmptyIgnored(t *testing.T) {
	s := NewSmoother(DefaultSmoothingConfig())
	s.Update(nil)
	if s.Ready() {
		t.Fatal("empty update made smoother ready")
	}

	s.Update([]pose.Keypoint{kp(0, 1, 2, 0.9)})
	s.Update([]pose.Keypoint{})
	if p, _ := s.Point(0); p.X != 1 {
		t.Errorf("empty update changed state")
	}
}

func TestSmoother_PointsIsCopy(t *testing.T) {
	s := NewSmoother(DefaultSmoothingConfig())
	s.Update(pose.Standing(640, 480))

	pts := s.Points()
	pts[0].X = math.NaN()
	if p, _ := s.Point(0); math.IsNaN(p.X) {
		t.Error("Points() returned live state")
	}
}

func TestSmoothingConfig_Validate(t *testing.T) {
	if errs := DefaultSmoothingConfig().Validate(); len(errs) != 0 {
		t.Errorf("default config invalid: %v", errs)
	}
	bad := SmoothingConfig{PositionAlpha: 0, MinConfidence: 1}
	if errs := bad.Validate(); len(errs) != 2 {
		t.Errorf("got %d errors, want 2: %v", len(errs), errs)
	}
}
