// Package pose defines the keypoint model consumed by the control loop and the
// estimator backends that produce it.
//
// Keypoints follow the 17-point COCO ordering used by MoveNet and most
// single-person pose models: the index in the returned slice is the semantic
// point id.
package pose

import (
	"image"
	"time"
)

// Point ids in COCO order.
const (
	Nose = iota
	LeftEye
	RightEye
	LeftEar
	RightEar
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle

	// NumKeypoints is the number of points a full estimate contains.
	NumKeypoints
)

var names = [NumKeypoints]string{
	"nose",
	"left_eye",
	"right_eye",
	"left_ear",
	"right_ear",
	"left_shoulder",
	"right_shoulder",
	"left_elbow",
	"right_elbow",
	"left_wrist",
	"right_wrist",
	"left_hip",
	"right_hip",
	"left_knee",
	"right_knee",
	"left_ankle",
	"right_ankle",
}

// Keypoint is a single estimated body point in pixel space.
type Keypoint struct {
	ID         int     `json:"id"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
}

// Name returns the semantic name of a point id, or "" if unknown.
func Name(id int) string {
	if id < 0 || id >= NumKeypoints {
		return ""
	}
	return names[id]
}

// ID returns the point id for a semantic name.
func ID(name string) (int, bool) {
	for i, n := range names {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

// Names returns all point names in id order.
func Names() []string {
	out := make([]string, NumKeypoints)
	copy(out, names[:])
	return out
}

// Frame is one captured camera frame handed to an estimator.
type Frame struct {
	Seq       uint64
	Width     int
	Height    int
	Timestamp time.Time
	JPEG      []byte
}

// Size returns the frame dimensions.
func (f Frame) Size() image.Point {
	return image.Pt(f.Width, f.Height)
}

// Clone returns a deep copy of the keypoints.
func Clone(kps []Keypoint) []Keypoint {
	if kps == nil {
		return nil
	}
	out := make([]Keypoint, len(kps))
	copy(out, kps)
	return out
}
