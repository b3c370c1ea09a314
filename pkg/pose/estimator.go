package pose

import (
	"context"
	"encoding/json"
	"fmt"
)

// Estimator produces keypoints for a frame. Implementations may be slow;
// the control loop calls Estimate from its own goroutine and never more
// than once at a time.
type Estimator interface {
	// Estimate returns the keypoints for frame, index = point id.
	Estimate(ctx context.Context, frame Frame) ([]Keypoint, error)

	// Close releases backend resources.
	Close() error
}

// wireKeypoint is the JSON shape remote pose servers answer with.
type wireKeypoint struct {
	X     float64  `json:"x"`
	Y     float64  `json:"y"`
	Score *float64 `json:"score,omitempty"`
	Conf  *float64 `json:"confidence,omitempty"`
}

// wireResponse is the response envelope shared by the HTTP and websocket backends.
// Normalized responses carry coordinates in [0,1] and are scaled to the frame.
type wireResponse struct {
	Keypoints  []wireKeypoint `json:"keypoints"`
	Normalized bool           `json:"normalized"`
	Error      string         `json:"error,omitempty"`
}

// decodeResponse parses a remote response into pixel-space keypoints.
func decodeResponse(data []byte, frame Frame) ([]Keypoint, error) {
	var resp wireResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("server error: %s", resp.Error)
	}

	sx, sy := 1.0, 1.0
	if resp.Normalized {
		sx, sy = float64(frame.Width), float64(frame.Height)
	}

	out := make([]Keypoint, len(resp.Keypoints))
	for i, k := range resp.Keypoints {
		conf := 0.0
		switch {
		case k.Score != nil:
			conf = *k.Score
		case k.Conf != nil:
			conf = *k.Conf
		}
		out[i] = Keypoint{ID: i, X: k.X * sx, Y: k.Y * sy, Confidence: conf}
	}
	return out, nil
}
