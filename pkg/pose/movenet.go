package pose

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// MoveNetConfig holds the local MoveNet backend configuration.
type MoveNetConfig struct {
	ModelPath string // Path to the single-pose ONNX model
	InputSize int    // Square model input (192 for Lightning, 256 for Thunder)
}

// DefaultMoveNetConfig returns defaults for MoveNet Lightning.
func DefaultMoveNetConfig() MoveNetConfig {
	return MoveNetConfig{
		ModelPath: "models/movenet_singlepose_lightning.onnx",
		InputSize: 192,
	}
}

// MoveNetEstimator runs a single-pose MoveNet model locally through OpenCV DNN.
type MoveNetEstimator struct {
	net    gocv.Net
	config MoveNetConfig
	mu     sync.Mutex
	closed bool
}

// NewMoveNet loads the ONNX model.
func NewMoveNet(cfg MoveNetConfig) (*MoveNetEstimator, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load MoveNet model from %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &MoveNetEstimator{net: net, config: cfg}, nil
}

// Estimate implements Estimator.
func (m *MoveNetEstimator) Estimate(ctx context.Context, frame Frame) ([]Keypoint, error) {
	if len(frame.JPEG) == 0 {
		return nil, ErrEmptyFrame
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := gocv.IMDecode(frame.JPEG, gocv.IMReadColor)
	if err != nil {
		return nil, WrapError("movenet", fmt.Errorf("decode image: %w", err))
	}
	defer img.Close()
	if img.Empty() {
		return nil, WrapError("movenet", ErrEmptyFrame)
	}

	size := image.Pt(m.config.InputSize, m.config.InputSize)
	blob := gocv.BlobFromImage(img, 1.0, size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	m.net.SetInput(blob, "")
	output := m.net.Forward("")
	defer output.Close()

	// Output shape [1, 1, 17, 3]: (y, x, score) normalized to the input.
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, WrapError("movenet", err)
	}
	if len(data) < NumKeypoints*3 {
		return nil, WrapError("movenet", ErrMalformedResponse)
	}

	w, h := float64(img.Cols()), float64(img.Rows())
	kps := make([]Keypoint, NumKeypoints)
	for i := range kps {
		kps[i] = Keypoint{
			ID:         i,
			Y:          float64(data[i*3]) * h,
			X:          float64(data[i*3+1]) * w,
			Confidence: float64(data[i*3+2]),
		}
	}
	return kps, nil
}

// Close implements Estimator.
func (m *MoveNetEstimator) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.net.Close()
}
