package pose

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-posemusic/internal/httpc"
)

// HTTPEstimator posts each JPEG frame to a pose server and decodes the JSON answer.
type HTTPEstimator struct {
	url    string
	client *http.Client
	closed atomic.Bool
}

// NewHTTPEstimator creates an estimator for the given endpoint.
// A zero timeout uses httpc.DefaultTimeout.
func NewHTTPEstimator(url string, timeout time.Duration) *HTTPEstimator {
	return &HTTPEstimator{
		url:    url,
		client: httpc.NewClient(timeout),
	}
}

// Estimate implements Estimator.
func (e *HTTPEstimator) Estimate(ctx context.Context, frame Frame) ([]Keypoint, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if len(frame.JPEG) == 0 {
		return nil, ErrEmptyFrame
	}

	url := fmt.Sprintf("%s?width=%d&height=%d", e.url, frame.Width, frame.Height)
	data, err := httpc.PostBytes(ctx, e.client, url, "image/jpeg", frame.JPEG)
	if err != nil {
		return nil, WrapError("http", err)
	}

	kps, err := decodeResponse(data, frame)
	return kps, WrapError("http", err)
}

// Close implements Estimator.
func (e *HTTPEstimator) Close() error {
	e.closed.Store(true)
	e.client.CloseIdleConnections()
	return nil
}
