package pose

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSEstimator keeps a websocket open to a pose server. Each request is a
// binary JPEG message; each response a JSON text message.
type WSEstimator struct {
	url     string
	timeout time.Duration
	dialer  *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWSEstimator creates an estimator that dials url lazily on first use.
func NewWSEstimator(url string, timeout time.Duration) *WSEstimator {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &WSEstimator{
		url:     url,
		timeout: timeout,
		dialer: &websocket.Dialer{
			HandshakeTimeout: timeout,
		},
	}
}

// Estimate implements Estimator. A failed exchange drops the connection so
// the next call redials.
func (e *WSEstimator) Estimate(ctx context.Context, frame Frame) ([]Keypoint, error) {
	if len(frame.JPEG) == 0 {
		return nil, ErrEmptyFrame
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}

	if e.conn == nil {
		conn, _, err := e.dialer.DialContext(ctx, e.url, nil)
		if err != nil {
			return nil, WrapError("ws", fmt.Errorf("dial %s: %w", e.url, err))
		}
		e.conn = conn
	}

	deadline := time.Now().Add(e.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	e.conn.SetWriteDeadline(deadline)
	e.conn.SetReadDeadline(deadline)

	if err := e.conn.WriteMessage(websocket.BinaryMessage, frame.JPEG); err != nil {
		e.dropLocked()
		return nil, WrapError("ws", fmt.Errorf("write frame: %w", err))
	}

	_, data, err := e.conn.ReadMessage()
	if err != nil {
		e.dropLocked()
		return nil, WrapError("ws", fmt.Errorf("read keypoints: %w", err))
	}

	kps, err := decodeResponse(data, frame)
	return kps, WrapError("ws", err)
}

func (e *WSEstimator) dropLocked() {
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
}

// Close implements Estimator.
func (e *WSEstimator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	if e.conn == nil {
		return nil
	}
	e.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := e.conn.Close()
	e.conn = nil
	return err
}
