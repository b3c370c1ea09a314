package render

import (
	"context"

	"github.com/teslashibe/go-posemusic/pkg/hub"
	"github.com/teslashibe/go-posemusic/pkg/pose"
	"github.com/teslashibe/go-posemusic/pkg/protocol"
)

// HubRenderer sends frames to browser renderers connected to a hub.
type HubRenderer struct {
	hub *hub.Hub
}

// NewHubRenderer creates a renderer that broadcasts on h.
func NewHubRenderer(h *hub.Hub) *HubRenderer {
	return &HubRenderer{hub: h}
}

// Resize implements Renderer. The resize is sticky so renderers that
// connect later still learn the frame size. A resize the hub could not
// deliver is an error, so the next frame resizes again.
func (r *HubRenderer) Resize(ctx context.Context, width, height int) error {
	msg, err := protocol.NewResizeMessage(width, height)
	if err != nil {
		return err
	}
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	return r.hub.BroadcastSticky(data)
}

// Render implements Renderer.
func (r *HubRenderer) Render(ctx context.Context, frame Frame) error {
	points := make([]protocol.Point, len(frame.Keypoints))
	for i, kp := range frame.Keypoints {
		points[i] = protocol.Point{
			Name:       pose.Name(kp.ID),
			X:          kp.X,
			Y:          kp.Y,
			Confidence: kp.Confidence,
		}
	}
	msg, err := protocol.NewRenderMessage(frame.Seq, points, frame.Mirrored)
	if err != nil {
		return err
	}
	return r.send(msg)
}

func (r *HubRenderer) send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	r.hub.BroadcastBytes(data)
	return nil
}
