// Package protocol defines the websocket messages the control loop pushes
// to dashboards and skeleton renderers.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the type of websocket message
type MessageType string

const (
	// Render stream
	TypeRender MessageType = "render" // Keypoints for one frame
	TypeResize MessageType = "resize" // Frame dimensions changed

	// Telemetry stream
	TypePerf MessageType = "perf" // Loop performance sample

	// Event stream
	TypeCommand MessageType = "command" // Dispatched note/parameter command
	TypeEvent   MessageType = "event"   // Mode change, escalation, tier switch
	TypeStatus  MessageType = "status"  // Full status snapshot
)

// Message is the base wrapper for all websocket messages
type Message struct {
	ID        string          `json:"id,omitempty"`
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	return NewMessageAt(msgType, data, time.Now())
}

// NewMessageAt creates a message stamped with ts. Loop messages carry the
// tick time so replayed sessions keep their original timeline.
func NewMessageAt(msgType MessageType, data interface{}, ts time.Time) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Timestamp: ts.UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// =============================================================================
// Render stream
// =============================================================================

// Point is one keypoint as sent to renderers.
type Point struct {
	Name       string  `json:"name"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"c"`
}

// RenderData carries the keypoints for one frame. Mirrored tells the
// renderer to flip the drawing to match a mirrored camera preview.
type RenderData struct {
	Seq      uint64  `json:"seq"`
	Points   []Point `json:"points"`
	Mirrored bool    `json:"mirrored"`
}

// ResizeData announces new frame dimensions. It always precedes the first
// render message at the new size.
type ResizeData struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// =============================================================================
// Telemetry stream
// =============================================================================

// PerfData is one performance sample.
type PerfData struct {
	FPS       float64 `json:"fps"`
	Skip      int     `json:"skip"`
	InferMs   float64 `json:"infer_ms"`
	Tier      string  `json:"tier"`
	Tick      uint64  `json:"tick"`
	Held      int     `json:"held"`
	Energy    float64 `json:"energy"`
	Escalated bool    `json:"escalated"`
}

// =============================================================================
// Event stream
// =============================================================================

// CommandData mirrors one dispatched audio command.
type CommandData struct {
	Kind      string  `json:"kind"`
	Pitch     int     `json:"pitch,omitempty"`
	Velocity  float64 `json:"velocity,omitempty"`
	Semitones float64 `json:"semitones,omitempty"`
	Range     float64 `json:"range,omitempty"`
	Name      string  `json:"name,omitempty"`
	Value     float64 `json:"value,omitempty"`
	BPM       float64 `json:"bpm,omitempty"`
}

// EventData describes a discrete loop event.
type EventData struct {
	Kind   string `json:"kind"` // escalated, tier_change, mode_change, background, stopped
	Detail string `json:"detail,omitempty"`
}

// StatusData is a status snapshot.
type StatusData struct {
	Running    bool     `json:"running"`
	Background bool     `json:"background"`
	Mode       string   `json:"mode"`
	Scale      string   `json:"scale"`
	Session    string   `json:"session,omitempty"`
	Perf       PerfData `json:"perf"`
}
