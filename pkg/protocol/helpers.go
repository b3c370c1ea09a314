package protocol

import (
	"time"
)

// NewRenderMessage creates a render message
func NewRenderMessage(seq uint64, points []Point, mirrored bool) (*Message, error) {
	return NewMessage(TypeRender, RenderData{
		Seq:      seq,
		Points:   points,
		Mirrored: mirrored,
	})
}

// NewResizeMessage creates a resize message
func NewResizeMessage(width, height int) (*Message, error) {
	return NewMessage(TypeResize, ResizeData{Width: width, Height: height})
}

// NewPerfMessage creates a performance sample message stamped with the
// loop time the sample was taken.
func NewPerfMessage(p PerfData, at time.Time) (*Message, error) {
	return NewMessageAt(TypePerf, p, at)
}

// NewCommandMessage creates a command mirror message
func NewCommandMessage(c CommandData, at time.Time) (*Message, error) {
	return NewMessageAt(TypeCommand, c, at)
}

// NewEventMessage creates an event message
func NewEventMessage(kind, detail string, at time.Time) (*Message, error) {
	return NewMessageAt(TypeEvent, EventData{Kind: kind, Detail: detail}, at)
}

// NewStatusMessage creates a status snapshot message
func NewStatusMessage(s StatusData) (*Message, error) {
	return NewMessage(TypeStatus, s)
}

// MustBytes encodes a message built by one of the helpers, returning nil
// when either step fails. Broadcast paths drop such messages.
func MustBytes(msg *Message, err error) []byte {
	if err != nil {
		return nil
	}
	data, err := msg.Bytes()
	if err != nil {
		return nil
	}
	return data
}
