package loop

import (
	"errors"

	"github.com/teslashibe/go-posemusic/pkg/mapping"
	"github.com/teslashibe/go-posemusic/pkg/pose"
)

// FrameSource supplies camera frames.
type FrameSource interface {
	NextFrame() (pose.Frame, error)
}

// Mirrorer is implemented by sources that know whether their frames are
// mirrored.
type Mirrorer interface {
	Mirrored() bool
}

// Sink receives audio commands in dispatch order.
type Sink interface {
	Send(cmd mapping.Command) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(cmd mapping.Command) error

// Send implements Sink.
func (f SinkFunc) Send(cmd mapping.Command) error {
	return f(cmd)
}

// MultiSink fans each command out to every sink. All sinks are tried; the
// errors are joined.
type MultiSink []Sink

// Send implements Sink.
func (m MultiSink) Send(cmd mapping.Command) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(cmd); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
