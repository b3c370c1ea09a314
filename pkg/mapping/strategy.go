package mapping

import (
	"time"

	"github.com/teslashibe/go-posemusic/pkg/motion"
	"github.com/teslashibe/go-posemusic/pkg/pose"
)

// Input is what a strategy sees on one tick.
type Input struct {
	Now    time.Time
	Points []motion.SmoothedPoint // index = point id
	Gates  map[string]motion.State
	Width  float64
	Height float64
	Fresh  bool // Points came from a new estimate this tick
}

// Point returns the named point if it is visible.
func (in Input) Point(name string) (motion.SmoothedPoint, bool) {
	id, ok := pose.ID(name)
	if !ok || id >= len(in.Points) {
		return motion.SmoothedPoint{}, false
	}
	p := in.Points[id]
	return p, p.Visible()
}

// Gate returns the named channel's state; missing channels are off.
func (in Input) Gate(name string) motion.State {
	return in.Gates[name]
}

// normX and normY return a position as a 0-1 fraction of the frame.
func (in Input) normX(p motion.SmoothedPoint) float64 {
	if in.Width <= 0 {
		return 0
	}
	return clamp(p.X/in.Width, 0, 1)
}

func (in Input) normY(p motion.SmoothedPoint) float64 {
	if in.Height <= 0 {
		return 0
	}
	return clamp(p.Y/in.Height, 0, 1)
}

// Strategy is one mapping mode. Consume appends commands to out and returns
// the motion energy it used, 0 when its required channels are missing.
type Strategy interface {
	Mode() Mode
	Consume(in Input, out *Output) float64
}

func newStrategy(mode Mode) Strategy {
	switch mode {
	case ModePercussive:
		return &percussive{lastFire: make(map[string]time.Time)}
	case ModeDualAxis:
		return &dualAxis{lastPitch: -1}
	case ModeHeadVibrato:
		return &headVibrato{}
	default:
		return &continuousPitch{}
	}
}

// Output collects the commands of one tick and keeps the held-note
// registry and the control limiter consistent with them.
type Output struct {
	Config   *Config
	commands []Command
	now      time.Time
	held     *HeldNotes
	limiter  *Limiter
}

// Commands returns the commands in emission order.
func (o *Output) Commands() []Command {
	return o.commands
}

func (o *Output) emit(c Command) {
	c.At = o.now
	o.commands = append(o.commands, c)
}

// NoteOn starts a note. A note already held at the same pitch is released first.
func (o *Output) NoteOn(pitch int, velocity float64) {
	on := NoteOn(pitch, velocity)
	if o.held.Has(on.Pitch) {
		o.NoteOff(on.Pitch)
	}
	o.emit(on)
	o.held.Add(HeldNote{
		Pitch:    on.Pitch,
		Velocity: on.Velocity,
		Start:    o.now,
		Hold:     o.Config.HoldFor(on.Velocity),
	})
}

// NoteOff releases a held note. Pitches that are not held are ignored.
func (o *Output) NoteOff(pitch int) {
	if o.held.Remove(pitch) {
		o.emit(NoteOff(pitch))
	}
}

// Replace releases every held note, then starts pitch: monophonic playing.
func (o *Output) Replace(pitch int, velocity float64) {
	for _, n := range o.held.Clear() {
		o.emit(NoteOff(n.Pitch))
	}
	o.NoteOn(pitch, velocity)
}

// Held returns the lowest held note, if any.
func (o *Output) Held() (HeldNote, bool) {
	all := o.held.All()
	if len(all) == 0 {
		return HeldNote{}, false
	}
	return all[0], true
}

// PitchBend sends a bend through the limiter.
func (o *Output) PitchBend(semitones, rng float64) {
	c := PitchBend(semitones, rng)
	if o.limiter.Offer(c, o.now) {
		o.emit(c)
	}
}

// Param sends a parameter update through the limiter.
func (o *Output) Param(name string, value float64) {
	c := Param(name, value)
	if o.limiter.Offer(c, o.now) {
		o.emit(c)
	}
}

// Tempo sends a tempo change.
func (o *Output) Tempo(bpm float64) {
	o.emit(Tempo(bpm))
}
