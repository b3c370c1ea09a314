package mapping

import (
	"math"
	"time"

	"github.com/teslashibe/go-posemusic/pkg/motion"
)

// continuousPitch maps the vertical position of one point onto a scale and
// plays it monophonically.
type continuousPitch struct{}

func (*continuousPitch) Mode() Mode { return ModeContinuousPitch }

func (s *continuousPitch) Consume(in Input, out *Output) float64 {
	cfg := out.Config
	p, ok := in.Point(cfg.PitchChannel)
	if !ok {
		return 0
	}
	g := in.Gate(cfg.PitchChannel)

	scale, _ := Scale(cfg.Scale)
	midi := cfg.Low + (1-in.normY(p))*(cfg.High-cfg.Low)
	pitch := Quantize(midi, scale, cfg.Root)
	vel := cfg.noteVelocity(g.Velocity)

	held, playing := out.Held()
	switch {
	case g.Edge == motion.EdgeRising && (!playing || held.Pitch != pitch):
		out.Replace(pitch, vel)
	case g.On && playing && held.Pitch != pitch:
		out.Replace(pitch, vel*cfg.LegatoVelocityScale)
	}
	return g.Velocity
}

// percussive fires a fixed pitch per channel on each rising edge.
type percussive struct {
	lastFire map[string]time.Time
}

func (*percussive) Mode() Mode { return ModePercussive }

func (s *percussive) Consume(in Input, out *Output) float64 {
	cfg := out.Config
	var energy float64
	var visible bool
	for _, pad := range cfg.Pads {
		if _, ok := in.Point(pad.Channel); !ok {
			continue
		}
		visible = true
		g := in.Gate(pad.Channel)
		if g.Edge != motion.EdgeRising {
			continue
		}
		if last, ok := s.lastFire[pad.Channel]; ok && in.Now.Sub(last) < cfg.PadRefractory {
			continue
		}
		s.lastFire[pad.Channel] = in.Now
		out.NoteOn(pad.Pitch, cfg.noteVelocity(g.Velocity))
		energy += g.Velocity
	}
	if !visible {
		return 0
	}
	return energy
}

// dualAxis plays a quantized pitch from one point's horizontal position and
// drives a continuous parameter from another point's vertical position.
type dualAxis struct {
	lastPitch int
}

func (*dualAxis) Mode() Mode { return ModeDualAxis }

func (s *dualAxis) Consume(in Input, out *Output) float64 {
	cfg := out.Config
	a, ok := in.Point(cfg.PitchAxisChannel)
	if !ok {
		return 0
	}
	ga := in.Gate(cfg.PitchAxisChannel)

	scale, _ := Scale(cfg.Scale)
	midi := cfg.Low + in.normX(a)*(cfg.High-cfg.Low)
	pitch := Quantize(midi, scale, cfg.Root)
	if pitch != s.lastPitch {
		s.lastPitch = pitch
		out.Replace(pitch, cfg.noteVelocity(ga.Velocity))
	}

	energy := ga.Velocity
	if b, ok := in.Point(cfg.ParamChannel); ok {
		out.Param(cfg.ParamName, 1-in.normY(b))
		energy += in.Gate(cfg.ParamChannel).Velocity
	}
	return energy
}

// headVibrato turns head motion into vibrato depth, horizontal head position
// into pitch bend, and nods into tap tempo.
type headVibrato struct {
	taps    *TapTempo
	lastBPM float64
}

func (*headVibrato) Mode() Mode { return ModeHeadVibrato }

// tempoEpsilon is the smallest tempo change worth sending.
const tempoEpsilon = 0.5

func (s *headVibrato) Consume(in Input, out *Output) float64 {
	cfg := out.Config
	head, ok := in.Point(cfg.HeadChannel)
	if !ok {
		return 0
	}
	g := in.Gate(cfg.HeadChannel)

	out.Param(ParamVibratoDepth, clamp(g.Velocity/cfg.VibratoFull, 0, 1))
	out.PitchBend((in.normX(head)*2-1)*cfg.BendRange, cfg.BendRange)

	if in.Gate(cfg.NodChannel).Edge == motion.EdgeRising {
		if s.taps == nil {
			s.taps = NewTapTempo(cfg.TapResetGap)
		}
		if bpm, ok := s.taps.Tap(in.Now); ok && math.Abs(bpm-s.lastBPM) > tempoEpsilon {
			s.lastBPM = bpm
			out.Tempo(bpm)
		}
	}
	return g.Velocity
}
