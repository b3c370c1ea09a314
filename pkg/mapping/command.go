// Package mapping turns smoothed keypoints and motion-gate transitions into
// ordered note and parameter commands for an audio collaborator.
package mapping

import (
	"fmt"
	"time"
)

// Kind identifies a command.
type Kind string

// Command kinds.
const (
	KindNoteOn    Kind = "note_on"
	KindNoteOff   Kind = "note_off"
	KindPitchBend Kind = "pitch_bend"
	KindParam     Kind = "param"
	KindTempo     Kind = "tempo"
)

// Parameter names emitted by the built-in modes.
const (
	ParamVibratoDepth = "vibrato_depth"
	ParamFilterCutoff = "filter_cutoff"
)

// NeutralParams returns the resting value for each continuous parameter.
// Teardown recentres every parameter to these.
func NeutralParams() map[string]float64 {
	return map[string]float64{
		ParamVibratoDepth: 0,
		ParamFilterCutoff: 1,
	}
}

// Command is one instruction for the audio collaborator.
// Only the fields relevant to Kind are set.
type Command struct {
	Kind      Kind      `json:"kind"`
	Pitch     int       `json:"pitch,omitempty"`
	Velocity  float64   `json:"velocity,omitempty"`
	Semitones float64   `json:"semitones,omitempty"`
	Range     float64   `json:"range,omitempty"`
	Name      string    `json:"name,omitempty"`
	Value     float64   `json:"value,omitempty"`
	BPM       float64   `json:"bpm,omitempty"`
	At        time.Time `json:"at"`
}

// NoteOn builds a note-on command. Pitch is clamped to 0-127, velocity to 0-1.
func NoteOn(pitch int, velocity float64) Command {
	return Command{Kind: KindNoteOn, Pitch: clampInt(pitch, 0, 127), Velocity: clamp(velocity, 0, 1)}
}

// NoteOff builds a note-off command.
func NoteOff(pitch int) Command {
	return Command{Kind: KindNoteOff, Pitch: clampInt(pitch, 0, 127)}
}

// PitchBend builds a pitch-bend command of semitones within ±rng.
func PitchBend(semitones, rng float64) Command {
	return Command{Kind: KindPitchBend, Semitones: clamp(semitones, -rng, rng), Range: rng}
}

// Param builds a continuous parameter update.
func Param(name string, value float64) Command {
	return Command{Kind: KindParam, Name: name, Value: value}
}

// Tempo builds a tempo change.
func Tempo(bpm float64) Command {
	return Command{Kind: KindTempo, BPM: bpm}
}

// String returns a compact human-readable form.
func (c Command) String() string {
	switch c.Kind {
	case KindNoteOn:
		return fmt.Sprintf("note_on %d vel=%.2f", c.Pitch, c.Velocity)
	case KindNoteOff:
		return fmt.Sprintf("note_off %d", c.Pitch)
	case KindPitchBend:
		return fmt.Sprintf("pitch_bend %+.2f/%.0f", c.Semitones, c.Range)
	case KindParam:
		return fmt.Sprintf("param %s=%.3f", c.Name, c.Value)
	case KindTempo:
		return fmt.Sprintf("tempo %.1f", c.BPM)
	default:
		return string(c.Kind)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
