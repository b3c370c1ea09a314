package mapping

import (
	"fmt"
	"time"
)

// Mode selects a mapping strategy.
type Mode string

// Mapping modes.
const (
	ModeContinuousPitch Mode = "continuous-pitch"
	ModePercussive      Mode = "percussive"
	ModeDualAxis        Mode = "dual-axis"
	ModeHeadVibrato     Mode = "head-vibrato"

	// DefaultMode is used for unknown mode names.
	DefaultMode = ModeContinuousPitch
)

// Modes lists every mode.
func Modes() []Mode {
	return []Mode{ModeContinuousPitch, ModePercussive, ModeDualAxis, ModeHeadVibrato}
}

// ParseMode returns the mode for s and whether s was known.
// Unknown names return DefaultMode.
func ParseMode(s string) (Mode, bool) {
	for _, m := range Modes() {
		if string(m) == s {
			return m, true
		}
	}
	return DefaultMode, false
}

// Pad assigns a fixed pitch to a channel in percussive mode.
type Pad struct {
	Channel string `json:"channel"`
	Pitch   int    `json:"pitch"`
}

// Config holds mapping parameters shared by every mode.
type Config struct {
	Mode  Mode   `json:"mode"`
	Scale string `json:"scale"`
	Root  int    `json:"root"` // MIDI note scale degree 0 sits on

	// Range the driving coordinate is mapped into before quantizing.
	Low  float64 `json:"low"`
	High float64 `json:"high"`

	// Note lengths: HoldBase + HoldPerVelocity × clamp(velocity, 0, VelocityMax).
	HoldBase        time.Duration `json:"hold_base"`
	HoldPerVelocity time.Duration `json:"hold_per_velocity"`
	VelocityMax     float64       `json:"velocity_max"`

	// Gate velocity (diagonals/s) that produces a full-velocity note.
	VelocityFull float64 `json:"velocity_full"`
	MinVelocity  float64 `json:"min_velocity"`

	// Velocity multiplier for pitch changes without a new rising edge.
	LegatoVelocityScale float64 `json:"legato_velocity_scale"`

	MinControlSpacing time.Duration `json:"min_control_spacing"`

	// continuous-pitch: point whose vertical position drives the pitch.
	PitchChannel string `json:"pitch_channel"`

	// percussive
	Pads          []Pad         `json:"pads"`
	PadRefractory time.Duration `json:"pad_refractory"`

	// dual-axis: PitchAxisChannel X → pitch, ParamChannel Y → ParamName.
	PitchAxisChannel string `json:"pitch_axis_channel"`
	ParamChannel     string `json:"param_channel"`
	ParamName        string `json:"param_name"`

	// head-vibrato
	HeadChannel string        `json:"head_channel"`
	NodChannel  string        `json:"nod_channel"`
	BendRange   float64       `json:"bend_range"`   // semitones
	VibratoFull float64       `json:"vibrato_full"` // head velocity for full depth
	TapResetGap time.Duration `json:"tap_reset_gap"`
}

// DefaultPads returns the default drum layout (GM kick, snare, closed and open hat).
func DefaultPads() []Pad {
	return []Pad{
		{Channel: "left_wrist", Pitch: 36},
		{Channel: "right_wrist", Pitch: 38},
		{Channel: "left_ankle", Pitch: 42},
		{Channel: "right_ankle", Pitch: 46},
	}
}

// DefaultConfig returns the defaults used by the live loop.
func DefaultConfig() Config {
	return Config{
		Mode:                DefaultMode,
		Scale:               DefaultScale,
		Root:                60,
		Low:                 48,
		High:                84,
		HoldBase:            180 * time.Millisecond,
		HoldPerVelocity:     520 * time.Millisecond,
		VelocityMax:         1,
		VelocityFull:        2,
		MinVelocity:         0.2,
		LegatoVelocityScale: 0.9,
		MinControlSpacing:   40 * time.Millisecond,
		PitchChannel:        "right_wrist",
		Pads:                DefaultPads(),
		PadRefractory:       90 * time.Millisecond,
		PitchAxisChannel:    "right_wrist",
		ParamChannel:        "left_wrist",
		ParamName:           ParamFilterCutoff,
		HeadChannel:         "nose",
		NodChannel:          "nose",
		BendRange:           2,
		VibratoFull:         1,
		TapResetGap:         2 * time.Second,
	}
}

// Validate returns a list of problems, empty when the config is usable.
// Unknown mode and scale names are not errors; they fall back to defaults.
func (c Config) Validate() []string {
	var errs []string
	if c.Low < 0 || c.High > 127 {
		errs = append(errs, "low and high must be MIDI notes (0-127)")
	}
	if c.Low >= c.High {
		errs = append(errs, "low must be below high")
	}
	if c.Root < 0 || c.Root > 127 {
		errs = append(errs, "root must be a MIDI note (0-127)")
	}
	if c.HoldBase < 0 || c.HoldPerVelocity < 0 {
		errs = append(errs, "hold durations must be >= 0")
	}
	if c.VelocityMax <= 0 {
		errs = append(errs, "velocity_max must be > 0")
	}
	if c.VelocityFull <= 0 {
		errs = append(errs, "velocity_full must be > 0")
	}
	if c.LegatoVelocityScale <= 0 || c.LegatoVelocityScale > 1 {
		errs = append(errs, "legato_velocity_scale must be in (0, 1]")
	}
	if c.MinControlSpacing < 0 {
		errs = append(errs, "min_control_spacing must be >= 0")
	}
	if c.BendRange <= 0 {
		errs = append(errs, "bend_range must be > 0")
	}
	for i, p := range c.Pads {
		if p.Pitch < 0 || p.Pitch > 127 {
			errs = append(errs, fmt.Sprintf("pads[%d] pitch out of range", i))
		}
	}
	return errs
}

// HoldFor returns how long a note of the given velocity is held.
func (c Config) HoldFor(velocity float64) time.Duration {
	v := clamp(velocity, 0, c.VelocityMax)
	return c.HoldBase + time.Duration(float64(c.HoldPerVelocity)*v)
}

// noteVelocity converts a gate velocity into a note velocity.
func (c Config) noteVelocity(gateVelocity float64) float64 {
	return clamp(gateVelocity/c.VelocityFull, c.MinVelocity, 1)
}
