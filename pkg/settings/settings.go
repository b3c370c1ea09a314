// Package settings holds the hot-reloadable tuning surface.
//
// The same JSON shape is used for the settings file and for runtime updates
// through the control API. Every field is optional: a file or update only
// changes what it names.
package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/teslashibe/go-posemusic/pkg/loop"
	"github.com/teslashibe/go-posemusic/pkg/mapping"
	"github.com/teslashibe/go-posemusic/pkg/motion"
)

// maxFileSize caps the settings file.
const maxFileSize = 1 << 20

// Band is a hysteresis band, in frame diagonals per second.
type Band struct {
	On  float64 `json:"on"`
	Off float64 `json:"off"`
}

// Settings is a partial set of tunables. Nil fields are left alone.
type Settings struct {
	// Mapping
	Mode              *string  `json:"mode,omitempty"`
	Scale             *string  `json:"scale,omitempty"`
	Root              *int     `json:"root,omitempty"`
	HoldBaseMs        *int     `json:"hold_base_ms,omitempty"`
	HoldPerVelocityMs *int     `json:"hold_per_velocity_ms,omitempty"`
	LegatoVelocity    *float64 `json:"legato_velocity,omitempty"`
	BendRange         *float64 `json:"bend_range,omitempty"`
	PitchChannel      *string  `json:"pitch_channel,omitempty"`
	ParamChannel      *string  `json:"param_channel,omitempty"`

	// Smoothing and gating
	MinConfidence *float64        `json:"min_confidence,omitempty"`
	PositionAlpha *float64        `json:"position_alpha,omitempty"`
	VelocityAlpha *float64        `json:"velocity_alpha,omitempty"`
	Sensitivity   *float64        `json:"sensitivity,omitempty"`
	RefractoryMs  *int            `json:"refractory_ms,omitempty"`
	Thresholds    map[string]Band `json:"thresholds,omitempty"` // by category

	// Pacing
	MinSkip *int `json:"min_skip,omitempty"`
	MaxSkip *int `json:"max_skip,omitempty"`

	// Capture tier asked for; the quality tuner may settle lower.
	Tier *string `json:"tier,omitempty"`
}

func ptr[T any](v T) *T { return &v }

// Load reads settings from a JSON file.
func Load(path string) (*Settings, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("settings file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("stat settings file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("settings file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates settings. Unknown fields are rejected.
func Parse(data []byte) (*Settings, error) {
	s := &Settings{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(s); err != nil {
		return nil, fmt.Errorf("parse settings JSON: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// Save writes the settings as indented JSON.
func (s *Settings) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.WriteFile(filepath.Clean(path), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	return nil
}

// Validate checks the fields that are set. Unknown mode and scale names
// are accepted; the mapping engine falls back to its defaults for them.
func (s *Settings) Validate() error {
	unit := func(name string, v *float64) error {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %g", name, *v)
		}
		return nil
	}
	alpha := func(name string, v *float64) error {
		if v != nil && (*v <= 0 || *v > 1) {
			return fmt.Errorf("%s must be in (0, 1], got %g", name, *v)
		}
		return nil
	}
	nonNeg := func(name string, v *int) error {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", name, *v)
		}
		return nil
	}

	checks := []error{
		unit("min_confidence", s.MinConfidence),
		unit("sensitivity", s.Sensitivity),
		alpha("position_alpha", s.PositionAlpha),
		alpha("velocity_alpha", s.VelocityAlpha),
		alpha("legato_velocity", s.LegatoVelocity),
		nonNeg("refractory_ms", s.RefractoryMs),
		nonNeg("hold_base_ms", s.HoldBaseMs),
		nonNeg("hold_per_velocity_ms", s.HoldPerVelocityMs),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}

	if s.Root != nil && (*s.Root < 0 || *s.Root > 127) {
		return fmt.Errorf("root must be a MIDI note 0-127, got %d", *s.Root)
	}
	if s.BendRange != nil && (*s.BendRange <= 0 || *s.BendRange > 24) {
		return fmt.Errorf("bend_range must be in (0, 24] semitones, got %g", *s.BendRange)
	}
	if s.MinSkip != nil && *s.MinSkip < 1 {
		return fmt.Errorf("min_skip must be at least 1, got %d", *s.MinSkip)
	}
	if s.MinSkip != nil && s.MaxSkip != nil && *s.MaxSkip < *s.MinSkip {
		return fmt.Errorf("max_skip %d is below min_skip %d", *s.MaxSkip, *s.MinSkip)
	}

	known := make(map[string]bool)
	for _, c := range motion.Categories() {
		known[string(c)] = true
	}
	for _, name := range sortedKeys(s.Thresholds) {
		b := s.Thresholds[name]
		if !known[name] {
			return fmt.Errorf("unknown threshold category %q", name)
		}
		if b.Off <= 0 || b.On <= b.Off {
			return fmt.Errorf("thresholds.%s: need on > off > 0, got on=%g off=%g", name, b.On, b.Off)
		}
	}
	return nil
}

// Merge returns s with every field set in o taken from o.
func (s *Settings) Merge(o *Settings) *Settings {
	out := *s
	if o == nil {
		return &out
	}
	setIf(&out.Mode, o.Mode)
	setIf(&out.Scale, o.Scale)
	setIf(&out.Root, o.Root)
	setIf(&out.HoldBaseMs, o.HoldBaseMs)
	setIf(&out.HoldPerVelocityMs, o.HoldPerVelocityMs)
	setIf(&out.LegatoVelocity, o.LegatoVelocity)
	setIf(&out.BendRange, o.BendRange)
	setIf(&out.PitchChannel, o.PitchChannel)
	setIf(&out.ParamChannel, o.ParamChannel)
	setIf(&out.MinConfidence, o.MinConfidence)
	setIf(&out.PositionAlpha, o.PositionAlpha)
	setIf(&out.VelocityAlpha, o.VelocityAlpha)
	setIf(&out.Sensitivity, o.Sensitivity)
	setIf(&out.RefractoryMs, o.RefractoryMs)
	setIf(&out.MinSkip, o.MinSkip)
	setIf(&out.MaxSkip, o.MaxSkip)
	setIf(&out.Tier, o.Tier)

	if len(s.Thresholds) > 0 || len(o.Thresholds) > 0 {
		out.Thresholds = make(map[string]Band, len(s.Thresholds)+len(o.Thresholds))
		for k, v := range s.Thresholds {
			out.Thresholds[k] = v
		}
		for k, v := range o.Thresholds {
			out.Thresholds[k] = v
		}
	}
	return &out
}

func setIf[T any](dst **T, src *T) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

// Apply resolves the settings onto cfg and returns the result. cfg is not
// modified; the gate threshold table is copied.
func (s *Settings) Apply(cfg loop.Config) loop.Config {
	m := &cfg.Mapping
	if s.Mode != nil {
		m.Mode = mapping.Mode(*s.Mode)
	}
	if s.Scale != nil {
		m.Scale = *s.Scale
	}
	if s.Root != nil {
		m.Root = *s.Root
	}
	if s.HoldBaseMs != nil {
		m.HoldBase = ms(*s.HoldBaseMs)
	}
	if s.HoldPerVelocityMs != nil {
		m.HoldPerVelocity = ms(*s.HoldPerVelocityMs)
	}
	if s.LegatoVelocity != nil {
		m.LegatoVelocityScale = *s.LegatoVelocity
	}
	if s.BendRange != nil {
		m.BendRange = *s.BendRange
	}
	if s.PitchChannel != nil {
		m.PitchChannel = *s.PitchChannel
		m.PitchAxisChannel = *s.PitchChannel
	}
	if s.ParamChannel != nil {
		m.ParamChannel = *s.ParamChannel
	}

	if s.MinConfidence != nil {
		cfg.Smoothing.MinConfidence = *s.MinConfidence
	}
	if s.PositionAlpha != nil {
		cfg.Smoothing.PositionAlpha = *s.PositionAlpha
	}

	g := &cfg.Gate
	if s.VelocityAlpha != nil {
		g.VelocityAlpha = *s.VelocityAlpha
	}
	if s.Sensitivity != nil {
		g.Sensitivity = *s.Sensitivity
	}
	if s.RefractoryMs != nil {
		g.Refractory = ms(*s.RefractoryMs)
	}
	base := make(map[motion.Category]motion.Thresholds, len(g.Base)+len(s.Thresholds))
	for k, v := range g.Base {
		base[k] = v
	}
	for k, b := range s.Thresholds {
		base[motion.Category(k)] = motion.Thresholds{On: b.On, Off: b.Off}
	}
	g.Base = base

	if s.MinSkip != nil {
		cfg.Rate.MinSkip = *s.MinSkip
	}
	if s.MaxSkip != nil {
		cfg.Rate.MaxSkip = *s.MaxSkip
	}
	return cfg
}

// FromConfig describes cfg as a complete Settings value. tier may be empty.
func FromConfig(cfg loop.Config, tier string) *Settings {
	m := cfg.Mapping
	s := &Settings{
		Mode:              ptr(string(m.Mode)),
		Scale:             ptr(m.Scale),
		Root:              ptr(m.Root),
		HoldBaseMs:        ptr(int(m.HoldBase / time.Millisecond)),
		HoldPerVelocityMs: ptr(int(m.HoldPerVelocity / time.Millisecond)),
		LegatoVelocity:    ptr(m.LegatoVelocityScale),
		BendRange:         ptr(m.BendRange),
		PitchChannel:      ptr(m.PitchChannel),
		ParamChannel:      ptr(m.ParamChannel),
		MinConfidence:     ptr(cfg.Smoothing.MinConfidence),
		PositionAlpha:     ptr(cfg.Smoothing.PositionAlpha),
		VelocityAlpha:     ptr(cfg.Gate.VelocityAlpha),
		Sensitivity:       ptr(cfg.Gate.Sensitivity),
		RefractoryMs:      ptr(int(cfg.Gate.Refractory / time.Millisecond)),
		MinSkip:           ptr(cfg.Rate.MinSkip),
		MaxSkip:           ptr(cfg.Rate.MaxSkip),
		Thresholds:        make(map[string]Band, len(cfg.Gate.Base)),
	}
	for k, t := range cfg.Gate.Base {
		s.Thresholds[string(k)] = Band{On: t.On, Off: t.Off}
	}
	if tier != "" {
		s.Tier = ptr(tier)
	}
	return s
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
