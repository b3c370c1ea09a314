// Package midiout sends mapping commands to a MIDI output port.
package midiout

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/teslashibe/go-posemusic/internal/log"
	"github.com/teslashibe/go-posemusic/pkg/mapping"
)

var (
	// ErrNoPort is returned by Open when no output port matches.
	ErrNoPort = errors.New("midiout: no matching output port")

	// ErrUnknownKind is returned for a command kind with no MIDI encoding.
	ErrUnknownKind = errors.New("midiout: unknown command kind")
)

// ccAllNotesOff is the channel mode message that silences a channel.
const ccAllNotesOff = 123

// Tempo CC scaling bounds.
const (
	tempoLow  = mapping.MinBPM
	tempoHigh = mapping.MaxBPM
)

// Config maps commands onto one MIDI channel.
type Config struct {
	Channel uint8            `json:"channel"`
	CCs     map[string]uint8 `json:"ccs"`

	// TempoCC carries tempo as a controller value when non-zero.
	TempoCC uint8 `json:"tempo_cc"`
}

// DefaultConfig sends on channel 1 with modulation for vibrato and
// brightness for the filter.
func DefaultConfig() Config {
	return Config{
		Channel: 0,
		CCs: map[string]uint8{
			mapping.ParamVibratoDepth: 1,
			mapping.ParamFilterCutoff: 74,
		},
	}
}

// Validate returns a list of problems, empty when the config is usable.
func (c Config) Validate() []string {
	var errs []string
	if c.Channel > 15 {
		errs = append(errs, "channel must be 0-15")
	}
	for name, cc := range c.CCs {
		if cc > 119 {
			errs = append(errs, fmt.Sprintf("cc for %s must be 0-119", name))
		}
	}
	if c.TempoCC > 119 {
		errs = append(errs, "tempo_cc must be 0-119")
	}
	return errs
}

// Encode translates a command. It returns a nil message for commands the
// config does not route, such as a parameter without a CC.
func Encode(cmd mapping.Command, cfg Config) (midi.Message, error) {
	ch := cfg.Channel
	switch cmd.Kind {
	case mapping.KindNoteOn:
		// Velocity 0 would read as note off.
		vel := clamp7(math.Round(cmd.Velocity * 127))
		if vel == 0 {
			vel = 1
		}
		return midi.NoteOn(ch, key(cmd.Pitch), vel), nil
	case mapping.KindNoteOff:
		return midi.NoteOff(ch, key(cmd.Pitch)), nil
	case mapping.KindPitchBend:
		return midi.Pitchbend(ch, bend(cmd.Semitones, cmd.Range)), nil
	case mapping.KindParam:
		cc, ok := cfg.CCs[cmd.Name]
		if !ok {
			return nil, nil
		}
		return midi.ControlChange(ch, cc, clamp7(math.Round(cmd.Value*127))), nil
	case mapping.KindTempo:
		if cfg.TempoCC == 0 {
			return nil, nil
		}
		frac := (cmd.BPM - tempoLow) / (tempoHigh - tempoLow)
		return midi.ControlChange(ch, cfg.TempoCC, clamp7(math.Round(frac*127))), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cmd.Kind)
	}
}

func key(pitch int) uint8 {
	return clamp7(float64(pitch))
}

func clamp7(v float64) uint8 {
	return uint8(math.Max(0, math.Min(127, v)))
}

// bend scales semitones within ±rng onto the 14-bit signed bend value.
func bend(semitones, rng float64) int16 {
	if rng <= 0 {
		return 0
	}
	v := math.Round(semitones / rng * 8191)
	return int16(math.Max(-8192, math.Min(8191, v)))
}

// SendFunc writes one message to a port.
type SendFunc func(msg midi.Message) error

// Sink implements the loop's audio sink over a MIDI port.
type Sink struct {
	config Config
	send   SendFunc
	closer func() error
	logger *slog.Logger

	mu       sync.Mutex
	sounding map[uint8]bool
	errors   int
}

// New creates a sink writing through send.
func New(send SendFunc, config Config, logger *slog.Logger) *Sink {
	return &Sink{
		config:   config,
		send:     send,
		logger:   log.Or(logger).With("component", "midiout"),
		sounding: make(map[uint8]bool),
	}
}

// Ports lists the output port names.
func Ports() ([]string, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("open midi driver: %w", err)
	}
	defer drv.Close()

	outs, err := drv.Outs()
	if err != nil {
		return nil, fmt.Errorf("list midi outputs: %w", err)
	}
	names := make([]string, 0, len(outs))
	for _, out := range outs {
		names = append(names, out.String())
	}
	sort.Strings(names)
	return names, nil
}

// Open opens the first output port whose name contains name, case
// insensitively. An empty name picks the first port.
func Open(name string, config Config, logger *slog.Logger) (*Sink, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("open midi driver: %w", err)
	}

	out, err := findOut(drv, name)
	if err != nil {
		drv.Close()
		return nil, err
	}
	if err := out.Open(); err != nil {
		drv.Close()
		return nil, fmt.Errorf("open midi port %q: %w", out.String(), err)
	}

	send, err := midi.SendTo(out)
	if err != nil {
		_ = out.Close()
		drv.Close()
		return nil, fmt.Errorf("midi send to %q: %w", out.String(), err)
	}

	s := New(send, config, logger)
	s.closer = func() error {
		err := out.Close()
		drv.Close()
		return err
	}
	s.logger.Info("midi output connected", "port", out.String(), "channel", config.Channel+1)
	return s, nil
}

func findOut(drv *rtmididrv.Driver, name string) (drivers.Out, error) {
	outs, err := drv.Outs()
	if err != nil {
		return nil, fmt.Errorf("list midi outputs: %w", err)
	}
	for _, out := range outs {
		if name == "" || strings.Contains(strings.ToLower(out.String()), strings.ToLower(name)) {
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoPort, name)
}

// Send encodes and writes one command.
func (s *Sink) Send(cmd mapping.Command) error {
	msg, err := Encode(cmd, s.config)
	if err != nil {
		return err
	}
	if msg == nil {
		s.logger.Debug("command not routed", "command", cmd.String())
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.send(msg); err != nil {
		s.errors++
		if s.errors%100 == 1 {
			s.logger.Warn("midi send failed", "error", err, "count", s.errors)
		}
		return fmt.Errorf("midi send %s: %w", cmd.Kind, err)
	}

	var ch, k, v uint8
	switch {
	case msg.GetNoteStart(&ch, &k, &v):
		s.sounding[k] = true
	case msg.GetNoteEnd(&ch, &k):
		delete(s.sounding, k)
	}
	return nil
}

// Sounding returns the keys with an unmatched note on, ascending.
func (s *Sink) Sounding() []uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint8, 0, len(s.sounding))
	for k := range s.sounding {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Panic sends note off for every sounding key, then all-notes-off.
func (s *Sink) Panic() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]uint8, 0, len(s.sounding))
	for k := range s.sounding {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var errs []error
	for _, k := range keys {
		if err := s.send(midi.NoteOff(s.config.Channel, k)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.send(midi.ControlChange(s.config.Channel, ccAllNotesOff, 0)); err != nil {
		errs = append(errs, err)
	}
	s.sounding = make(map[uint8]bool)
	if len(keys) > 0 {
		s.logger.Warn("panic released notes", "count", len(keys))
	}
	return errors.Join(errs...)
}

// Close silences the channel and closes the port.
func (s *Sink) Close() error {
	err := s.Panic()
	if s.closer != nil {
		err = errors.Join(err, s.closer())
	}
	return err
}
