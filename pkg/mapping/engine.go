package mapping

import (
	"log/slog"
	"sort"
	"time"

	"github.com/teslashibe/go-posemusic/internal/log"
)

// Engine runs the active strategy and owns the held-note registry.
// It is not safe for concurrent use; the control loop owns it.
type Engine struct {
	config   Config
	strategy Strategy
	held     *HeldNotes
	limiter  *Limiter
	logger   *slog.Logger
}

// NewEngine creates an engine in config.Mode. A nil logger uses the global one.
func NewEngine(config Config, logger *slog.Logger) *Engine {
	e := &Engine{
		held:    NewHeldNotes(),
		limiter: NewLimiter(config.MinControlSpacing),
		logger:  log.Or(logger).With("component", "mapping"),
	}
	e.config = e.normalize(config)
	e.strategy = newStrategy(e.config.Mode)
	return e
}

// normalize swaps unknown mode and scale names for the defaults.
func (e *Engine) normalize(c Config) Config {
	if m, ok := ParseMode(string(c.Mode)); !ok {
		e.logger.Warn("unknown mapping mode, using default", "mode", c.Mode, "default", m)
		c.Mode = m
	}
	if _, ok := Scale(c.Scale); !ok {
		e.logger.Warn("unknown scale, using default", "scale", c.Scale, "default", DefaultScale)
		c.Scale = DefaultScale
	}
	return c
}

// Mode returns the active mode.
func (e *Engine) Mode() Mode {
	return e.strategy.Mode()
}

// Config returns the active configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Held returns the sounding notes by pitch.
func (e *Engine) Held() []HeldNote {
	return e.held.All()
}

// SetMode switches strategy. Every held note is released and pitch bend and
// parameters are recentred first, even when the mode is unchanged, so the new
// mode starts from neutral controls with nothing parked from the old one.
func (e *Engine) SetMode(mode Mode, now time.Time) []Command {
	m, ok := ParseMode(string(mode))
	if !ok {
		e.logger.Warn("unknown mapping mode, using default", "mode", mode, "default", m)
	}

	out := e.output(now)
	e.limiter.DropPending()
	e.release(out)
	e.config.Mode = m
	e.strategy = newStrategy(m)
	e.logger.Info("mapping mode changed", "mode", m)
	return out.commands
}

// SetConfig applies a new configuration. A mode change behaves like SetMode.
func (e *Engine) SetConfig(config Config, now time.Time) []Command {
	config = e.normalize(config)
	modeChanged := config.Mode != e.config.Mode
	e.config = config
	e.limiter.SetSpacing(config.MinControlSpacing)
	if modeChanged {
		return e.SetMode(config.Mode, now)
	}
	return nil
}

// Tick expires finished notes, releases parked control values and runs the
// active strategy. It returns the commands in dispatch order and the motion
// energy the strategy reported.
func (e *Engine) Tick(in Input) ([]Command, float64) {
	out := e.output(in.Now)

	for _, n := range e.held.Expire(in.Now) {
		out.emit(NoteOff(n.Pitch))
	}
	for _, c := range e.limiter.Flush(in.Now) {
		out.emit(c)
	}

	energy := e.strategy.Consume(in, out)
	return out.commands, energy
}

// ReleaseAll releases every held note and recentres pitch bend and all
// continuous parameters, bypassing the limiter.
func (e *Engine) ReleaseAll(now time.Time) []Command {
	out := e.output(now)
	e.release(out)
	return out.commands
}

func (e *Engine) release(out *Output) {
	for _, n := range e.held.Clear() {
		out.emit(NoteOff(n.Pitch))
	}

	bend := PitchBend(0, e.config.BendRange)
	e.limiter.Force(bend, out.now)
	out.emit(bend)

	neutral := NeutralParams()
	names := make([]string, 0, len(neutral))
	for name := range neutral {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := Param(name, neutral[name])
		e.limiter.Force(c, out.now)
		out.emit(c)
	}
}

func (e *Engine) output(now time.Time) *Output {
	return &Output{
		Config:  &e.config,
		now:     now,
		held:    e.held,
		limiter: e.limiter,
	}
}
