package motion

import (
	"math"
	"sort"
	"time"
)

// Thresholds is a hysteresis band in frame diagonals per second.
// On must be greater than Off.
type Thresholds struct {
	On  float64 `json:"on"`
	Off float64 `json:"off"`
}

// Scale returns the band multiplied by f.
func (t Thresholds) Scale(f float64) Thresholds {
	return Thresholds{On: t.On * f, Off: t.Off * f}
}

const (
	// sensitivitySpan is how far full sensitivity lowers every threshold.
	sensitivitySpan = 0.65

	// noseScale raises the nose band relative to the others; head sway is
	// constant and small.
	noseScale = 1.22
)

// GateConfig controls velocity estimation and triggering.
type GateConfig struct {
	VelocityAlpha float64                 `json:"velocity_alpha"`
	Refractory    time.Duration           `json:"refractory"`
	Sensitivity   float64                 `json:"sensitivity"` // 0-1
	Base          map[Category]Thresholds `json:"base"`
}

// DefaultBaseThresholds returns the per-category bands at zero sensitivity.
func DefaultBaseThresholds() map[Category]Thresholds {
	return map[Category]Thresholds{
		CategoryNose:     {On: 0.22, Off: 0.14},
		CategoryEye:      {On: 0.22, Off: 0.14},
		CategoryEar:      {On: 0.22, Off: 0.14},
		CategoryShoulder: {On: 0.30, Off: 0.18},
		CategoryElbow:    {On: 0.45, Off: 0.28},
		CategoryWrist:    {On: 0.55, Off: 0.35},
		CategoryHip:      {On: 0.30, Off: 0.18},
		CategoryKnee:     {On: 0.35, Off: 0.22},
		CategoryAnkle:    {On: 0.40, Off: 0.25},
		CategoryDefault:  {On: 0.35, Off: 0.22},
	}
}

// DefaultGateConfig returns the live-loop defaults.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		VelocityAlpha: 0.40,
		Refractory:    120 * time.Millisecond,
		Sensitivity:   0,
		Base:          DefaultBaseThresholds(),
	}
}

// ThresholdsFor returns the effective band for a category:
// base × (1 − sensitivity×0.65), and ×1.22 more for the nose.
func (c GateConfig) ThresholdsFor(cat Category) Thresholds {
	base, ok := c.Base[cat]
	if !ok {
		base, ok = c.Base[CategoryDefault]
	}
	if !ok {
		base = DefaultBaseThresholds()[CategoryDefault]
	}

	s := clamp(c.Sensitivity, 0, 1)
	t := base.Scale(1 - s*sensitivitySpan)
	if cat == CategoryNose {
		t = t.Scale(noseScale)
	}
	return t
}

// Validate returns a list of problems, empty when the config is usable.
func (c GateConfig) Validate() []string {
	var errs []string
	if c.VelocityAlpha <= 0 || c.VelocityAlpha > 1 {
		errs = append(errs, "velocity_alpha must be in (0, 1]")
	}
	if c.Refractory < 0 {
		errs = append(errs, "refractory must be >= 0")
	}
	if c.Sensitivity < 0 || c.Sensitivity > 1 {
		errs = append(errs, "sensitivity must be in [0, 1]")
	}
	for cat, t := range c.Base {
		if t.On <= t.Off || t.Off < 0 {
			errs = append(errs, "thresholds for "+string(cat)+" need on > off >= 0")
		}
	}
	return errs
}

// Edge is a gate transition.
type Edge int

// Gate transitions.
const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
)

// String returns the edge name.
func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	default:
		return "none"
	}
}

// Channel is the motion state of one semantic point.
type Channel struct {
	Name        string
	Category    Category
	VelocityEMA float64
	On          bool
	LastTrigger time.Time
	Triggers    int // accepted rising edges
	Suppressed  int // rising edges blocked by the refractory period

	hasTrigger bool
	hasPos     bool
	lastX      float64
	lastY      float64
	lastAt     time.Time
}

// State is what the mapping stage sees of a channel on one tick.
type State struct {
	On       bool    `json:"on"`
	Edge     Edge    `json:"edge"`
	Velocity float64 `json:"velocity"`
}

// Gate tracks one Channel per semantic point, created on first use.
// It is not safe for concurrent use; the control loop owns it.
type Gate struct {
	config   GateConfig
	channels map[string]*Channel
}

// NewGate creates a gate.
func NewGate(config GateConfig) *Gate {
	return &Gate{
		config:   config,
		channels: make(map[string]*Channel),
	}
}

// SetConfig replaces thresholds and coefficients. Channels keep their state.
func (g *Gate) SetConfig(config GateConfig) {
	g.config = config
}

// Config returns the current configuration.
func (g *Gate) Config() GateConfig {
	return g.config
}

// Register creates a channel with an explicit category. Channels named
// after a pose point are registered automatically.
func (g *Gate) Register(name string, cat Category) *Channel {
	ch, ok := g.channels[name]
	if !ok {
		ch = &Channel{Name: name}
		g.channels[name] = ch
	}
	ch.Category = cat
	return ch
}

func (g *Gate) channel(name string) *Channel {
	if ch, ok := g.channels[name]; ok {
		return ch
	}
	return g.Register(name, CategoryOf(name))
}

// Channel returns a copy of a channel's state.
func (g *Gate) Channel(name string) (Channel, bool) {
	ch, ok := g.channels[name]
	if !ok {
		return Channel{}, false
	}
	return *ch, true
}

// Names returns the channel names in sorted order.
func (g *Gate) Names() []string {
	out := make([]string, 0, len(g.channels))
	for name := range g.channels {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Observe feeds one smoothed position sample for a channel and returns the
// resulting transition. Velocity is the EMA of displacement in frame
// diagonals per second. An invisible point clears the position history and
// decays the EMA toward zero.
func (g *Gate) Observe(name string, p SmoothedPoint, frameW, frameH float64, now time.Time) Edge {
	ch := g.channel(name)
	a := g.config.VelocityAlpha

	if !p.Visible() {
		ch.hasPos = false
		ch.VelocityEMA -= a * ch.VelocityEMA
		return g.step(ch, now)
	}

	if !ch.hasPos {
		ch.hasPos = true
		ch.lastX, ch.lastY, ch.lastAt = p.X, p.Y, now
		return EdgeNone
	}

	dtMs := float64(now.Sub(ch.lastAt)) / float64(time.Millisecond)
	diag := math.Hypot(frameW, frameH)
	if dtMs <= 0 || diag <= 0 {
		return EdgeNone
	}

	inst := math.Hypot(p.X-ch.lastX, p.Y-ch.lastY) / diag / dtMs * 1000
	ch.VelocityEMA += a * (inst - ch.VelocityEMA)
	ch.lastX, ch.lastY, ch.lastAt = p.X, p.Y, now

	return g.step(ch, now)
}

// ObserveAll observes every named point and returns the state of each channel.
func (g *Gate) ObserveAll(points []SmoothedPoint, frameW, frameH float64, now time.Time) map[string]State {
	out := make(map[string]State, len(points))
	for _, p := range points {
		if p.Name == "" {
			continue
		}
		edge := g.Observe(p.Name, p, frameW, frameH, now)
		ch := g.channels[p.Name]
		out[p.Name] = State{On: ch.On, Edge: edge, Velocity: ch.VelocityEMA}
	}
	return out
}

// States returns every channel's state with no edges, for ticks that reuse
// the previous estimate.
func (g *Gate) States() map[string]State {
	out := make(map[string]State, len(g.channels))
	for name, ch := range g.channels {
		out[name] = State{On: ch.On, Velocity: ch.VelocityEMA}
	}
	return out
}

// Step applies the hysteresis to an already smoothed velocity.
func (g *Gate) Step(name string, velocity float64, now time.Time) Edge {
	ch := g.channel(name)
	ch.VelocityEMA = velocity
	return g.step(ch, now)
}

func (g *Gate) step(ch *Channel, now time.Time) Edge {
	t := g.config.ThresholdsFor(ch.Category)
	v := ch.VelocityEMA

	if !ch.On {
		if v <= t.On {
			return EdgeNone
		}
		if ch.hasTrigger && now.Sub(ch.LastTrigger) < g.config.Refractory {
			ch.Suppressed++
			return EdgeNone
		}
		ch.On = true
		ch.hasTrigger = true
		ch.LastTrigger = now
		ch.Triggers++
		return EdgeRising
	}

	if v < t.Off {
		ch.On = false
		return EdgeFalling
	}
	return EdgeNone
}

// Reset drops every channel.
func (g *Gate) Reset() {
	g.channels = make(map[string]*Channel)
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
