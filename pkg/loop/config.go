package loop

import (
	"time"

	"github.com/teslashibe/go-posemusic/pkg/mapping"
	"github.com/teslashibe/go-posemusic/pkg/motion"
	"github.com/teslashibe/go-posemusic/pkg/pacing"
)

// Config holds every tunable the loop hands to its components.
type Config struct {
	Smoothing motion.SmoothingConfig
	Gate      motion.GateConfig
	Mapping   mapping.Config
	Rate      pacing.RateConfig

	// Mirrored is the render mirroring flag for sources that do not report it.
	Mirrored bool

	// PerfEvery is the number of ticks between perf reports.
	PerfEvery int
	// QualityEvery is the number of ticks between quality tuner samples.
	QualityEvery int
	// InferTimeout bounds one estimate call.
	InferTimeout time.Duration
}

// DefaultConfig returns the live-loop defaults.
func DefaultConfig() Config {
	return Config{
		Smoothing:    motion.DefaultSmoothingConfig(),
		Gate:         motion.DefaultGateConfig(),
		Mapping:      mapping.DefaultConfig(),
		Rate:         pacing.DefaultRateConfig(),
		Mirrored:     true,
		PerfEvery:    15,
		QualityEvery: 1,
		InferTimeout: time.Second,
	}
}

// Validate returns a list of problems, empty when the config is usable.
func (c Config) Validate() []string {
	var errs []string
	errs = append(errs, c.Smoothing.Validate()...)
	errs = append(errs, c.Gate.Validate()...)
	errs = append(errs, c.Mapping.Validate()...)
	if c.Rate.MinSkip < 1 || c.Rate.MaxSkip < c.Rate.MinSkip {
		errs = append(errs, "rate skip bounds must satisfy 1 <= min <= max")
	}
	if c.PerfEvery < 0 {
		errs = append(errs, "perf_every must not be negative")
	}
	if c.InferTimeout < 0 {
		errs = append(errs, "infer_timeout must not be negative")
	}
	return errs
}
