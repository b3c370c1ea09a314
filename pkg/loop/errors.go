package loop

import "errors"

var (
	// ErrMissingDependency is returned by New when a required collaborator is nil.
	ErrMissingDependency = errors.New("loop: missing dependency")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("loop: already started")

	// ErrStopped is returned when configuring a stopped loop.
	ErrStopped = errors.New("loop: stopped")

	// ErrNoQualityTuner is returned by SetTier when the loop has no tuner.
	ErrNoQualityTuner = errors.New("loop: no quality tuner")

	// ErrUnknownTier is returned by SetTier for a tier the tuner lacks.
	ErrUnknownTier = errors.New("loop: unknown capture tier")
)
