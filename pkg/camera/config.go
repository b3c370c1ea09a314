// Package camera provides runtime-configurable capture settings.
// The quality tuner moves between the resolution tiers defined here.
package camera

// Config holds the capture configuration.
// It can be changed at runtime through the Manager.
type Config struct {
	// === Resolution ===
	Width     int `json:"width"`     // Frame width in pixels
	Height    int `json:"height"`    // Frame height in pixels
	Framerate int `json:"framerate"` // Target FPS
	Quality   int `json:"quality"`   // JPEG quality 1-100

	// Mirror flips frames horizontally (selfie view). Renderers receive the
	// flag with every frame; keypoints are never flipped.
	Mirror bool `json:"mirror"`

	// Device is the capture device index or URL.
	Device string `json:"device"`
}

// Capture limits.
const (
	MinWidth     = 160
	MinHeight    = 120
	MaxWidth     = 3840
	MaxHeight    = 2160
	MaxFramerate = 120
)

// DefaultConfig returns the 720p configuration the live loop starts with.
func DefaultConfig() Config {
	return Config{
		Width:     1280,
		Height:    720,
		Framerate: 30,
		Quality:   80,
		Mirror:    true,
		Device:    "0",
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.Width < MinWidth || c.Width > MaxWidth {
		errors = append(errors, "width must be between 160 and 3840")
	}
	if c.Height < MinHeight || c.Height > MaxHeight {
		errors = append(errors, "height must be between 120 and 2160")
	}
	if c.Framerate < 1 || c.Framerate > MaxFramerate {
		errors = append(errors, "framerate must be between 1 and 120")
	}
	if c.Quality < 1 || c.Quality > 100 {
		errors = append(errors, "quality must be between 1 and 100")
	}

	return errors
}

// SameResolution reports whether two configs capture the same frame size.
func (c Config) SameResolution(o Config) bool {
	return c.Width == o.Width && c.Height == o.Height
}

// Pixels returns the frame area.
func (c Config) Pixels() int {
	return c.Width * c.Height
}
