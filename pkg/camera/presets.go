package camera

import "fmt"

// Tier names, lowest first.
const (
	PresetLow   = "low"
	Preset720p  = "720p"
	Preset1080p = "1080p"
)

// Tier is a named capture resolution the quality tuner can select.
type Tier struct {
	Name   string `json:"name"`
	Config Config `json:"config"`
}

// String returns the tier name and size.
func (t Tier) String() string {
	return fmt.Sprintf("%s (%dx%d)", t.Name, t.Config.Width, t.Config.Height)
}

// Tiers returns the quality tiers, lowest first.
func Tiers() []Tier {
	return []Tier{
		{Name: PresetLow, Config: sized(640, 480)},     // pose models run at 192-256px anyway
		{Name: Preset720p, Config: sized(1280, 720)},   // default
		{Name: Preset1080p, Config: sized(1920, 1080)}, // sharpest overlay, highest decode cost
	}
}

// TierIndex returns the position of a tier name in tiers, or -1.
func TierIndex(tiers []Tier, name string) int {
	for i, t := range tiers {
		if t.Name == name {
			return i
		}
	}
	return -1
}

func sized(w, h int) Config {
	cfg := DefaultConfig()
	cfg.Width = w
	cfg.Height = h
	return cfg
}
