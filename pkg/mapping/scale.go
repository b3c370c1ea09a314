package mapping

import (
	"math"
	"sort"
)

// Pitch bounds every quantized note is kept within.
const (
	MinPitch = 24
	MaxPitch = 108

	// quantizeSpan bounds the input so octave arithmetic cannot overflow.
	quantizeSpan = 1 << 20
)

// DefaultScale is used for unknown scale names.
const DefaultScale = "pentatonic"

var scales = map[string][]int{
	"major":            {0, 2, 4, 5, 7, 9, 11},
	"minor":            {0, 2, 3, 5, 7, 8, 10},
	"pentatonic":       {0, 2, 4, 7, 9},
	"minor-pentatonic": {0, 3, 5, 7, 10},
	"blues":            {0, 3, 5, 6, 7, 10},
	"dorian":           {0, 2, 3, 5, 7, 9, 10},
	"chromatic":        {0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
}

// Scale returns the semitone offsets for a scale name and whether the name
// was known. Unknown names return DefaultScale.
func Scale(name string) ([]int, bool) {
	s, ok := scales[name]
	if !ok {
		s = scales[DefaultScale]
	}
	out := make([]int, len(s))
	copy(out, s)
	return out, ok
}

// ScaleNames returns every known scale name, sorted.
func ScaleNames() []string {
	out := make([]string, 0, len(scales))
	for name := range scales {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Quantize snaps a fractional MIDI pitch to the nearest degree of scale
// rooted at base. Candidates are taken from the octave containing midi and
// the octaves either side; the nearest wins and a tie goes to the lower
// candidate. The result is moved by octaves into [MinPitch, MaxPitch].
// An empty scale is treated as chromatic.
func Quantize(midi float64, scale []int, base int) int {
	degrees := normalizeDegrees(scale)
	if math.IsNaN(midi) {
		midi = float64(base)
	}
	midi = clamp(midi, -quantizeSpan, quantizeSpan)

	oct := int(math.Floor((midi - float64(base)) / 12))
	best, bestDist := base, math.Inf(1)
	for o := oct - 1; o <= oct+1; o++ {
		for _, d := range degrees {
			c := base + 12*o + d
			if dist := math.Abs(midi - float64(c)); dist < bestDist {
				best, bestDist = c, dist
			}
		}
	}

	if best < MinPitch {
		best += 12 * ((MinPitch - best + 11) / 12)
	}
	if best > MaxPitch {
		best -= 12 * ((best - MaxPitch + 11) / 12)
	}
	return best
}

// normalizeDegrees folds offsets into 0-11, sorted and deduplicated, so
// candidates are visited in ascending order.
func normalizeDegrees(scale []int) []int {
	if len(scale) == 0 {
		return scales["chromatic"]
	}
	seen := make(map[int]bool, len(scale))
	out := make([]int, 0, len(scale))
	for _, d := range scale {
		d = ((d % 12) + 12) % 12
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Ints(out)
	return out
}
