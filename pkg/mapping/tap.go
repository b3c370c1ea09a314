package mapping

import (
	"sort"
	"time"
)

// Tap tempo bounds.
const (
	MinBPM  = 50
	MaxBPM  = 200
	maxTaps = 5
	minTaps = 3
)

// TapTempo derives a tempo from a rolling window of tap times.
type TapTempo struct {
	resetGap time.Duration
	taps     []time.Time
}

// NewTapTempo creates a detector that forgets its taps after a pause
// longer than resetGap.
func NewTapTempo(resetGap time.Duration) *TapTempo {
	return &TapTempo{resetGap: resetGap}
}

// Tap records a tap and returns the tempo once at least three taps are
// buffered: 60000 / median inter-tap milliseconds, clamped to 50-200 BPM.
func (t *TapTempo) Tap(now time.Time) (float64, bool) {
	if n := len(t.taps); n > 0 && t.resetGap > 0 && now.Sub(t.taps[n-1]) > t.resetGap {
		t.taps = t.taps[:0]
	}
	t.taps = append(t.taps, now)
	if len(t.taps) > maxTaps {
		t.taps = t.taps[len(t.taps)-maxTaps:]
	}
	if len(t.taps) < minTaps {
		return 0, false
	}

	intervals := make([]float64, 0, len(t.taps)-1)
	for i := 1; i < len(t.taps); i++ {
		intervals = append(intervals, float64(t.taps[i].Sub(t.taps[i-1]))/float64(time.Millisecond))
	}
	m := median(intervals)
	if m <= 0 {
		return 0, false
	}
	return clamp(60000/m, MinBPM, MaxBPM), true
}

// Count returns the buffered tap count.
func (t *TapTempo) Count() int {
	return len(t.taps)
}

// median of an even count is the mean of the two middle values.
func median(v []float64) float64 {
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	n := len(s)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
