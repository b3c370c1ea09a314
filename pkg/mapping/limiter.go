package mapping

import (
	"math"
	"sort"
	"time"
)

// unchangedEpsilon is the smallest change worth sending.
const unchangedEpsilon = 1e-4

// Limiter spaces continuous control commands per key and drops values that
// did not change. A value that arrives too early is parked and sent by Flush
// once the spacing has elapsed, so the final position is never lost.
type Limiter struct {
	spacing time.Duration
	sent    map[string]limitEntry
	pending map[string]Command
}

type limitEntry struct {
	at    time.Time
	value float64
}

// NewLimiter creates a limiter with the given minimum spacing.
func NewLimiter(spacing time.Duration) *Limiter {
	return &Limiter{
		spacing: spacing,
		sent:    make(map[string]limitEntry),
		pending: make(map[string]Command),
	}
}

// SetSpacing changes the minimum spacing.
func (l *Limiter) SetSpacing(spacing time.Duration) {
	l.spacing = spacing
}

func limitKey(cmd Command) (string, float64) {
	if cmd.Kind == KindPitchBend {
		return "pitch_bend", cmd.Semitones
	}
	return "param:" + cmd.Name, cmd.Value
}

// Offer reports whether cmd may be sent now.
func (l *Limiter) Offer(cmd Command, now time.Time) bool {
	key, value := limitKey(cmd)
	last, ok := l.sent[key]

	if ok && math.Abs(value-last.value) < unchangedEpsilon {
		delete(l.pending, key)
		return false
	}
	if ok && now.Sub(last.at) < l.spacing {
		l.pending[key] = cmd
		return false
	}

	delete(l.pending, key)
	l.sent[key] = limitEntry{at: now, value: value}
	return true
}

// Flush returns parked commands whose spacing has elapsed, ordered by key.
func (l *Limiter) Flush(now time.Time) []Command {
	if len(l.pending) == 0 {
		return nil
	}
	keys := make([]string, 0, len(l.pending))
	for key := range l.pending {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var out []Command
	for _, key := range keys {
		cmd := l.pending[key]
		if now.Sub(l.sent[key].at) < l.spacing {
			continue
		}
		_, value := limitKey(cmd)
		l.sent[key] = limitEntry{at: now, value: value}
		delete(l.pending, key)
		out = append(out, cmd)
	}
	return out
}

// Force records cmd as sent, bypassing spacing, and drops anything parked for it.
func (l *Limiter) Force(cmd Command, now time.Time) {
	key, value := limitKey(cmd)
	l.sent[key] = limitEntry{at: now, value: value}
	delete(l.pending, key)
}

// DropPending discards every parked command.
func (l *Limiter) DropPending() {
	clear(l.pending)
}
