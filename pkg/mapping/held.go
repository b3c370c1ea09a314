package mapping

import (
	"sort"
	"time"
)

// HeldNote is a sounding note waiting for its note-off.
type HeldNote struct {
	Pitch    int           `json:"pitch"`
	Velocity float64       `json:"velocity"`
	Start    time.Time     `json:"start"`
	Hold     time.Duration `json:"hold"`
}

// Expired reports whether the hold has run out at now.
func (n HeldNote) Expired(now time.Time) bool {
	return now.Sub(n.Start) >= n.Hold
}

// HeldNotes is the registry of sounding notes, at most one per pitch.
type HeldNotes struct {
	notes map[int]HeldNote
}

// NewHeldNotes creates an empty registry.
func NewHeldNotes() *HeldNotes {
	return &HeldNotes{notes: make(map[int]HeldNote)}
}

// Add registers n, replacing any note already held at the same pitch.
// It reports whether a note was replaced.
func (h *HeldNotes) Add(n HeldNote) bool {
	_, replaced := h.notes[n.Pitch]
	h.notes[n.Pitch] = n
	return replaced
}

// Remove drops the note at pitch and reports whether one was held.
func (h *HeldNotes) Remove(pitch int) bool {
	_, ok := h.notes[pitch]
	delete(h.notes, pitch)
	return ok
}

// Has reports whether pitch is held.
func (h *HeldNotes) Has(pitch int) bool {
	_, ok := h.notes[pitch]
	return ok
}

// Len returns the number of held notes.
func (h *HeldNotes) Len() int {
	return len(h.notes)
}

// Expire removes and returns every note whose hold has run out, by pitch.
func (h *HeldNotes) Expire(now time.Time) []HeldNote {
	var out []HeldNote
	for pitch, n := range h.notes {
		if n.Expired(now) {
			out = append(out, n)
			delete(h.notes, pitch)
		}
	}
	sortByPitch(out)
	return out
}

// All returns the held notes by pitch.
func (h *HeldNotes) All() []HeldNote {
	out := make([]HeldNote, 0, len(h.notes))
	for _, n := range h.notes {
		out = append(out, n)
	}
	sortByPitch(out)
	return out
}

// Clear removes and returns every held note by pitch.
func (h *HeldNotes) Clear() []HeldNote {
	out := h.All()
	h.notes = make(map[int]HeldNote)
	return out
}

func sortByPitch(notes []HeldNote) {
	sort.Slice(notes, func(i, j int) bool { return notes[i].Pitch < notes[j].Pitch })
}
